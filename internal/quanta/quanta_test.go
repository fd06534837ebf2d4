package quanta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddCheckedOverflow(t *testing.T) {
	_, err := AddChecked(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrOverflow)

	sum, err := AddChecked(5, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), sum)
}

func TestSubCheckedUnderflow(t *testing.T) {
	_, err := SubChecked(5, 7)
	require.ErrorIs(t, err, ErrUnderflow)

	diff, err := SubChecked(7, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), diff)
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAdd(math.MaxUint64, 1))
	assert.Equal(t, uint64(12), SaturatingAdd(5, 7))
}

func TestBPS(t *testing.T) {
	// platform_fee_bps=500 (5%) on 2_000_000_000 quanta => 100_000_000
	fee, err := BPS(2_000_000_000, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000_000), fee)

	// dispute_fee_bps=200 on 1_200_000_000 => 24_000_000
	fee, err = BPS(1_200_000_000, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(24_000_000), fee)
}

func TestDerivePDADeterministic(t *testing.T) {
	seeds := [][]byte{[]byte("listing"), []byte("seller-key"), LEBytes64(7)}
	k1, b1 := DerivePDA(seeds...)
	k2, b2 := DerivePDA(seeds...)
	assert.Equal(t, k1, k2)
	assert.Equal(t, b1, b2)

	other, _ := DerivePDA([]byte("listing"), []byte("seller-key"), LEBytes64(8))
	assert.NotEqual(t, k1, other)
}

func TestLEBytes64RoundTrip(t *testing.T) {
	b := LEBytes64(0x0102030405060708)
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, b)
}
