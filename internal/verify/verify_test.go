package verify

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mbd888/solmarket/internal/quanta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pubkeyFromPriv(t *testing.T, priv []byte) quanta.Pubkey {
	t.Helper()
	key, err := crypto.ToECDSA(priv)
	require.NoError(t, err)
	addrHash := crypto.Keccak256(crypto.FromECDSAPub(&key.PublicKey)[1:])
	var pk quanta.Pubkey
	copy(pk[:], addrHash)
	return pk
}

func TestECDSAVerifierRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	privBytes := crypto.FromECDSA(priv)
	pubkey := pubkeyFromPriv(t, privBytes)

	listingID := quanta.Pubkey{1}
	txKey := quanta.Pubkey{2}
	vhash := []byte("sha256-of-asset")
	msg := Message(listingID, txKey, vhash)

	digest := hashMessage(msg)
	sig, err := crypto.Sign(digest, priv)
	require.NoError(t, err)

	v := NewECDSAVerifier()
	assert.True(t, v.Verify(pubkey, msg, sig))

	// Tampered message must fail.
	assert.False(t, v.Verify(pubkey, Message(listingID, txKey, []byte("other")), sig))

	// Wrong-length signature must fail, not panic.
	assert.False(t, v.Verify(pubkey, msg, sig[:10]))
}
