// Package verify checks the backend authority's signature over a
// verification record, using the same secp256k1 recovery primitive the
// teacher uses for session-key signature verification.
package verify

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mbd888/solmarket/internal/quanta"
)

// Message builds the canonical byte string the backend authority signs to
// attest that a listing's off-chain transfer was verified: the listing id,
// the transaction's transaction id, and the verification hash it computed
// over the transferred asset.
func Message(listingID, txKey quanta.Pubkey, verificationHash []byte) []byte {
	var buf bytes.Buffer
	buf.Write(listingID[:])
	buf.Write(txKey[:])
	buf.Write(verificationHash)
	return buf.Bytes()
}

func hashMessage(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Marketplace Signed Message:\n%d", len(message))
	return crypto.Keccak256(append([]byte(prefix), message...))
}

// ECDSAVerifier implements runtime.BackendVerifier over secp256k1 ECDSA
// signatures in the 65-byte (r||s||v) layout go-ethereum's Ecrecover expects.
type ECDSAVerifier struct{}

// NewECDSAVerifier returns a BackendVerifier backed by go-ethereum/crypto.
func NewECDSAVerifier() *ECDSAVerifier { return &ECDSAVerifier{} }

// Verify reports whether signature is a valid 65-byte secp256k1 signature
// over message, recoverable to a public key whose uncompressed encoding's
// keccak256 low 32 bytes equal pubkey.
func (ECDSAVerifier) Verify(pubkey quanta.Pubkey, message, signature []byte) bool {
	if len(signature) != 65 {
		return false
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest := hashMessage(message)
	recovered, err := crypto.Ecrecover(digest, sig)
	if err != nil {
		return false
	}

	addrHash := crypto.Keccak256(recovered[1:])
	var recoveredKey quanta.Pubkey
	copy(recoveredKey[:], addrHash)
	return bytes.Equal(recoveredKey[:], pubkey[:])
}
