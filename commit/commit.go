// Package commit computes and verifies hashlock commitments. A single raw
// secret is committed under each ledger's native digest algorithm, so
// revealing the secret on one ledger unlocks the HTLCs on all others no
// matter which digest each of them published.
package commit

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// SecretSize is the required length of a raw swap secret in bytes.
const SecretSize = 32

// Algorithm identifiers understood by the codec. Each ledger adapter
// advertises one of these.
const (
	SHA256    = "sha256"
	Keccak256 = "keccak256"
)

// ErrUnsupportedAlgorithm is returned when a ledger requests a digest
// algorithm the codec does not implement.
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// ErrBadSecretSize is returned for secrets that are not exactly
// SecretSize bytes.
var ErrBadSecretSize = errors.New("secret must be 32 bytes")

var digests = map[string]func([]byte) []byte{
	SHA256: func(secret []byte) []byte {
		sum := sha256.Sum256(secret)
		return sum[:]
	},
	Keccak256: func(secret []byte) []byte {
		return ethcrypto.Keccak256(secret)
	},
}

// Supported reports whether the codec implements the given algorithm.
func Supported(algorithm string) bool {
	_, ok := digests[algorithm]
	return ok
}

// Commit returns the hashlock digest of secret under the given algorithm.
func Commit(secret []byte, algorithm string) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, ErrBadSecretSize
	}

	digest, ok := digests[algorithm]
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedAlgorithm, algorithm)
	}

	return digest(secret), nil
}

// Verify reports whether secret commits to hashlock under the given
// algorithm. Unknown algorithms and malformed secrets never verify.
func Verify(secret []byte, hashlock []byte, algorithm string) bool {
	got, err := Commit(secret, algorithm)
	if err != nil {
		return false
	}

	return bytes.Equal(got, hashlock)
}

// NewSecret draws a fresh random swap secret.
func NewSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "read random secret")
	}

	return secret, nil
}
