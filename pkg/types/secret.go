package types

import (
	"crypto/sha256"
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashAlgorithm identifies the hash function that locks a payment.
type HashAlgorithm uint8

const (
	HashAlgoKeccak256 HashAlgorithm = iota + 1
	HashAlgoSHA256
)

// Keccak256 is the network's native lock hash and is tried first.
var verificationOrder = []HashAlgorithm{HashAlgoKeccak256, HashAlgoSHA256}

func (a HashAlgorithm) String() string {
	switch a {
	case HashAlgoKeccak256:
		return "keccak256"
	case HashAlgoSHA256:
		return "sha256"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseHashAlgorithm parses a configuration value such as "sha256" or "keccak256".
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keccak256", "keccak", "sha3":
		return HashAlgoKeccak256, nil
	case "sha256":
		return HashAlgoSHA256, nil
	default:
		return 0, fmt.Errorf("unknown hash algorithm %q", s)
	}
}

// Hash applies the algorithm to data.
func (a HashAlgorithm) Hash(data []byte) common.Hash {
	switch a {
	case HashAlgoKeccak256:
		return crypto.Keccak256Hash(data)
	case HashAlgoSHA256:
		return common.Hash(sha256.Sum256(data))
	default:
		panic(fmt.Sprintf("hash with unsupported algorithm %s", a))
	}
}

// VerifySecret reports which supported algorithm hashes secret to secrethash.
func VerifySecret(secret []byte, secrethash common.Hash) (HashAlgorithm, error) {
	for _, algo := range verificationOrder {
		if algo.Hash(secret) == secrethash {
			return algo, nil
		}
	}
	return 0, errorsmod.Wrapf(ErrSecretMismatch, "secrethash %s", secrethash.Hex())
}

// VerifiedSecretReveal is a secret that has been checked against its
// secrethash. The only way to obtain one is NewVerifiedSecretReveal.
type VerifiedSecretReveal struct {
	secret         []byte
	secrethash     common.Hash
	revealingParty common.Address
	algorithm      HashAlgorithm
}

// NewVerifiedSecretReveal verifies secret against secrethash and, on success,
// returns the reveal attributed to revealingParty.
func NewVerifiedSecretReveal(secret []byte, secrethash common.Hash, revealingParty common.Address) (VerifiedSecretReveal, error) {
	algo, err := VerifySecret(secret, secrethash)
	if err != nil {
		return VerifiedSecretReveal{}, err
	}

	return VerifiedSecretReveal{
		secret:         common.CopyBytes(secret),
		secrethash:     secrethash,
		revealingParty: revealingParty,
		algorithm:      algo,
	}, nil
}

func (r VerifiedSecretReveal) Secret() []byte { return common.CopyBytes(r.secret) }
func (r VerifiedSecretReveal) SecretHash() common.Hash { return r.secrethash }
func (r VerifiedSecretReveal) RevealingParty() common.Address { return r.revealingParty }
func (r VerifiedSecretReveal) Algorithm() HashAlgorithm { return r.algorithm }
