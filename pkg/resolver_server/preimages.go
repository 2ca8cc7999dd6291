package resolver_server

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/manus-ai/secret-resolver/pkg/types"
)

// SecretStore looks up the preimage of a secrethash.
type SecretStore interface {
	Lookup(secrethash common.Hash) ([]byte, bool)
}

// PreimageTable is a static SecretStore keyed by one hash algorithm. It is
// never modified after construction.
type PreimageTable struct {
	algorithm types.HashAlgorithm
	preimages map[common.Hash][]byte
}

// NewPreimageTable keys every preimage by its hash under algorithm.
func NewPreimageTable(algorithm types.HashAlgorithm, preimages ...[]byte) *PreimageTable {
	table := &PreimageTable{
		algorithm: algorithm,
		preimages: make(map[common.Hash][]byte, len(preimages)),
	}
	for _, preimage := range preimages {
		table.preimages[algorithm.Hash(preimage)] = common.CopyBytes(preimage)
	}
	return table
}

// Lookup returns the preimage registered for secrethash.
func (t *PreimageTable) Lookup(secrethash common.Hash) ([]byte, bool) {
	preimage, ok := t.preimages[secrethash]
	if !ok {
		return nil, false
	}
	return common.CopyBytes(preimage), true
}

// Algorithm returns the algorithm the table is keyed by.
func (t *PreimageTable) Algorithm() types.HashAlgorithm {
	return t.algorithm
}

// Len returns the number of preimages in the table.
func (t *PreimageTable) Len() int {
	return len(t.preimages)
}
