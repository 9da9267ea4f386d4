package trie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
)

// Trie is an in-memory Merkle Patricia commitment over the market records.
// Nodes never reach disk; the record store is the source of truth and the
// trie is rebuilt from it with Rebuild. Keys are keccak hashes.
//
// Not safe for concurrent use.
type Trie struct {
	inner *gethtrie.Trie
}

// New returns an empty trie whose root is types.EmptyRootHash.
func New() *Trie {
	nodes := triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil)
	return &Trie{inner: gethtrie.NewEmpty(nodes)}
}

// Rebuild replays every record yielded by walk into a fresh trie.
func Rebuild(walk func(visit func(key, value []byte) error) error) (*Trie, error) {
	t := New()
	if err := walk(t.Update); err != nil {
		return nil, fmt.Errorf("trie: rebuild: %w", err)
	}
	return t, nil
}

// Copy returns an independent trie with the same contents.
func (t *Trie) Copy() *Trie {
	return &Trie{inner: t.inner.Copy()}
}

// Get returns the value stored under key, or nil.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.inner.Get(key)
}

// Update writes value under key. An empty value deletes the key.
func (t *Trie) Update(key, value []byte) error {
	if len(value) == 0 {
		return t.inner.Delete(key)
	}
	return t.inner.Update(key, value)
}

// Hash is the current state root.
func (t *Trie) Hash() common.Hash {
	return t.inner.Hash()
}
