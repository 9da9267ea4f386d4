package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"dropmarket/storage"
	"dropmarket/storage/trie"
)

var (
	// ErrNoTransaction is returned when a mutation is attempted outside Begin/Commit.
	ErrNoTransaction = errors.New("state: no active transaction")
	// ErrTransactionActive is returned when Begin is called twice.
	ErrTransactionActive = errors.New("state: transaction already active")
)

// Manager provides journaled access to the market state. All mutations are
// staged in memory between Begin and Commit; Revert discards them so a failed
// operation never leaves a partial write behind. Committed writes are flushed
// to the backing database in a single batch and mirrored into a trie whose
// root commits to the entire keyspace.
//
// Manager is not safe for concurrent use; callers serialise access.
type Manager struct {
	db      storage.Database
	trie    *trie.Trie
	pending map[string][]byte
	active  bool
}

// NewManager creates a state manager over the provided database, rebuilding
// the commitment trie from the persisted records.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	tr, err := trie.Rebuild(db.Iterate)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	return &Manager{db: db, trie: tr}, nil
}

// Begin opens a transaction.
func (m *Manager) Begin() error {
	if m.active {
		return ErrTransactionActive
	}
	m.active = true
	m.pending = make(map[string][]byte)
	return nil
}

// InTransaction reports whether Begin has been called without Commit/Revert.
func (m *Manager) InTransaction() bool { return m.active }

// Commit flushes the staged writes atomically and updates the state root.
// The root only moves once the batch is durable.
func (m *Manager) Commit() error {
	if !m.active {
		return ErrNoTransaction
	}
	keys := make([]string, 0, len(m.pending))
	for key := range m.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	next := m.trie.Copy()
	for _, key := range keys {
		if err := next.Update([]byte(key), m.pending[key]); err != nil {
			m.Revert()
			return fmt.Errorf("state: update trie: %w", err)
		}
	}
	batch := m.db.NewBatch()
	for _, key := range keys {
		value := m.pending[key]
		if value == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			m.Revert()
			return fmt.Errorf("state: commit: %w", err)
		}
	}
	m.trie = next
	m.pending = nil
	m.active = false
	return nil
}

// Revert discards every write staged since Begin.
func (m *Manager) Revert() {
	m.pending = nil
	m.active = false
}

// Root returns the commitment over all committed records. Staged writes are
// not reflected until Commit.
func (m *Manager) Root() common.Hash {
	return m.trie.Hash()
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if m.active {
		if value, ok := m.pending[string(hashed)]; ok {
			return value, nil
		}
	}
	value, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) write(hashed []byte, value []byte) error {
	if !m.active {
		return ErrNoTransaction
	}
	m.pending[string(hashed)] = value
	return nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256 to match the layout of the
// commitment trie.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.write(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key. Deleting a missing key is a no-op.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.write(kvKey(key), nil)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVRemove drops value from the list stored under key. The key is deleted once
// the list becomes empty.
func (m *Manager) KVRemove(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	kept := list[:0]
	for _, existing := range list {
		if !bytes.Equal(existing, value) {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, kept)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// NextSequence increments the counter stored under key and returns the new
// value. The first call returns 1.
func (m *Manager) NextSequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := m.KVPut(key, current); err != nil {
		return 0, err
	}
	return current, nil
}

// Sequence returns the current value of the counter stored under key.
func (m *Manager) Sequence(key []byte) (uint64, error) {
	var current uint64
	if _, err := m.KVGet(key, &current); err != nil {
		return 0, err
	}
	return current, nil
}
