package state

import (
	"encoding/binary"
	"fmt"
)

// Index sets keep one record per member so membership, insertion and removal
// touch a constant number of keys. Layout under a set key K:
//
//	K‖"#n"          member count
//	K‖"#s"‖slot     member stored at slot (0-based)
//	K‖"#m"‖member   slot+1 of the member
//
// Removal moves the last member into the freed slot, so enumeration order is
// insertion order until the first removal.

func setCountKey(key []byte) []byte { return joinKey(key, []byte("#n")) }

func setSlotKey(key []byte, slot uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], slot)
	return joinKey(key, []byte("#s"), buf[:])
}

func setMemberKey(key, member []byte) []byte { return joinKey(key, []byte("#m"), member) }

func joinKey(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func validSetArgs(key, member []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if len(member) == 0 {
		return fmt.Errorf("kv: set member must not be empty")
	}
	return nil
}

// SetLen returns the number of members of the set stored under key.
func (m *Manager) SetLen(key []byte) (uint64, error) {
	if len(key) == 0 {
		return 0, fmt.Errorf("kv: key must not be empty")
	}
	var n uint64
	if _, err := m.KVGet(setCountKey(key), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// SetHas reports whether member belongs to the set stored under key.
func (m *Manager) SetHas(key, member []byte) (bool, error) {
	if err := validSetArgs(key, member); err != nil {
		return false, err
	}
	return m.KVGet(setMemberKey(key, member), nil)
}

// SetAdd inserts member. It reports false when member was already present.
func (m *Manager) SetAdd(key, member []byte) (bool, error) {
	if err := validSetArgs(key, member); err != nil {
		return false, err
	}
	present, err := m.SetHas(key, member)
	if err != nil || present {
		return false, err
	}
	n, err := m.SetLen(key)
	if err != nil {
		return false, err
	}
	if err := m.KVPut(setSlotKey(key, n), member); err != nil {
		return false, err
	}
	if err := m.KVPut(setMemberKey(key, member), n+1); err != nil {
		return false, err
	}
	return true, m.KVPut(setCountKey(key), n+1)
}

// SetRemove deletes member. It reports false when member was absent.
func (m *Manager) SetRemove(key, member []byte) (bool, error) {
	if err := validSetArgs(key, member); err != nil {
		return false, err
	}
	var pos uint64
	ok, err := m.KVGet(setMemberKey(key, member), &pos)
	if err != nil || !ok {
		return false, err
	}
	n, err := m.SetLen(key)
	if err != nil {
		return false, err
	}
	if pos == 0 || pos > n {
		return false, fmt.Errorf("kv: corrupt set index for %x", key)
	}
	last := n - 1
	if slot := pos - 1; slot != last {
		var moved []byte
		if _, err := m.KVGet(setSlotKey(key, last), &moved); err != nil {
			return false, err
		}
		if err := m.KVPut(setSlotKey(key, slot), moved); err != nil {
			return false, err
		}
		if err := m.KVPut(setMemberKey(key, moved), pos); err != nil {
			return false, err
		}
	}
	if err := m.KVDelete(setSlotKey(key, last)); err != nil {
		return false, err
	}
	if err := m.KVDelete(setMemberKey(key, member)); err != nil {
		return false, err
	}
	if last == 0 {
		return true, m.KVDelete(setCountKey(key))
	}
	return true, m.KVPut(setCountKey(key), last)
}

// SetMembers returns every member in slot order.
func (m *Manager) SetMembers(key []byte) ([][]byte, error) {
	n, err := m.SetLen(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for slot := uint64(0); slot < n; slot++ {
		var member []byte
		ok, err := m.KVGet(setSlotKey(key, slot), &member)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("kv: missing set slot %d for %x", slot, key)
		}
		out = append(out, member)
	}
	return out, nil
}
