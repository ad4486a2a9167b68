package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AccountMap is an ordered account-id → record mapping. Iteration follows
// the order accounts were first inserted (or appeared in the persisted
// snapshot), which the account selector depends on.
type AccountMap struct {
	records map[string]AccountRecord
	order   []string
}

// NewAccountMap returns an empty map.
func NewAccountMap() *AccountMap {
	return &AccountMap{records: map[string]AccountRecord{}}
}

// Get returns the record for an id and whether it exists.
func (m *AccountMap) Get(id string) (AccountRecord, bool) {
	if m == nil || m.records == nil {
		return AccountRecord{}, false
	}
	rec, ok := m.records[id]
	return rec, ok
}

// Put inserts or replaces a record. New ids append to the iteration order.
func (m *AccountMap) Put(id string, rec AccountRecord) {
	if m.records == nil {
		m.records = map[string]AccountRecord{}
	}
	if _, exists := m.records[id]; !exists {
		m.order = append(m.order, id)
	}
	m.records[id] = rec
}

// Delete removes a record and its order entry.
func (m *AccountMap) Delete(id string) {
	if m == nil || m.records == nil {
		return
	}
	if _, exists := m.records[id]; !exists {
		return
	}
	delete(m.records, id)
	for i, k := range m.order {
		if k == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of accounts.
func (m *AccountMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.records)
}

// IDs returns account ids in insertion order.
func (m *AccountMap) IDs() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// MarshalJSON writes the accounts as a JSON object in insertion order.
func (m *AccountMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.records[id])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving key order.
func (m *AccountMap) UnmarshalJSON(data []byte) error {
	m.records = map[string]AccountRecord{}
	m.order = nil

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("accounts: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("accounts: expected string key, got %v", keyTok)
		}
		var rec AccountRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("accounts: decode record %q: %w", id, err)
		}
		m.Put(id, rec)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
