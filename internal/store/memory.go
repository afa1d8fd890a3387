package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Memory is an in-process Store keeping JSON documents in maps. It backs
// tests and dry runs; the postgres store is the durable implementation.
type Memory struct {
	docs  map[string]map[string]json.RawMessage
	state map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]map[string]json.RawMessage),
		state: make(map[string]uint64),
	}
}

func (m *Memory) Get(_ context.Context, kind, id string, out any) (bool, error) {
	doc, ok := m.docs[kind][id]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, kind, id string, record any) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	if m.docs[kind] == nil {
		m.docs[kind] = make(map[string]json.RawMessage)
	}
	m.docs[kind][id] = doc
	return nil
}

func (m *Memory) SetBatch(ctx context.Context, kind string, records map[string]any) error {
	for id, record := range records {
		if err := m.Set(ctx, kind, id, record); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, kind, id string) error {
	delete(m.docs[kind], id)
	return nil
}

func (m *Memory) Query(_ context.Context, kind, field, value string, page Page, out any) error {
	ids := make([]string, 0, len(m.docs[kind]))
	for id, doc := range m.docs[kind] {
		match, err := fieldMatches(doc, field, value)
		if err != nil {
			return fmt.Errorf("match %s/%s: %w", kind, id, err)
		}
		if match {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if page.Offset > len(ids) {
		ids = nil
	} else {
		ids = ids[page.Offset:]
	}
	if page.Limit > 0 && len(ids) > page.Limit {
		ids = ids[:page.Limit]
	}

	docs := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, m.docs[kind][id])
	}
	return decodeDocs(docs, out)
}

func (m *Memory) LoadState(_ context.Context, name string) (uint64, bool, error) {
	v, ok := m.state[name]
	return v, ok, nil
}

func (m *Memory) SaveState(_ context.Context, name string, value uint64) error {
	m.state[name] = value
	return nil
}

// Count returns the number of documents of a kind. Test helper.
func (m *Memory) Count(kind string) int {
	return len(m.docs[kind])
}

// fieldMatches compares the JSON text of a top-level field to value, the
// same contract as the postgres store's doc->>field comparison.
func fieldMatches(doc json.RawMessage, field, value string) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false, err
	}
	raw, ok := fields[field]
	if !ok {
		return false, nil
	}
	text := strings.Trim(string(raw), `"`)
	return text == value, nil
}
