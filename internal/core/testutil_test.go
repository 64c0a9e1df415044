package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// mapStore is an in-memory Store that counts writes.
type mapStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	sets    int
	failSet error
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.sets++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *mapStore) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// fakeTarget records upserts. failures[key] makes the next n upserts for
// that conflict value fail.
type fakeTarget struct {
	mu        sync.Mutex
	calls     []map[string]any
	failures  map[string]int
	alwaysErr error
	onUpsert  func(ctx context.Context, n int) error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{failures: make(map[string]int)}
}

func (f *fakeTarget) Upsert(ctx context.Context, table, conflictKey string, payload map[string]any) error {
	f.mu.Lock()
	f.calls = append(f.calls, payload)
	n := len(f.calls)
	key := fmt.Sprint(payload[conflictKey])
	fail := f.failures[key] > 0
	if fail {
		f.failures[key]--
	}
	hook := f.onUpsert
	alwaysErr := f.alwaysErr
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, n); err != nil {
			return err
		}
	}
	if alwaysErr != nil {
		return alwaysErr
	}
	if fail {
		return errors.New("upsert rejected: status 503: unavailable")
	}
	return nil
}

func (f *fakeTarget) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTarget) keys(field string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = fmt.Sprint(c[field])
	}
	return out
}

// fakeRefs serves one reference table.
type fakeRefs struct {
	mu    sync.Mutex
	data  map[string]string
	err     error
	calls   int
	onFetch func()
}

func (f *fakeRefs) FetchReference(_ context.Context, table, matchColumn, valueColumn string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

// activeTypes maps import types to the ID of their running import.
type activeTypes map[string]string

func (a activeTypes) ActiveRun(importType string) (string, bool) {
	id, ok := a[importType]
	return id, ok
}

func floatPtr(v float64) *float64 { return &v }

// stockDefinition mirrors the inventory import without the payload
// normalisation done in the tables package.
func stockDefinition() Definition {
	def := Definition{
		Key:         "stock",
		Label:       "Stock",
		Table:       "products",
		ConflictKey: "sku",
		Fields: []FieldSpec{
			{Name: "sku", Required: true, RequiredMessage: "SKU wajib diisi"},
			{Name: "name", Required: true, RequiredMessage: "Nama produk wajib diisi"},
			{Name: "stock_quantity", Type: FieldNumeric, InvalidMessage: "Stok harus angka"},
			{Name: "price", Type: FieldNumeric, InvalidMessage: "Harga harus angka"},
		},
		KeyFields:       []string{"sku", "name"},
		IdentifierField: "sku",
		SuccessMessage: func(row ImportRow) string {
			return "Produk " + row.Field("sku") + " berhasil disimpan"
		},
	}
	def.BuildPayload = DefaultPayload(def)
	return def
}

// stockRows returns n valid rows with SKUs S1..Sn.
func stockRows(n int) []ImportRow {
	rows := make([]ImportRow, n)
	for i := range rows {
		rows[i] = ImportRow{
			Row: i + 2,
			Fields: map[string]string{
				"sku":            fmt.Sprintf("S%d", i+1),
				"name":           fmt.Sprintf("Item %d", i+1),
				"stock_quantity": "10",
				"price":          "5000",
			},
			Status: StatusValid,
		}
	}
	return rows
}

// testEngineConfig keeps retries and yields fast.
func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.Retry = RetryPolicy{MaxRetries: 3, BackoffBase: time.Millisecond}
	cfg.YieldDelay = 0
	cfg.CheckpointTimeout = time.Second
	return cfg
}

// registerForTest registers defs and clears the registry afterwards.
func registerForTest(t *testing.T, defs ...Definition) {
	t.Helper()
	Clear()
	for _, d := range defs {
		Register(d)
	}
	t.Cleanup(Clear)
}
