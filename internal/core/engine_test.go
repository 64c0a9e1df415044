package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, target *fakeTarget, refs ReferenceSource) (*Engine, *Persister, *mapStore) {
	t.Helper()
	store := newMapStore()
	persister := NewPersister(store)
	return NewEngine(testEngineConfig(), target, refs, persister), persister, store
}

// assertCounters checks that every row is accounted for exactly once.
func assertCounters(t *testing.T, p Progress) {
	t.Helper()
	notAttempted := p.Total - (p.CurrentIndex + 1)
	assert.Equal(t, p.Total, p.ProcessedCount+p.ErrorCount+p.SkippedCount+notAttempted,
		"processed+errors+skipped+notAttempted must equal total: %+v", p)
}

func TestEngine_SingleValidRow(t *testing.T) {
	def := stockDefinition()
	target := newFakeTarget()
	engine, persister, _ := newTestEngine(t, target, nil)
	ctx := context.Background()

	// A stale checkpoint from an earlier run must be gone afterwards.
	require.NoError(t, persister.Save(ctx, def.Key, Checkpoint{LastProcessedIndex: 0, Rows: stockRows(1)}))

	rows := Validate(def, []ImportRow{{
		Row:    2,
		Fields: map[string]string{"sku": "A1", "name": "X", "stock_quantity": "10", "price": "5000"},
		Status: StatusPending,
	}})
	require.Equal(t, StatusValid, rows[0].Status)

	state := NewRunState(rows)
	result := engine.Run(ctx, RunOptions{RunID: "r1", Definition: def, State: state})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, target.callCount())
	assert.Equal(t, 1, result.Progress.ProcessedCount)
	assert.Equal(t, 100, result.Progress.ProgressPercent)
	assertCounters(t, result.Progress)

	cp, err := persister.Load(ctx, def.Key)
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint should be deleted after completion")

	logs := state.Log().Entries()
	require.Len(t, logs, 1)
	assert.Equal(t, LogSuccess, logs[0].Status)
	assert.Equal(t, "A1", logs[0].Identifier)
	assert.Equal(t, 2, logs[0].Row)
	assert.Equal(t, "Produk A1 berhasil disimpan", logs[0].Message)
	assert.Equal(t, StatusCompleted, state.Rows()[0].Status)
}

func TestEngine_InvalidRowIsNeverSent(t *testing.T) {
	def := stockDefinition()
	target := newFakeTarget()
	engine, _, _ := newTestEngine(t, target, nil)

	rows := Validate(def, []ImportRow{
		{Row: 2, Fields: map[string]string{"sku": "A1", "name": "X", "stock_quantity": "abc", "price": "1"}},
		{Row: 3, Fields: map[string]string{"sku": "A2", "name": "Y", "stock_quantity": "1", "price": "1"}},
	})
	require.Equal(t, StatusError, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMsg, "Stok harus angka")

	state := NewRunState(rows)
	result := engine.Run(context.Background(), RunOptions{Definition: def, State: state})

	assert.Equal(t, []string{"A2"}, target.keys("sku"))
	assert.Equal(t, OutcomeCompletedWithErrors, result.Outcome)
	assert.Equal(t, 1, result.Progress.SkippedCount)
	assert.Equal(t, 1, result.Progress.ProcessedCount)
	assert.Equal(t, 0, result.Progress.ErrorCount)
	assert.Equal(t, 1, state.Log().Len(), "skipped rows are not logged")
	assertCounters(t, result.Progress)
}

func TestEngine_RetrySucceedsAfterTransientFailures(t *testing.T) {
	def := stockDefinition()
	target := newFakeTarget()
	target.failures["S1"] = 2
	engine, _, _ := newTestEngine(t, target, nil)

	state := NewRunState(stockRows(1))
	result := engine.Run(context.Background(), RunOptions{Definition: def, State: state})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, target.callCount())

	logs := state.Log().Entries()
	require.Len(t, logs, 1, "intermediate failures are not logged")
	assert.Equal(t, LogSuccess, logs[0].Status)
	assert.Equal(t, "Produk S1 berhasil disimpan", logs[0].Message)
}

func TestEngine_RetryBound(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		wantCalls  int
	}{
		{"no retries", 0, 1},
		{"one retry", 1, 2},
		{"default", 3, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := stockDefinition()
			target := newFakeTarget()
			target.alwaysErr = errors.New("upsert rejected: status 400: bad row")

			cfg := testEngineConfig()
			cfg.Retry.MaxRetries = tt.maxRetries
			engine := NewEngine(cfg, target, nil, NewPersister(newMapStore()))

			state := NewRunState(stockRows(1))
			result := engine.Run(context.Background(), RunOptions{Definition: def, State: state})

			assert.Equal(t, tt.wantCalls, target.callCount())
			assert.Equal(t, OutcomeCompletedWithErrors, result.Outcome)
			assert.Equal(t, 1, result.Progress.ErrorCount)

			row := state.Rows()[0]
			assert.Equal(t, StatusFailed, row.Status)
			assert.Contains(t, row.ErrorMsg, "status 400")

			logs := state.Log().Entries()
			require.Len(t, logs, 1)
			assert.Equal(t, LogFailed, logs[0].Status)
			assert.Contains(t, logs[0].Message, "bad row")
		})
	}
}

func TestEngine_CancelAfterFifthRow(t *testing.T) {
	def := stockDefinition()
	ctl := NewControl()
	target := newFakeTarget()
	target.onUpsert = func(_ context.Context, n int) error {
		if n == 5 {
			ctl.Cancel()
		}
		return nil
	}
	engine, persister, _ := newTestEngine(t, target, nil)

	state := NewRunState(stockRows(10))
	result := engine.Run(context.Background(), RunOptions{Definition: def, State: state, Control: ctl})

	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.Equal(t, 5, result.Attempted)
	assert.Equal(t, 5, target.callCount())
	assert.Equal(t, 4, result.LastProcessedIndex)
	assertCounters(t, result.Progress)

	cp, err := persister.Load(context.Background(), def.Key)
	require.NoError(t, err)
	require.NotNil(t, cp, "checkpoint must be kept after cancel")
	assert.Equal(t, 4, cp.LastProcessedIndex)
	assert.Len(t, cp.Rows, 10)
	assert.Len(t, cp.Logs, 5)
	assert.Equal(t, StatusCompleted, cp.Rows[4].Status)
	assert.Equal(t, StatusValid, cp.Rows[5].Status)
}

func TestEngine_CancelDuringBackoff(t *testing.T) {
	def := stockDefinition()
	ctl := NewControl()
	target := newFakeTarget()
	target.alwaysErr = errors.New("connection refused")
	target.onUpsert = func(_ context.Context, n int) error {
		ctl.Cancel()
		return nil
	}

	cfg := testEngineConfig()
	cfg.Retry.BackoffBase = time.Hour
	engine := NewEngine(cfg, target, nil, NewPersister(newMapStore()))

	state := NewRunState(stockRows(3))
	done := make(chan RunResult, 1)
	go func() {
		done <- engine.Run(context.Background(), RunOptions{Definition: def, State: state, Control: ctl})
	}()

	select {
	case result := <-done:
		assert.Equal(t, OutcomeCancelled, result.Outcome)
		assert.Equal(t, 1, target.callCount(), "remaining retries are abandoned")
		assert.Equal(t, 1, result.Attempted)
		assert.Equal(t, StatusFailed, state.Rows()[0].Status)
		assertCounters(t, result.Progress)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not interrupt the backoff")
	}
}

func TestEngine_ShutdownLeavesInterruptedRow(t *testing.T) {
	def := stockDefinition()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := newFakeTarget()
	target.onUpsert = func(ctx context.Context, n int) error {
		if n == 2 {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
	engine, persister, _ := newTestEngine(t, target, nil)

	state := NewRunState(stockRows(3))
	result := engine.Run(ctx, RunOptions{Definition: def, State: state})

	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.Equal(t, 1, result.Attempted, "the interrupted row is not counted")
	assert.Equal(t, 0, result.LastProcessedIndex)

	rows := state.Rows()
	assert.Equal(t, StatusCompleted, rows[0].Status)
	assert.Equal(t, StatusValid, rows[1].Status)
	assert.Empty(t, rows[1].ErrorMsg)
	assert.Equal(t, 1, state.Log().Len())

	// The checkpoint is written even though ctx is already cancelled.
	cp, err := persister.Load(context.Background(), def.Key)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 0, cp.LastProcessedIndex)
	assert.Equal(t, StatusValid, cp.Rows[1].Status)
}

func TestEngine_CancelBeforeFirstRowWritesNoCheckpoint(t *testing.T) {
	def := stockDefinition()
	ctl := NewControl()
	ctl.Cancel()
	target := newFakeTarget()
	engine, _, store := newTestEngine(t, target, nil)

	result := engine.Run(context.Background(), RunOptions{Definition: def, State: NewRunState(stockRows(3)), Control: ctl})

	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.Equal(t, 0, result.Attempted)
	assert.Equal(t, -1, result.LastProcessedIndex)
	assert.Equal(t, 0, target.callCount())
	assert.Equal(t, 0, store.setCount(), "index -1 is never persisted")
}

func TestEngine_ResumeFromCheckpoint(t *testing.T) {
	def := stockDefinition()
	rows := stockRows(5)
	for i := 0; i <= 2; i++ {
		rows[i].Status = StatusCompleted
	}
	rows[1].Status = StatusFailed
	rows[1].ErrorMsg = "connection refused"
	cp := Checkpoint{
		LastProcessedIndex: 2,
		Rows:               rows,
		Logs: []ImportLog{
			{Row: 2, Identifier: "S1", Status: LogSuccess},
			{Row: 3, Identifier: "S2", Status: LogFailed},
			{Row: 4, Identifier: "S3", Status: LogSuccess},
		},
	}

	target := newFakeTarget()
	engine, _, _ := newTestEngine(t, target, nil)
	state := RunStateFromCheckpoint(cp)

	before := state.Progress()
	assert.Equal(t, 2, before.CurrentIndex)
	assert.Equal(t, 2, before.ProcessedCount)
	assert.Equal(t, 1, before.ErrorCount)

	result := engine.Run(context.Background(), RunOptions{Definition: def, State: state})

	assert.Equal(t, []string{"S4", "S5"}, target.keys("sku"), "resume starts at index+1")
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, OutcomeCompletedWithErrors, result.Outcome, "failures before the resume still count")
	assert.Equal(t, 4, result.Progress.ProcessedCount)
	assert.Equal(t, 1, result.Progress.ErrorCount)
	assert.Equal(t, 5, state.Log().Len(), "restored log entries are kept")
	assertCounters(t, result.Progress)
}

func TestEngine_ResumeOfFinishedCheckpoint(t *testing.T) {
	def := stockDefinition()
	rows := stockRows(2)
	rows[0].Status = StatusCompleted
	rows[1].Status = StatusCompleted

	target := newFakeTarget()
	engine, persister, _ := newTestEngine(t, target, nil)
	ctx := context.Background()
	cp := Checkpoint{LastProcessedIndex: 1, Rows: rows}
	require.NoError(t, persister.Save(ctx, def.Key, cp))

	result := engine.Run(ctx, RunOptions{Definition: def, State: RunStateFromCheckpoint(cp)})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 0, target.callCount())
	loaded, err := persister.Load(ctx, def.Key)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestEngine_PeriodicCheckpoints(t *testing.T) {
	def := stockDefinition()
	target := newFakeTarget()
	engine, persister, store := newTestEngine(t, target, nil)

	var mu sync.Mutex
	var saved []int
	target.onUpsert = func(ctx context.Context, n int) error {
		// Row n starts after row n-1 finished; look at what is stored.
		if cp, _ := persister.Load(ctx, def.Key); cp != nil {
			mu.Lock()
			if len(saved) == 0 || saved[len(saved)-1] != cp.LastProcessedIndex {
				saved = append(saved, cp.LastProcessedIndex)
			}
			mu.Unlock()
		}
		return nil
	}

	result := engine.Run(context.Background(), RunOptions{Definition: def, State: NewRunState(stockRows(25))})

	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 2, store.setCount(), "one write per 10 rows while rows remain")
	assert.Equal(t, []int{9, 19}, saved)
}

func TestEngine_PauseAndResume(t *testing.T) {
	def := stockDefinition()
	ctl := NewControl()
	target := newFakeTarget()
	target.onUpsert = func(_ context.Context, n int) error {
		if n == 2 {
			ctl.Pause()
		}
		return nil
	}
	engine, persister, _ := newTestEngine(t, target, nil)
	ctx := context.Background()

	state := NewRunState(stockRows(4))
	done := make(chan RunResult, 1)
	go func() {
		done <- engine.Run(ctx, RunOptions{Definition: def, State: state, Control: ctl})
	}()

	// The pause takes effect before row 3 and writes a checkpoint.
	require.Eventually(t, func() bool {
		cp, err := persister.Load(ctx, def.Key)
		return err == nil && cp != nil && cp.LastProcessedIndex == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, target.callCount())
	assert.True(t, ctl.Paused())

	ctl.Resume()

	select {
	case result := <-done:
		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, 4, target.callCount())
		assert.Equal(t, []string{"S1", "S2", "S3", "S4"}, target.keys("sku"))
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after resume")
	}
}

func TestEngine_CancelWhilePaused(t *testing.T) {
	def := stockDefinition()
	ctl := NewControl()
	ctl.Pause()
	engine, _, _ := newTestEngine(t, newFakeTarget(), nil)

	done := make(chan RunResult, 1)
	go func() {
		done <- engine.Run(context.Background(), RunOptions{Definition: def, State: NewRunState(stockRows(2)), Control: ctl})
	}()
	ctl.Cancel()

	select {
	case result := <-done:
		assert.Equal(t, OutcomeCancelled, result.Outcome)
		assert.Equal(t, 0, result.Attempted)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not release the pause")
	}
}

func referenceDefinition() Definition {
	def := stockDefinition()
	def.Key = "stock_ref"
	def.Fields = append(def.Fields, FieldSpec{Name: "supplier"})
	def.Reference = &ReferenceSpec{
		Table:         "suppliers",
		MatchColumn:   "name",
		ValueColumn:   "id",
		SourceField:   "supplier",
		PayloadColumn: "supplier_id",
	}
	def.BuildPayload = func(row ImportRow, refs References) (map[string]any, error) {
		payload := map[string]any{"sku": row.Field("sku")}
		if name := row.Field("supplier"); name != "" {
			id, ok := refs.Resolve(name)
			if !ok {
				return nil, fmt.Errorf("Supplier %q tidak ditemukan", name)
			}
			payload["supplier_id"] = id
		}
		return payload, nil
	}
	return def
}

func TestEngine_ReferenceLookup(t *testing.T) {
	def := referenceDefinition()
	rows := stockRows(2)
	rows[0].Fields["supplier"] = "acme corp"
	rows[1].Fields["supplier"] = "Unknown"

	refs := &fakeRefs{data: map[string]string{"Acme Corp": "sup-1"}}
	target := newFakeTarget()
	engine, _, _ := newTestEngine(t, target, refs)

	state := NewRunState(rows)
	result := engine.Run(context.Background(), RunOptions{Definition: def, State: state})

	assert.Equal(t, 1, refs.calls, "references are fetched once per run")
	require.Equal(t, 1, target.callCount(), "unresolved rows are not sent")
	assert.Equal(t, "sup-1", target.calls[0]["supplier_id"])

	assert.Equal(t, OutcomeCompletedWithErrors, result.Outcome)
	row := state.Rows()[1]
	assert.Equal(t, StatusFailed, row.Status)
	assert.Equal(t, `Supplier "Unknown" tidak ditemukan`, row.ErrorMsg)
}

func TestEngine_ReferenceFetchFailure(t *testing.T) {
	def := referenceDefinition()
	rows := stockRows(2)
	rows[0].Fields["supplier"] = "Acme"

	refs := &fakeRefs{err: errors.New("connection refused")}
	target := newFakeTarget()
	engine, _, _ := newTestEngine(t, target, refs)

	state := NewRunState(rows)
	result := engine.Run(context.Background(), RunOptions{Definition: def, State: state})

	assert.Equal(t, testEngineConfig().Retry.MaxRetries+1, refs.calls)
	assert.Equal(t, []string{"S2"}, target.keys("sku"), "rows without a supplier still go through")
	assert.Equal(t, StatusFailed, state.Rows()[0].Status)
	assert.Equal(t, 1, result.Progress.ErrorCount)
	assert.Equal(t, 1, result.Progress.ProcessedCount)
}

func TestEngine_ETAExcludesReferencePrefetch(t *testing.T) {
	clock := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	refs := &fakeRefs{
		data:    map[string]string{},
		onFetch: func() { clock = clock.Add(time.Hour) },
	}
	target := newFakeTarget()
	target.onUpsert = func(context.Context, int) error {
		clock = clock.Add(time.Second)
		return nil
	}
	cfg := testEngineConfig()
	cfg.ETAMinSamples = 1
	engine := NewEngine(cfg, target, refs, nil)
	engine.now = func() time.Time { return clock }

	var updates []Progress
	engine.Run(context.Background(), RunOptions{
		Definition: referenceDefinition(),
		State:      NewRunState(stockRows(4)),
		OnProgress: func(p Progress) { updates = append(updates, p) },
	})

	require.Len(t, updates, 4)
	eta, ok := updates[0].ETA()
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, eta, "one second per row, three rows left")
}

func TestEngine_ProgressCallback(t *testing.T) {
	def := stockDefinition()
	engine, _, _ := newTestEngine(t, newFakeTarget(), nil)

	var updates []Progress
	result := engine.Run(context.Background(), RunOptions{
		Definition: def,
		State:      NewRunState(stockRows(4)),
		OnProgress: func(p Progress) { updates = append(updates, p) },
	})

	require.Len(t, updates, 4)
	for i, p := range updates {
		assert.Equal(t, i, p.CurrentIndex)
		assert.Equal(t, i+1, p.ProcessedCount)
	}
	assert.Equal(t, []int{25, 50, 75, 100}, []int{
		updates[0].ProgressPercent, updates[1].ProgressPercent,
		updates[2].ProgressPercent, updates[3].ProgressPercent,
	})
	eta, ok := updates[3].ETA()
	assert.True(t, ok)
	assert.Zero(t, eta)
	assert.Equal(t, result.Progress, updates[3])
}

func TestEngine_CheckpointFailureDoesNotStopRun(t *testing.T) {
	def := stockDefinition()
	store := newMapStore()
	store.failSet = errors.New("disk full")
	cfg := testEngineConfig()
	cfg.CheckpointInterval = 1
	engine := NewEngine(cfg, newFakeTarget(), nil, NewPersister(store))

	result := engine.Run(context.Background(), RunOptions{Definition: def, State: NewRunState(stockRows(3))})
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, 3, result.Progress.ProcessedCount)
}
