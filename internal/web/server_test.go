package web

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/stockimport/internal/checkpoint"
	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/core"
)

type nopTarget struct{}

func (nopTarget) Upsert(context.Context, string, string, map[string]any) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import: config.ImportConfig{MaxFileSize: 1 << 20},
	}
}

func testDefinition() core.Definition {
	def := core.Definition{
		Key:         "stock",
		Label:       "Stock",
		Table:       "products",
		ConflictKey: "sku",
		Fields: []core.FieldSpec{
			{Name: "sku", Required: true, RequiredMessage: "SKU wajib diisi"},
			{Name: "stock_quantity", Type: core.FieldNumeric, InvalidMessage: "Stok harus angka"},
		},
		KeyFields: []string{"sku"},
	}
	def.BuildPayload = core.DefaultPayload(def)
	return def
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *core.Service) {
	t.Helper()
	core.Clear()
	core.Register(testDefinition())
	t.Cleanup(core.Clear)

	engineCfg := core.DefaultEngineConfig()
	engineCfg.Retry.BackoffBase = time.Millisecond
	engineCfg.YieldDelay = 0

	persister := core.NewPersister(checkpoint.NewMemoryStore())
	engine := core.NewEngine(engineCfg, nopTarget{}, nil, persister)
	svc := core.NewService(core.ServiceConfig{MaxFileSize: cfg.Import.MaxFileSize}, engine, persister)

	srv, err := NewServer(svc, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = svc.Shutdown(ctx)
	})
	return srv, svc
}

func stockFile(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	all := append([][]any{{"sku", "stock_quantity"}}, rows...)
	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, url, fileName string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestListTypesAndTemplate(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	types := decode[[]core.TypeInfo](t, rec)
	require.Len(t, types, 1)
	assert.Equal(t, []string{"sku", "stock_quantity"}, types[0].Headers)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports/stock/template", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=template_stock.xlsx`, rec.Header().Get("Content-Disposition"))
	assert.NotZero(t, rec.Body.Len())

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports/orders/template", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadStartAndInspect(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	data := stockFile(t, []any{"A1", 10}, []any{"A2", "abc"}, []any{"A3", 3})
	rec := serve(srv, uploadRequest(t, "/api/imports/stock/upload", "stock.xlsx", data))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	staged := decode[core.RunStatus](t, rec)
	assert.Equal(t, core.PhasePreview, staged.Phase)
	assert.Equal(t, 2, staged.Counts[core.StatusValid])
	assert.Equal(t, 1, staged.Counts[core.StatusError])

	runURL := "/api/runs/" + staged.RunID
	rec = serve(srv, httptest.NewRequest(http.MethodGet, runURL+"/rows?status=error", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	invalid := decode[[]core.ImportRow](t, rec)
	require.Len(t, invalid, 1)
	assert.Equal(t, 3, invalid[0].Row)
	assert.Equal(t, "Stok harus angka", invalid[0].ErrorMsg)

	rec = serve(srv, httptest.NewRequest(http.MethodPost, runURL+"/start", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, runURL+"/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[core.RunResult](t, rec)
	assert.Equal(t, core.OutcomeCompletedWithErrors, result.Outcome)
	assert.Equal(t, 2, result.Progress.ProcessedCount)

	rec = serve(srv, httptest.NewRequest(http.MethodPost, runURL+"/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "a finished run cannot start again")

	rec = serve(srv, httptest.NewRequest(http.MethodGet, runURL+"/logs?order=desc&limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]core.ImportLog](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, "A3", logs[0].Identifier)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, runURL+"/rows?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ERR400", decode[ErrorResponse](t, rec).Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, runURL+"/logs/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "stock_log_")

	rec = serve(srv, httptest.NewRequest(http.MethodDelete, runURL, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(srv, httptest.NewRequest(http.MethodGet, runURL, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadWithStart(t *testing.T) {
	srv, svc := newTestServer(t, testConfig())

	data := stockFile(t, []any{"A1", 1})
	rec := serve(srv, uploadRequest(t, "/api/imports/stock/upload?start=true", "stock.xlsx", data))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	status := decode[core.RunStatus](t, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := svc.Result(ctx, status.RunID)
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeCompleted, result.Outcome)
}

func TestUploadErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 1 << 10
	srv, _ := newTestServer(t, cfg)

	tests := []struct {
		name       string
		url        string
		data       []byte
		wantStatus int
		wantCode   string
	}{
		{"unknown type", "/api/imports/orders/upload", stockFile(t, []any{"A1", 1}), http.StatusNotFound, ""},
		{"no file", "/api/imports/stock/upload", nil, http.StatusBadRequest, ""},
		{"too large", "/api/imports/stock/upload", bytes.Repeat([]byte("a"), 2<<10), http.StatusRequestEntityTooLarge, "FILE001"},
		{"not a spreadsheet", "/api/imports/stock/upload", []byte("plain text"), http.StatusUnprocessableEntity, "FILE002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(srv, uploadRequest(t, tt.url, "upload.xlsx", tt.data))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Message)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, resp.Code)
			}
		})
	}
}

func TestRunErrors(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, uploadRequest(t, "/api/imports/stock/upload", "stock.xlsx", stockFile(t, []any{"A1", 1})))
	require.Equal(t, http.StatusCreated, rec.Code)
	staged := decode[core.RunStatus](t, rec)

	for _, action := range []string{"pause", "resume", "cancel"} {
		rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/runs/"+staged.RunID+"/"+action, nil))
		assert.Equal(t, http.StatusConflict, rec.Code, action)
	}

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/runs/"+staged.RunID+"/result", nil))
	assert.Equal(t, http.StatusConflict, rec.Code, "no result before start")
}

func TestCheckpointEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports/stock/checkpoint", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodPost, "/api/imports/stock/resume", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodDelete, "/api/imports/stock/checkpoint", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodDelete, "/api/imports/orders/checkpoint", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTMXResponses(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)
	req.Header.Set("HX-Request", "true")
	rec := serve(srv, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `class="alert alert-error"`)

	rec = serve(srv, uploadRequest(t, "/api/imports/stock/upload", "stock.xlsx", stockFile(t, []any{"A1", 1})))
	require.Equal(t, http.StatusCreated, rec.Code)
	staged := decode[core.RunStatus](t, rec)

	req = httptest.NewRequest(http.MethodGet, "/api/runs/"+staged.RunID, nil)
	req.Header.Set("Accept", "text/html")
	rec = serve(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-phase="preview"`)
}

func TestProgressStream(t *testing.T) {
	srv, svc := newTestServer(t, testConfig())

	rec := serve(srv, uploadRequest(t, "/api/imports/stock/upload?start=true", "stock.xlsx", stockFile(t, []any{"A1", 1}, []any{"A2", 2})))
	require.Equal(t, http.StatusAccepted, rec.Code)
	status := decode[core.RunStatus](t, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := svc.Result(ctx, status.RunID)
	require.NoError(t, err)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/runs/"+status.RunID+"/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "id: 1\nevent: progress\n")
	assert.Contains(t, body, "event: complete\n")
	assert.Contains(t, body, `"outcome":"completed"`)
	assert.Less(t, strings.Index(body, "event: progress"), strings.Index(body, "event: complete"))
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	cfg.Security.APIKeys = []string{"k1", "k2"}
	srv, _ := newTestServer(t, cfg)

	tests := []struct {
		key        string
		wantStatus int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"k2", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/imports", nil)
		if tt.key != "" {
			req.Header.Set("X-API-Key", tt.key)
		}
		rec := serve(srv, req)
		assert.Equal(t, tt.wantStatus, rec.Code, "key %q", tt.key)
	}

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health check is not authenticated")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	cfg.Security.EnableCSP = true
	srv, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
	}
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	other.RemoteAddr = "203.0.113.9:5000"
	assert.Equal(t, http.StatusOK, serve(srv, other).Code, "limits are per client")
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     1,
		window:   time.Minute,
		now:      func() time.Time { return now },
	}

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("10.0.0.1"), "new window refills")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrRunNotFound, http.StatusNotFound},
		{core.ErrUnknownType, http.StatusNotFound},
		{core.ErrNoCheckpoint, http.StatusNotFound},
		{core.ErrRunActive, http.StatusConflict},
		{core.ErrInvalidPhase, http.StatusConflict},
		{core.ErrTooManyRuns, http.StatusTooManyRequests},
		{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.ErrNoRows, http.StatusUnprocessableEntity},
		{core.ErrCorruptCheckpoint, http.StatusUnprocessableEntity},
		{errNoFile, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
