package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTTarget_Upsert(t *testing.T) {
	var (
		gotPath   string
		gotQuery  string
		gotPrefer string
		gotKey    string
		gotAuth   string
		gotBody   []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("on_conflict")
		gotPrefer = r.Header.Get("Prefer")
		gotKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	target := NewRESTTarget(RESTOptions{BaseURL: srv.URL + "/", APIKey: "secret"})
	err := target.Upsert(context.Background(), "products", "sku", map[string]any{
		"sku":            "A1",
		"stock_quantity": 10,
	})
	require.NoError(t, err)

	assert.Equal(t, "/rest/v1/products", gotPath)
	assert.Equal(t, "sku", gotQuery)
	assert.Contains(t, gotPrefer, "resolution=merge-duplicates")
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, gotBody, 1)
	assert.Equal(t, "A1", gotBody[0]["sku"])
	assert.EqualValues(t, 10, gotBody[0]["stock_quantity"])
}

func TestRESTTarget_UpsertErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"postgrest error", http.StatusConflict, `{"message":"duplicate key value","details":"Key (sku)=(A1) already exists."}`,
			"upsert rejected: status 409: duplicate key value (Key (sku)=(A1) already exists.)"},
		{"plain text", http.StatusBadGateway, "bad gateway\n", "upsert rejected: status 502: bad gateway"},
		{"empty body", http.StatusServiceUnavailable, "", "upsert rejected: status 503: Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			target := NewRESTTarget(RESTOptions{BaseURL: srv.URL})
			err := target.Upsert(context.Background(), "products", "sku", map[string]any{"sku": "A1"})
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestRESTTarget_UpsertHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	target := NewRESTTarget(RESTOptions{BaseURL: srv.URL})
	err := target.Upsert(ctx, "products", "sku", map[string]any{"sku": "A1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRESTTarget_FetchReference(t *testing.T) {
	var gotSelect string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSelect = r.URL.Query().Get("select")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"name":"PT Maju","id":12},
			{"name":"CV Jaya","id":"b7e1"},
			{"name":null,"id":3},
			{"name":"Tanpa Id"}
		]`)
	}))
	defer srv.Close()

	target := NewRESTTarget(RESTOptions{BaseURL: srv.URL})
	refs, err := target.FetchReference(context.Background(), "suppliers", "name", "id")
	require.NoError(t, err)

	assert.Equal(t, "name,id", gotSelect)
	assert.Equal(t, map[string]string{"PT Maju": "12", "CV Jaya": "b7e1"}, refs)
}

func TestRESTTarget_FetchReferenceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"JWT expired"}`)
	}))
	defer srv.Close()

	target := NewRESTTarget(RESTOptions{BaseURL: srv.URL})
	_, err := target.FetchReference(context.Background(), "suppliers", "name", "id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401: JWT expired")
}
