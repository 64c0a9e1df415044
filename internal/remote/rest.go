// Package remote implements the upsert targets an import run writes to.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// RESTTarget writes rows through a PostgREST-style HTTP API, as exposed by
// hosted Postgres backends.
//
// The client never retries on its own: the import engine owns the retry
// policy, and a second retry layer would multiply attempts per row.
type RESTTarget struct {
	baseURL string
	http    *resty.Client
}

// RESTOptions configures a RESTTarget.
type RESTOptions struct {
	BaseURL string // e.g. https://project.example.co
	APIKey  string // Sent as apikey and bearer token
	Timeout time.Duration
}

// NewRESTTarget creates a REST target.
func NewRESTTarget(opts RESTOptions) *RESTTarget {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(0)
	if opts.APIKey != "" {
		client.SetHeader("apikey", opts.APIKey).SetAuthToken(opts.APIKey)
	}

	return &RESTTarget{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    client,
	}
}

func (t *RESTTarget) tableURL(table string) string {
	return t.baseURL + "/rest/v1/" + table
}

// Upsert posts one row with merge-duplicates resolution on conflictKey.
func (t *RESTTarget) Upsert(ctx context.Context, table, conflictKey string, payload map[string]any) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetQueryParam("on_conflict", conflictKey).
		SetBody([]map[string]any{payload}).
		Post(t.tableURL(table))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	if resp.IsError() {
		return fmt.Errorf("upsert rejected: status %d: %s", resp.StatusCode(), errorMessage(resp))
	}
	return nil
}

// FetchReference reads matchColumn and valueColumn from every row of table.
func (t *RESTTarget) FetchReference(ctx context.Context, table, matchColumn, valueColumn string) (map[string]string, error) {
	var rows []map[string]any
	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParam("select", matchColumn+","+valueColumn).
		SetResult(&rows).
		Get(t.tableURL(table))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: status %d: %s", table, resp.StatusCode(), errorMessage(resp))
	}

	refs := make(map[string]string, len(rows))
	for _, row := range rows {
		match, ok1 := row[matchColumn]
		value, ok2 := row[valueColumn]
		if !ok1 || !ok2 || match == nil || value == nil {
			continue
		}
		refs[fmt.Sprint(match)] = jsonScalar(value)
	}
	return refs, nil
}

// errorMessage extracts the message from a PostgREST error body.
func errorMessage(resp *resty.Response) string {
	var body struct {
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Message != "" {
		if body.Details != "" {
			return body.Message + " (" + body.Details + ")"
		}
		return body.Message
	}
	if text := strings.TrimSpace(string(resp.Body())); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode())
}

// jsonScalar renders decoded JSON numbers without exponent notation so
// integer ids round-trip unchanged.
func jsonScalar(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
