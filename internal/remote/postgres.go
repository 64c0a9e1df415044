package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgxpool.Pool the target uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresTarget upserts rows directly into Postgres.
type PostgresTarget struct {
	db DBTX
}

// NewPostgresTarget returns a target over db.
func NewPostgresTarget(db DBTX) *PostgresTarget {
	return &PostgresTarget{db: db}
}

// Upsert inserts payload into table, updating every other column when
// conflictKey already exists.
func (t *PostgresTarget) Upsert(ctx context.Context, table, conflictKey string, payload map[string]any) error {
	query, args, err := buildUpsert(table, conflictKey, payload)
	if err != nil {
		return err
	}
	if _, err := t.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// FetchReference reads matchColumn and valueColumn from every row of table
// as text.
func (t *PostgresTarget) FetchReference(ctx context.Context, table, matchColumn, valueColumn string) (map[string]string, error) {
	query := fmt.Sprintf("SELECT %s::text, %s::text FROM %s WHERE %s IS NOT NULL AND %s IS NOT NULL",
		quoteIdent(matchColumn), quoteIdent(valueColumn), quoteIdent(table),
		quoteIdent(matchColumn), quoteIdent(valueColumn),
	)

	rows, err := t.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	defer rows.Close()

	refs := make(map[string]string)
	for rows.Next() {
		var match, value string
		if err := rows.Scan(&match, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		refs[match] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}
	return refs, nil
}

// buildUpsert renders INSERT ... ON CONFLICT with columns in sorted order so
// the statement text is stable for a given column set.
func buildUpsert(table, conflictKey string, payload map[string]any) (string, []any, error) {
	if len(payload) == 0 {
		return "", nil, fmt.Errorf("upsert %s: empty payload", table)
	}
	if _, ok := payload[conflictKey]; !ok {
		return "", nil, fmt.Errorf("upsert %s: payload is missing conflict key %q", table, conflictKey)
	}

	columns := make([]string, 0, len(payload))
	for col := range payload {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	var updates []string
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = payload[col]
		if col != conflictKey {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		quoteIdent(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		quoteIdent(conflictKey),
	)
	if len(updates) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}
	return b.String(), args, nil
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
