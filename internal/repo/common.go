// Package repo holds the thin typed mappers over the storage primitive
// (spec.md component C): one file per entity, each a straightforward
// database/sql CRUD layer in the teacher's internal/memory style --
// hand-written SQL, sql.Null* for optional columns, JSON-marshaled metadata
// blobs.
package repo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/txcore/tx/internal/storage"
	"github.com/txcore/tx/internal/txerr"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func fromNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, txerr.InvalidDate("time", ns.String)
	}
	return &t, nil
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func fromNullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func fromNullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("repo: marshal json: %w", err)
	}
	return string(b), nil
}

func unmarshalJSONMap(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("repo: unmarshal json: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// Queryer abstracts *sql.DB and *sql.Tx so every repo method can run inside
// or outside an explicit caller-managed transaction.
type Queryer = storage.Querier

func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return err
	}
	return txerr.Database(op, err)
}
