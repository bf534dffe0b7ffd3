// Package idempotency maps (scope, key) to a cached response and request
// fingerprint so that repeated client retries of a write endpoint have
// at-most-once effect. It sits on the boundary between the HTTP edge and
// the coordinator.
package idempotency

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/carorbit/reservations/internal/apperr"
)

// Record is a stored idempotency entry.
type Record struct {
	Scope          string
	Key            string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
	ReferenceID    string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Store is the (scope, key) -> Record contract.
type Store interface {
	// Get returns the record for (scope, key), or nil if none exists.
	Get(ctx context.Context, scope, key string) (*Record, error)
	// Put inserts a new record, unique on (scope, key). txRunner lets the
	// caller perform the insert inside the same transaction as the state
	// change that makes the response durable.
	Put(ctx context.Context, tx *sql.Tx, rec Record) error
	// Cleanup removes records whose ExpiresAt is before olderThan.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates an idempotency store with the given default TTL
// (used by Put when the caller doesn't override ExpiresAt).
func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &PostgresStore{db: db, ttl: ttl}
}

func (s *PostgresStore) Get(ctx context.Context, scope, key string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT scope, key, request_hash, response_status, response_body,
		       coalesce(reference_id, ''), expires_at, created_at
		FROM idempotency_keys
		WHERE scope = $1 AND key = $2`, scope, key).Scan(
		&rec.Scope, &rec.Key, &rec.RequestHash, &rec.ResponseStatus, &rec.ResponseBody,
		&rec.ReferenceID, &rec.ExpiresAt, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, tx *sql.Tx, rec Record) error {
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = time.Now().Add(s.ttl)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (scope, key, request_hash, response_status, response_body, reference_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, nullif($6, ''), $7, now())
		ON CONFLICT (scope, key) DO NOTHING`,
		rec.Scope, rec.Key, rec.RequestHash, rec.ResponseStatus, rec.ResponseBody, rec.ReferenceID, rec.ExpiresAt)
	return err
}

func (s *PostgresStore) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ComputeRequestHash canonicalizes v (sorted keys, no insignificant
// whitespace, NFC-normalized strings) and returns its sha-256 hex digest.
// JSON unmarshaling into map[string]any/[]any and remarshaling
// with sorted keys gives us canonical form without hand-rolling a
// serializer; encoding/json re-emits string bytes verbatim, so string
// leaves (and keys) are explicitly run through unicode/norm first —
// otherwise two requests that differ only in Unicode normalization form
// would hash differently and silently defeat replay detection.
func ComputeRequestHash(body []byte) (string, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", apperr.Validation("body", "request body must be valid JSON")
	}
	canonical, err := canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		normalized := make(map[string]any, len(val))
		keys := make([]string, 0, len(val))
		for k, v := range val {
			nk := norm.NFC.String(k)
			normalized[nk] = v
			keys = append(keys, nk)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalize(normalized[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	case string:
		return json.Marshal(norm.NFC.String(val))
	default:
		return json.Marshal(val)
	}
}
