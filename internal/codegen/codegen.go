// Package codegen produces collision-free human-readable reservation
// codes in the form RES-YYYYMMDD-XXXXX, where XXXXX is uniform over
// [A-Z0-9]^5 (about 60 million values per day).
package codegen

import (
	"context"
	"crypto/rand"
	"fmt"
	"regexp"
	"time"
)

const (
	suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffixLength   = 5
	maxAttempts    = 10
)

var codeShape = regexp.MustCompile(`^RES-\d{8}-[A-Z0-9]{5}$`)

// ExistsChecker reports whether a code is already in use.
type ExistsChecker interface {
	ExistsByCode(ctx context.Context, code string) (bool, error)
}

// Generate produces a reservation code dated `when`, retrying against
// exists up to maxAttempts times to dodge a collision before falling back
// to the database's UNIQUE constraint. Exhausting retries is fatal: the
// caller should surface it as an internal error, never silently reuse or
// duplicate a code.
func Generate(ctx context.Context, exists ExistsChecker, when time.Time) (string, error) {
	datePart := when.UTC().Format("20060102")

	for attempt := 0; attempt < maxAttempts; attempt++ {
		suffix, err := randomSuffix()
		if err != nil {
			return "", fmt.Errorf("codegen: generate random suffix: %w", err)
		}
		code := fmt.Sprintf("RES-%s-%s", datePart, suffix)

		taken, err := exists.ExistsByCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("codegen: check code existence: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	return "", fmt.Errorf("codegen: exhausted %d attempts generating a unique code for %s", maxAttempts, datePart)
}

// IsValid reports whether s has exactly the RES-YYYYMMDD-XXXXX shape.
func IsValid(s string) bool {
	return codeShape.MatchString(s)
}

func randomSuffix() (string, error) {
	b := make([]byte, suffixLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, suffixLength)
	for i, v := range b {
		out[i] = suffixAlphabet[int(v)%len(suffixAlphabet)]
	}
	return string(out), nil
}
