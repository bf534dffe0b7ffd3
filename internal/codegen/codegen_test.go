package codegen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExistsChecker struct {
	taken map[string]bool
	err   error
}

func (m *mockExistsChecker) ExistsByCode(_ context.Context, code string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.taken[code], nil
}

func TestGenerate_ProducesValidShape(t *testing.T) {
	checker := &mockExistsChecker{taken: map[string]bool{}}
	when := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	code, err := Generate(context.Background(), checker, when)
	require.NoError(t, err)
	assert.True(t, IsValid(code))
	assert.Regexp(t, `^RES-20250201-[A-Z0-9]{5}$`, code)
}

func TestGenerate_RetriesOnCollision(t *testing.T) {
	when := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	checker := &collisionChecker{maxCollisions: 3, calls: &calls}

	code, err := Generate(context.Background(), checker, when)
	require.NoError(t, err)
	assert.True(t, IsValid(code))
	assert.Equal(t, 4, calls) // 3 collisions then a success
}

type collisionChecker struct {
	maxCollisions int
	calls         *int
}

func (c *collisionChecker) ExistsByCode(_ context.Context, _ string) (bool, error) {
	*c.calls++
	return *c.calls <= c.maxCollisions, nil
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	checker := &alwaysTakenChecker{}
	when := time.Now()

	_, err := Generate(context.Background(), checker, when)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}

type alwaysTakenChecker struct{}

func (alwaysTakenChecker) ExistsByCode(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func TestGenerate_PropagatesCheckerError(t *testing.T) {
	checker := &mockExistsChecker{err: errors.New("db down")}
	_, err := Generate(context.Background(), checker, time.Now())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"RES-20250201-ABCDE", true},
		{"RES-20250201-AB3D9", true},
		{"res-20250201-ABCDE", false},
		{"RES-2025021-ABCDE", false},
		{"RES-20250201-ABCD", false},
		{"RES-20250201-abcde", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValid(tt.code), tt.code)
	}
}
