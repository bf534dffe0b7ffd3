package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusPending, StatusOnRequest},
		{StatusPending, StatusConfirmed},
		{StatusOnRequest, StatusConfirmed},
		{StatusOnRequest, StatusPending},
		{StatusConfirmed, StatusInProgress},
		{StatusConfirmed, StatusNoShow},
		{StatusInProgress, StatusCompleted},
	}
	for _, c := range cases {
		assert.True(t, CanTransition(c.from, c.to), "%s -> %s should be legal", c.from, c.to)
	}
}

func TestCanTransition_IllegalEdges(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusPending, StatusInProgress},
		{StatusPending, StatusCompleted},
		{StatusConfirmed, StatusPending},
		{StatusCompleted, StatusPending},
		{StatusNoShow, StatusConfirmed},
	}
	for _, c := range cases {
		assert.False(t, CanTransition(c.from, c.to), "%s -> %s should be illegal", c.from, c.to)
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusNoShow, StatusCancelled, StatusFailed} {
		assert.True(t, IsTerminal(s), "%s should be terminal", s)
	}
	for _, s := range []Status{StatusPending, StatusOnRequest, StatusConfirmed, StatusInProgress} {
		assert.False(t, IsTerminal(s), "%s should not be terminal", s)
	}
}

func TestValidate_ReturnsTypedError(t *testing.T) {
	err := Validate(StatusPending, StatusCompleted)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "PENDING")
	assert.Contains(t, err.Error(), "COMPLETED")
}

func TestValidate_NoErrorOnLegalEdge(t *testing.T) {
	assert.NoError(t, Validate(StatusPending, StatusConfirmed))
}

func TestAllowedFrom_ReturnsCopy(t *testing.T) {
	a := AllowedFrom(StatusPending)
	a[0] = "MUTATED"
	b := AllowedFrom(StatusPending)
	assert.NotEqual(t, Status("MUTATED"), b[0])
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "PENDING -> CONFIRMED", Describe(StatusPending, StatusConfirmed))
}
