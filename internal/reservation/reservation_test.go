package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carorbit/reservations/internal/statemachine"
)

func newTestReservation(t *testing.T) *Reservation {
	t.Helper()
	r, err := New(
		"RES-20250201-ABCDE", 1, 2, 3, 4,
		time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 5, 10, 0, 0, 0, time.UTC),
		7, 1, "USD",
		Driver{FirstName: "Jane", LastName: "Doe"},
		Contact{Email: "jane@example.com"},
	)
	require.NoError(t, err)
	return r
}

func TestNew_StartsPendingUnpaid(t *testing.T) {
	r := newTestReservation(t)
	assert.Equal(t, statemachine.StatusPending, r.Status)
	assert.Equal(t, statemachine.PaymentUnpaid, r.PaymentStatus)
}

func TestNew_SetsPrimaryDriverAndBookerContact(t *testing.T) {
	r := newTestReservation(t)
	assert.True(t, r.HasPrimaryDriver())
	assert.True(t, r.HasBookerContact())
	assert.NoError(t, r.ValidateBookable())
}

func TestNew_QueuesReservationCreatedEvent(t *testing.T) {
	r := newTestReservation(t)
	events := r.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "ReservationCreated", events[0].Type)

	// draining clears the queue
	assert.Empty(t, r.DrainEvents())
}

func TestMarkPaid_SetsPaymentStatusOnly(t *testing.T) {
	r := newTestReservation(t)
	r.MarkPaid(time.Now())
	assert.Equal(t, statemachine.PaymentPaid, r.PaymentStatus)
	assert.Equal(t, statemachine.StatusPending, r.Status, "payment and lifecycle status are independent")
}

func TestConfirmWithSupplier_TransitionsAndQueuesEvent(t *testing.T) {
	r := newTestReservation(t)
	r.DrainEvents() // clear the creation event so we can isolate this one

	confirmedAt := time.Now()
	err := r.ConfirmWithSupplier("SUP-123", confirmedAt)
	require.NoError(t, err)
	assert.Equal(t, statemachine.StatusConfirmed, r.Status)
	assert.Equal(t, "SUP-123", r.SupplierConfirmationNumber)
	require.NotNil(t, r.SupplierConfirmedAt, "CONFIRMED implies supplier_confirmed_at set")
	assert.Equal(t, confirmedAt, *r.SupplierConfirmedAt)

	events := r.DrainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "ReservationConfirmed", events[0].Type)
}

func TestConfirmWithSupplier_IllegalFromTerminal_ReturnsTypedError(t *testing.T) {
	r := newTestReservation(t)
	r.Status = statemachine.StatusCompleted

	err := r.ConfirmWithSupplier("SUP-123", time.Now())
	assert.Error(t, err)
}

func TestTransition_LegalMove(t *testing.T) {
	r := newTestReservation(t)
	require.NoError(t, r.ConfirmWithSupplier("SUP-1", time.Now()))
	require.NoError(t, r.Transition(statemachine.StatusInProgress))
	assert.Equal(t, statemachine.StatusInProgress, r.Status)
}

func TestTransition_IllegalMove_ReturnsError(t *testing.T) {
	r := newTestReservation(t)
	assert.Error(t, r.Transition(statemachine.StatusCompleted))
}

func TestValidateBookable_MissingDriverOrContact(t *testing.T) {
	r := newTestReservation(t)
	r.Drivers = nil
	assert.Error(t, r.ValidateBookable())

	r2 := newTestReservation(t)
	r2.Contacts = nil
	assert.Error(t, r2.ValidateBookable())
}
