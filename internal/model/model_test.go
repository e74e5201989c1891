package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{RecurringStateActive, RecurringStateRunning, true},
		{RecurringStateActive, RecurringStatePaused, true},
		{RecurringStateRunning, RecurringStateActive, true},
		{RecurringStateRunning, RecurringStateError, true},
		{RecurringStateRunning, RecurringStateCompleted, true},
		{RecurringStateError, RecurringStateRunning, true},
		{RecurringStateError, RecurringStatePaused, true},
		{RecurringStatePaused, RecurringStateActive, true},
		{RecurringStateRunning, RecurringStatePaused, false},
		{RecurringStatePaused, RecurringStateRunning, false},
		{RecurringStateCompleted, RecurringStateActive, false},
		{RecurringStateActive, RecurringStateCompleted, false},
		{"UNKNOWN", RecurringStateActive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestExhausted(t *testing.T) {
	three := 3
	def := &RecurringDefinition{}
	assert.False(t, def.FixedTerm())
	assert.False(t, def.Exhausted())

	def.TotalPayments = &three
	def.PaymentsMade = 2
	assert.True(t, def.FixedTerm())
	assert.False(t, def.Exhausted())

	def.PaymentsMade = 3
	assert.True(t, def.Exhausted())
}

func TestEntityRef(t *testing.T) {
	assert.True(t, AccountRef(1).Valid())
	assert.True(t, SubAccountRef(2).Valid())
	assert.False(t, AccountRef(0).Valid())
	assert.False(t, EntityRef{Kind: "WALLET", ID: 1}.Valid())
}

func TestErrorClasses(t *testing.T) {
	assert.True(t, errors.Is(ErrInsufficientFunds, ErrValidation))
	assert.True(t, errors.Is(ErrTransferNotFound, ErrNotFound))
	assert.True(t, errors.Is(ErrStateInvalid, ErrConflict))
	assert.False(t, errors.Is(ErrStateInvalid, ErrValidation))
}

func TestTransactionSign(t *testing.T) {
	assert.Equal(t, int64(1), (&Transaction{Type: TransactionTypeIncome}).Sign())
	assert.Equal(t, int64(-1), (&Transaction{Type: TransactionTypeExpense}).Sign())
	assert.True(t, ValidTransactionType("INCOME"))
	assert.False(t, ValidTransactionType("income"))
}
