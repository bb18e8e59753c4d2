package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentStatus_Transitions(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusCompleted))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))

	assert.False(t, PaymentStatusPending.CanTransitionTo(PaymentStatusPending))
	assert.False(t, PaymentStatusCompleted.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusCompleted))
	assert.False(t, PaymentStatusCompleted.CanTransitionTo(PaymentStatusPending))
}

func TestPaymentStatus_String(t *testing.T) {
	assert.Equal(t, "PENDING", PaymentStatusPending.String())
	assert.Equal(t, "COMPLETED", PaymentStatusCompleted.String())
	assert.Equal(t, "FAILED", PaymentStatusFailed.String())
	assert.Equal(t, "UNKNOWN", PaymentStatus(9).String())

	s, ok := ParsePaymentStatus("completed")
	assert.True(t, ok)
	assert.Equal(t, PaymentStatusCompleted, s)
	_, ok = ParsePaymentStatus("EXPIRED")
	assert.False(t, ok)
}

func TestMintStatus(t *testing.T) {
	assert.False(t, MintStatusPending.IsTerminal())
	assert.False(t, MintStatusSubmitted.IsTerminal())
	assert.True(t, MintStatusConfirmed.IsTerminal())
	assert.True(t, MintStatusFailed.IsTerminal())
	assert.Equal(t, "SUBMITTED", MintStatusSubmitted.String())
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "bridge_payment_records", PaymentRecord{}.TableName())
	assert.Equal(t, "bridge_mint_txs", MintTx{}.TableName())
	assert.Equal(t, "bridge_campaigns", Campaign{}.TableName())
	assert.Equal(t, "bridge_block_checkpoints", BlockCheckpoint{}.TableName())
}
