package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

func TestTransactionModel_Reversal(t *testing.T) {
	original := uuid.New()
	txn, err := domain.NewTransaction(domain.TransactionTypeRefund, uuid.New(), uuid.New(), 100, "refund-1", time.Now().UTC())
	require.NoError(t, err)
	txn.ReversalOf = &original
	txn.Metadata = map[string]string{"reason": "customer request"}

	m := toTransactionModel(txn)
	require.NotNil(t, m.ReversalOf)
	assert.Equal(t, original.String(), *m.ReversalOf)

	back, err := m.toDomain()
	require.NoError(t, err)
	require.NotNil(t, back.ReversalOf)
	assert.Equal(t, original, *back.ReversalOf)
	assert.Equal(t, txn.Metadata, back.Metadata)

	txn.ReversalOf = nil
	assert.Nil(t, toTransactionModel(txn).ReversalOf)
}

func TestWalletAccount_InvalidID(t *testing.T) {
	_, err := (&walletAccount{ID: "not-a-uuid"}).toDomain()
	assert.Error(t, err)
}
