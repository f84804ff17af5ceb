package engine

import (
	"context"
	"testing"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettle_Idempotent(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)

	first, err := h.engine.Settle(context.Background(), a.ID, seller, "A", 1_200_000)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, types.OrderAwaitingPaymentInfo, first.Status)
	assert.True(t, first.CreatedAt.Equal(base))

	second, err := h.engine.Settle(context.Background(), a.ID, seller, "B", 9_000_000)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "A", second.BuyerID, "an existing order is never rewritten")
	assert.Equal(t, int64(1_200_000), second.FinalPrice)
}

func TestSettle_RequiresBuyer(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)

	_, err := h.engine.Settle(context.Background(), a.ID, seller, "", 1_200_000)
	require.Error(t, err)
	assert.Equal(t, errors.ErrIntegrity, errors.Code(err))
}
