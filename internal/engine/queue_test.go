package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/testutil"
)

func TestFutureTable_IdsInIssueOrder(t *testing.T) {
	tbl := newFutureTable()
	a, b := testutil.NewManualFuture(), testutil.NewManualFuture()
	tbl.add([]ir.Future{a, b})
	tbl.add([]ir.Future{testutil.NewManualFuture()})

	require.Equal(t, 3, tbl.Len())
	assert.Equal(t, []int{0, 1, 2}, []int{tbl.pending[0].id, tbl.pending[1].id, tbl.pending[2].id})
}

func TestFutureTable_TakeReady(t *testing.T) {
	tbl := newFutureTable()
	slow, fast := testutil.NewManualFuture(), testutil.NewManualFuture()
	fast.SetReady()
	tbl.add([]ir.Future{slow, fast})

	pf, ready, ok := tbl.take(false)
	require.True(t, ok)
	assert.True(t, ready)
	assert.Equal(t, 1, pf.id)

	_, _, ok = tbl.take(false)
	assert.False(t, ok, "the remaining future is not ready")
	assert.Equal(t, 1, tbl.Len())
}

func TestFutureTable_TakeForced(t *testing.T) {
	tbl := newFutureTable()
	tbl.add([]ir.Future{testutil.NewManualFuture(), testutil.NewManualFuture()})

	pf, ready, ok := tbl.take(true)
	require.True(t, ok)
	assert.False(t, ready)
	assert.Equal(t, 0, pf.id, "forcing waits on the oldest future")
}

func TestFutureTable_Pop(t *testing.T) {
	tbl := newFutureTable()
	tbl.add([]ir.Future{testutil.NewManualFuture(), testutil.NewManualFuture()})

	_, ok := tbl.pop(1)
	assert.True(t, ok)
	_, ok = tbl.pop(1)
	assert.False(t, ok)
	_, ok = tbl.pop(7)
	assert.False(t, ok)
	assert.Equal(t, 1, tbl.Len())
}

func TestFutureTable_Empty(t *testing.T) {
	_, _, ok := newFutureTable().take(true)
	assert.False(t, ok)
}
