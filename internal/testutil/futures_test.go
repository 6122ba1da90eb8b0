package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/opflow/internal/ir"
)

func TestManualFuture(t *testing.T) {
	next := NewManualFuture()
	f := NewManualFuture(Assign("r", 1.0)).Then(next)

	assert.False(t, f.Ready())
	f.SetReady()
	assert.True(t, f.Ready())
	assert.Equal(t, 2, f.Polls())

	assigned, futures, err := f.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ir.Assignment{{Name: "r", Value: 1.0}}, assigned)
	assert.Equal(t, []ir.Future{next}, futures)
	assert.True(t, f.Completed())

	_, _, err = f.Complete(context.Background())
	assert.EqualError(t, err, "future completed twice")
}

func TestCountdownFuture(t *testing.T) {
	f := NewCountdownFuture(3, Assign("r", 2.0))

	assert.False(t, f.Ready())
	assert.False(t, f.Ready())
	assert.True(t, f.Ready())
	assert.True(t, f.Ready())
	assert.Equal(t, 4, f.Polls())

	assigned, _, err := f.Complete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ir.Assignment{{Name: "r", Value: 2.0}}, assigned)
}

func TestCountdownFuture_ReadyImmediately(t *testing.T) {
	assert.True(t, NewCountdownFuture(0).Ready())
	assert.True(t, NewCountdownFuture(1).Ready())
}
