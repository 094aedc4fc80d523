package ble

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRadioExclusive(t *testing.T) {
	r := NewRadio()
	require.NoError(t, r.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Acquire(ctx), context.DeadlineExceeded)

	r.Release()
	require.NoError(t, r.Acquire(context.Background()))
	r.Release()
}

func TestRadioReleaseIdlePanics(t *testing.T) {
	assert.Panics(t, func() { NewRadio().Release() })
}

func TestRadioUrgentSignalsDemand(t *testing.T) {
	r := NewRadio()
	require.NoError(t, r.Acquire(context.Background()))
	assert.False(t, r.Contended())

	acquired := make(chan error, 1)
	go func() { acquired <- r.AcquireUrgent(context.Background()) }()

	select {
	case <-r.Demand():
	case <-time.After(waitFor):
		t.Fatal("no demand signal")
	}
	assert.True(t, r.Contended())

	r.Release()
	require.NoError(t, <-acquired)
	assert.False(t, r.Contended())
	r.Release()
}

func TestRadioUrgentFreeNoDemand(t *testing.T) {
	r := NewRadio()
	require.NoError(t, r.AcquireUrgent(context.Background()))
	select {
	case <-r.Demand():
		t.Fatal("demand signalled for a free radio")
	default:
	}
	r.Release()
}
