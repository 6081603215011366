package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/rerr"
)

func TestShutdownDrainsDuringGraceful(t *testing.T) {
	c := New(Timeouts{Graceful: time.Second, Urgent: time.Second, Forced: 10 * time.Millisecond})
	c.TaskStarted()
	c.TaskStarted()

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.TaskCompleted()
		c.TaskCompleted()
	}()

	err := c.Shutdown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.InFlight())
}

func TestShutdownEscalatesThroughAllPhases(t *testing.T) {
	c := New(Timeouts{Graceful: 10 * time.Millisecond, Urgent: 10 * time.Millisecond, Forced: 10 * time.Millisecond})
	c.TaskStarted() // never completes

	sub := c.Subscribe()
	err := c.Shutdown(context.Background())
	require.NoError(t, err)

	var seen []Urgency
	for u := range sub {
		seen = append(seen, u)
	}
	assert.Equal(t, []Urgency{Graceful, Urgent, Forced}, seen)
}

func TestShutdownSecondCallFails(t *testing.T) {
	c := New(Timeouts{Graceful: time.Millisecond, Urgent: time.Millisecond, Forced: time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- c.Shutdown(context.Background()) }()
	time.Sleep(2 * time.Millisecond)

	err := c.Shutdown(context.Background())
	assert.ErrorIs(t, err, rerr.ErrAlreadyShuttingDown)
	<-done
}

func TestTaskCompletedNeverGoesNegative(t *testing.T) {
	c := New(DefaultTimeouts())
	c.TaskCompleted()
	c.TaskCompleted()
	assert.Equal(t, int64(0), c.InFlight())
}
