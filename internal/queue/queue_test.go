package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/rerr"
	"github.com/ratchetdata/ratchet/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedTask(t *testing.T, s *sqlite.Store, enabled bool) *model.Task {
	t.Helper()
	task := &model.Task{
		Name:         "echo",
		Version:      "1.0.0",
		SourceCode:   `function main(input){ return { echoed: input.msg }; }`,
		InputSchema:  `{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`,
		OutputSchema: `{"type":"object"}`,
		Enabled:      enabled,
	}
	created, err := s.Tasks().Create(context.Background(), task)
	require.NoError(t, err)
	return created
}

func TestSubmitValidatesInputSchema(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, true)
	q := New(s, DefaultRetryPolicy())

	_, err := q.Submit(context.Background(), Submission{TaskName: "echo", Input: `{"nope":1}`})
	require.Error(t, err)
	assert.Equal(t, rerr.KindValidation, rerr.KindOf(err))
}

func TestSubmitRejectsDisabledTask(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, false)
	q := New(s, DefaultRetryPolicy())

	_, err := q.Submit(context.Background(), Submission{TaskName: "echo", Input: `{"msg":"hi"}`})
	require.Error(t, err)
}

func TestSubmitDefaultsPriorityAndRetries(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, true)
	q := New(s, DefaultRetryPolicy())

	job, err := q.Submit(context.Background(), Submission{TaskName: "echo", Input: `{"msg":"hi"}`})
	require.NoError(t, err)
	assert.Equal(t, model.PriorityNormal, job.Priority)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, model.JobQueued, job.Status)
}

func TestDequeueThenJobMatchesExceptMutatedFields(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, true)
	q := New(s, DefaultRetryPolicy())

	submitted, err := q.Submit(context.Background(), Submission{TaskName: "echo", Input: `{"msg":"hi"}`})
	require.NoError(t, err)

	dequeued, err := q.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dequeued, 1)
	assert.Equal(t, submitted.ID, dequeued[0].ID)
	assert.Equal(t, submitted.Input, dequeued[0].Input)
	assert.Equal(t, model.JobProcessing, dequeued[0].Status)
	assert.NotNil(t, dequeued[0].StartedAt)
}

func TestFailAppliesRetryPolicyThenFails(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, true)
	one := 1
	q := New(s, RetryPolicy{InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond, JitterFactor: 0})

	job, err := q.Submit(context.Background(), Submission{TaskName: "echo", Input: `{"msg":"hi"}`, MaxRetries: &one})
	require.NoError(t, err)
	dequeued, err := q.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	job = dequeued[0]

	retryable := rerr.New(rerr.KindTransport, "boom")
	require.NoError(t, q.Fail(context.Background(), job, 0, retryable))

	got, err := s.Jobs().GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobRetrying, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	dequeued2, err := q.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	if len(dequeued2) == 0 {
		// scheduled_at may be slightly in the future; wait it out.
		time.Sleep(5 * time.Millisecond)
		dequeued2, err = q.Dequeue(context.Background(), 10)
		require.NoError(t, err)
	}
	require.Len(t, dequeued2, 1)
	require.NoError(t, q.Fail(context.Background(), dequeued2[0], 0, retryable))

	final, err := s.Jobs().GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, final.Status)
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, Multiplier: 10, MaxDelay: 5 * time.Second, JitterFactor: 0}
	assert.Equal(t, 5*time.Second, p.Backoff(5))
}
