package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/queue"
	"github.com/ratchetdata/ratchet/internal/store"
	"github.com/ratchetdata/ratchet/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNormalizeFiveFieldCron(t *testing.T) {
	assert.Equal(t, "0 */5 * * * *", NormalizeCron("*/5 * * * *"))
}

func TestNormalizeSixFieldPassthrough(t *testing.T) {
	assert.Equal(t, "0 */5 * * * *", NormalizeCron("0 */5 * * * *"))
}

func TestNormalizedCronsProduceSameSchedule(t *testing.T) {
	a, err := ParseNormalized("*/5 * * * *")
	require.NoError(t, err)
	b, err := ParseNormalized("0 */5 * * * *")
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, a.Next(base), b.Next(base))
}

func TestTickFiresDueScheduleAndAdvancesNextRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.Tasks().Create(ctx, &model.Task{Name: "noop", Version: "1.0.0", SourceCode: "function main(i){return {}}", InputSchema: "{}", OutputSchema: "{}", Enabled: true})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	sch, err := s.Schedules().Create(ctx, &model.Schedule{TaskID: task.ID, CronExpression: "*/1 * * * *", Enabled: true, Input: "{}", NextRun: &past})
	require.NoError(t, err)

	q := queue.New(s, queue.DefaultRetryPolicy())
	sc := New(s, q, time.Minute)
	before := time.Now().UTC()
	sc.Tick(ctx)

	jobs, err := s.Jobs().List(ctx, store.JobFilter{}, store.Page{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, task.ID, jobs[0].TaskID)

	updated, err := s.Schedules().GetByID(ctx, sch.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRun)
	// The next firing is the following minute boundary: after the tick,
	// at most one minute later.
	assert.True(t, updated.NextRun.After(before))
	assert.False(t, updated.NextRun.After(before.Add(time.Minute+time.Second)))
}

func TestTickDisablesScheduleOnInvalidCron(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.Tasks().Create(ctx, &model.Task{Name: "noop", Version: "1.0.0", SourceCode: "function main(i){return {}}", InputSchema: "{}", OutputSchema: "{}", Enabled: true})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	sch, err := s.Schedules().Create(ctx, &model.Schedule{TaskID: task.ID, CronExpression: "not a cron", Enabled: true, Input: "{}", NextRun: &past})
	require.NoError(t, err)

	q := queue.New(s, queue.DefaultRetryPolicy())
	New(s, q, time.Minute).Tick(ctx)

	updated, err := s.Schedules().GetByID(ctx, sch.ID)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.NotEmpty(t, updated.DisabledReason)
}
