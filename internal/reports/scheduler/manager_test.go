package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestValidateCronExpression(t *testing.T) {
	assert.NoError(t, ValidateCronExpression("0 * * * * *"))
	assert.NoError(t, ValidateCronExpression("@every 30s"))
	assert.Error(t, ValidateCronExpression("* * * * *"))
	assert.Error(t, ValidateCronExpression("not a spec"))
}

func TestAddJobValidation(t *testing.T) {
	m := NewScheduleManager(zap.NewNop())

	assert.Error(t, m.AddJob(Job{Name: "", Spec: "@every 1s", Run: func(context.Context) error { return nil }}))
	assert.Error(t, m.AddJob(Job{Name: "relay", Spec: "@every 1s"}))
	assert.Error(t, m.AddJob(Job{Name: "relay", Spec: "bad", Run: func(context.Context) error { return nil }}))
	assert.Equal(t, 0, m.GetActiveJobs())
}

func TestAddJobReplacesByName(t *testing.T) {
	m := NewScheduleManager(zap.NewNop())
	run := func(context.Context) error { return nil }

	require.NoError(t, m.AddJob(Job{Name: "relay", Spec: "0 * * * * *", Run: run}))
	require.NoError(t, m.AddJob(Job{Name: "relay", Spec: "30 * * * * *", Run: run}))
	assert.Equal(t, 1, m.GetActiveJobs())

	status, err := m.GetJobStatus("relay")
	require.NoError(t, err)
	assert.Equal(t, "30 * * * * *", status.Spec)

	m.RemoveJob("relay")
	assert.Equal(t, 0, m.GetActiveJobs())
	_, err = m.GetJobStatus("relay")
	assert.Error(t, err)
}

func TestScheduledJobRuns(t *testing.T) {
	m := NewScheduleManager(zap.NewNop())
	var runs atomic.Int32

	require.NoError(t, m.AddJob(Job{
		Name:    "relay",
		Spec:    "@every 1s",
		Timeout: time.Second,
		Run: func(ctx context.Context) error {
			_, hasDeadline := ctx.Deadline()
			if hasDeadline {
				runs.Add(1)
			}
			return nil
		},
	}))
	require.NoError(t, m.Start())
	assert.Error(t, m.Start())

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Stop(ctx)
}

func TestExecuteLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewScheduleManager(zap.New(core))

	m.execute(context.Background(), Job{Name: "snapshots", Run: func(context.Context) error {
		return errors.New("bucket missing")
	}})

	failures := logs.FilterMessage("Job failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "snapshots", failures[0].ContextMap()["job"])
}
