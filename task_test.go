package cleaner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Novaly-Studios/Cleaner/monitoring"
)

func TestGoCouplesTaskToCleaner(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)

	started := make(chan struct{})
	task := c.Go(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started
	require.Equal(t, 1, c.Len(), "Expected task registered as an entry")
	require.True(t, c.Contains(task))

	require.NoError(t, c.Clean())
	<-task.Done()
	require.Equal(t, 0, c.Len())
}

func TestTaskRemovesItselfOnCompletion(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)

	task := c.Go(func(ctx context.Context) {})
	<-task.Done()
	require.Equal(t, 0, c.Len(), "Expected task to remove itself when its function returns")
	require.NoError(t, c.Clean())
}

func TestTaskCancelStopsOnlyItsTask(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)

	task := c.Go(func(ctx context.Context) { <-ctx.Done() })
	other := c.Go(func(ctx context.Context) { <-ctx.Done() })

	task.Cancel()
	<-task.Done()
	select {
	case <-other.Done():
		t.Fatal("Expected the other task to keep running")
	default:
	}

	require.NoError(t, c.Clean())
	<-other.Done()
}

func TestGoOnCleanedCleanerStartsCanceled(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)
	require.NoError(t, c.Clean())

	errs := make(chan error, 1)
	task := c.Go(func(ctx context.Context) {
		errs <- ctx.Err()
	})
	require.Error(t, <-errs, "Expected a context that is canceled from the start")
	<-task.Done()
}

func TestTaskPanicIsReportedNotReturned(t *testing.T) {
	monitor := monitoring.NewMockMonitor(false)
	c := New(monitor)

	task := c.Go(func(ctx context.Context) {
		panic("task exploded")
	})
	<-task.Done()
	require.Equal(t, 1, monitor.IncidentCount(), "Expected the panic reported")
	require.NoError(t, c.Clean(), "Expected task panics not to surface from Clean")
}

func TestTaskAddedToAnotherCleaner(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)
	other := New(monitor)

	task := c.Go(func(ctx context.Context) { <-ctx.Done() })
	require.NoError(t, other.Add(task), "Expected a task to carry the Cancel capability")

	require.NoError(t, other.Clean())
	<-task.Done()
	require.NoError(t, c.Clean())
}
