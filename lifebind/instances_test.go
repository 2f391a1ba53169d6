package lifebind

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	cleaner "github.com/Novaly-Studios/Cleaner"
	"github.com/Novaly-Studios/Cleaner/host"
	"github.com/Novaly-Studios/Cleaner/host/hostmock"
	"github.com/Novaly-Studios/Cleaner/monitoring"
)

func newMockBinder() (*Binder, *clock.Mock) {
	mock := clock.NewMock()
	b := New(Options{
		Monitor:  monitoring.NewMockMonitor(true),
		Clock:    mock,
		Debounce: time.Second,
	})
	return b, mock
}

func TestDestroyEventDisjunction(t *testing.T) {
	b, _ := newMockBinder()
	tree := hostmock.New()
	node := tree.Root().NewChild()

	c, err := b.ForHandles(Disjunction, HandleOptions{UseDestroyEvent: true}, node)
	require.NoError(t, err)
	d := &disposal{}
	require.NoError(t, c.Add(d))

	node.Destroy()
	require.Equal(t, cleaner.StateCleaned, c.State(), "Expected clean on destroy")
	require.Equal(t, 1, d.disposals())

	node.Destroy() // destroy is one-shot, nothing left to signal
	require.Equal(t, 1, d.disposals())
}

func TestDestroyEventConjunction(t *testing.T) {
	b, _ := newMockBinder()
	tree := hostmock.New()
	nodes := []host.Handle{
		tree.Root().NewChild(),
		tree.Root().NewChild(),
		tree.Root().NewChild(),
	}

	c, err := b.ForHandles(Conjunction, HandleOptions{UseDestroyEvent: true}, nodes...)
	require.NoError(t, err)

	nodes[2].(*hostmock.Node).Destroy()
	nodes[0].(*hostmock.Node).Destroy()
	require.Equal(t, cleaner.StateActive, c.State(), "Expected no clean before the last destroy")

	nodes[1].(*hostmock.Node).Destroy()
	require.Equal(t, cleaner.StateCleaned, c.State())
}

func TestTreeRemovalIsDebounced(t *testing.T) {
	b, mock := newMockBinder()
	tree := hostmock.New()
	node := tree.Root().NewChild()

	c, err := b.ForHandles(Disjunction, HandleOptions{}, node)
	require.NoError(t, err)

	node.SetParent(nil)
	require.Equal(t, cleaner.StateActive, c.State(), "Expected removal to wait out the debounce")

	mock.Add(time.Second / 2)
	require.Equal(t, cleaner.StateActive, c.State())

	mock.Add(time.Second / 2)
	require.Equal(t, cleaner.StateCleaned, c.State(), "Expected clean once the debounce elapsed")
}

func TestTransientReparentNeverCounts(t *testing.T) {
	b, mock := newMockBinder()
	tree := hostmock.New()
	node := tree.Root().NewChild()
	other := tree.Root().NewChild()

	c, err := b.ForHandles(Disjunction, HandleOptions{}, node)
	require.NoError(t, err)

	// a reparent passing through the detached state returns to the tree
	// before the debounce elapses
	node.SetParent(nil)
	mock.Add(time.Second / 2)
	node.SetParent(other)
	mock.Add(2 * time.Second)
	require.Equal(t, cleaner.StateActive, c.State(), "Expected the transient removal to be debounced away")

	node.SetParent(nil)
	mock.Add(time.Second)
	require.Equal(t, cleaner.StateCleaned, c.State())
}

func TestBindingOutsideTreeStartsDebounce(t *testing.T) {
	b, mock := newMockBinder()
	tree := hostmock.New()
	node := tree.NewNode() // never attached

	c, err := b.ForHandles(Disjunction, HandleOptions{}, node)
	require.NoError(t, err)
	require.Equal(t, cleaner.StateActive, c.State())

	mock.Add(time.Second)
	require.Equal(t, cleaner.StateCleaned, c.State(), "Expected a handle bound outside the tree to count after one debounce")
}

func TestDestroyTriggersTreeRemovalMode(t *testing.T) {
	b, mock := newMockBinder()
	tree := hostmock.New()
	node := tree.Root().NewChild()

	c, err := b.ForHandles(Disjunction, HandleOptions{}, node)
	require.NoError(t, err)

	// destruction implies removal, so the default mode observes it too
	node.Destroy()
	mock.Add(time.Second)
	require.Equal(t, cleaner.StateCleaned, c.State())
}

func TestManualCleanStopsWatches(t *testing.T) {
	b, mock := newMockBinder()
	tree := hostmock.New()
	node := tree.Root().NewChild()

	c, err := b.ForHandles(Disjunction, HandleOptions{}, node)
	require.NoError(t, err)

	node.SetParent(nil)
	require.NoError(t, c.Clean())
	require.False(t, b.IsBound(c))

	// the pending debounce must have been canceled with the watch
	mock.Add(2 * time.Second)
	node.SetParent(tree.Root())
	node.SetParent(nil)
	mock.Add(2 * time.Second)
}

func TestManualCleanCancelsDestroySubscriptions(t *testing.T) {
	b, _ := newMockBinder()
	tree := hostmock.New()
	node := tree.Root().NewChild()

	c, err := b.ForHandles(Conjunction, HandleOptions{UseDestroyEvent: true}, node)
	require.NoError(t, err)
	require.NoError(t, c.Clean())

	node.Destroy() // subscription is gone, this must signal nothing
}

func TestBindHandlesValidation(t *testing.T) {
	b, _ := newMockBinder()
	c := cleaner.New(monitoring.NewMockMonitor(true))

	require.Equal(t, ErrNoLifetimes, b.BindHandles(c, Conjunction, HandleOptions{}))
	require.Equal(t, ErrNilLifetime, b.BindHandles(c, Conjunction, HandleOptions{}, nil))
}
