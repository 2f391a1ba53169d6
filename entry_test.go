package cleaner

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Novaly-Studios/Cleaner/monitoring"
)

type calculator struct {
	m     sync.Mutex
	total int
	fail  error
}

func (c *calculator) AddN(n int) {
	c.m.Lock()
	defer c.m.Unlock()
	c.total += n
}

func (c *calculator) SumAll(base int, ns ...int) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.total += base
	for _, n := range ns {
		c.total += n
	}
	return c.fail
}

func (c *calculator) Total() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.total
}

func TestInvocationValidation(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)
	calc := &calculator{}

	cases := []struct {
		name string
		inv  Invocation
	}{
		{"nil object", Invocation{Method: "AddN", Args: []interface{}{1}}},
		{"empty method", Invocation{Object: calc, Args: []interface{}{1}}},
		{"unknown method", Invocation{Object: calc, Method: "NoSuchMethod"}},
		{"too few args", Invocation{Object: calc, Method: "AddN"}},
		{"too many args", Invocation{Object: calc, Method: "AddN", Args: []interface{}{1, 2}}},
		{"wrong arg type", Invocation{Object: calc, Method: "AddN", Args: []interface{}{"one"}}},
		{"nil for int", Invocation{Object: calc, Method: "AddN", Args: []interface{}{nil}}},
		{"variadic too few", Invocation{Object: calc, Method: "SumAll"}},
	}
	for _, tc := range cases {
		err := c.Add(tc.inv)
		_, ok := IsValidationError(err)
		require.True(t, ok, "Expected validation error for %s, got: %v", tc.name, err)
	}
	require.Equal(t, 0, c.Len())
}

func TestInvocationDisposal(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)
	calc := &calculator{}

	require.NoError(t, c.Add(
		Invocation{Object: calc, Method: "AddN", Args: []interface{}{2}},
		Invocation{Object: calc, Method: "SumAll", Args: []interface{}{10}},
		Invocation{Object: calc, Method: "SumAll", Args: []interface{}{100, 20, 3}},
	))
	require.NoError(t, c.Clean())
	require.Equal(t, 135, calc.Total(), "Expected fixed and variadic invocations applied")
}

func TestInvocationErrorCollected(t *testing.T) {
	monitor := monitoring.NewMockMonitor(false)
	c := New(monitor)
	calc := &calculator{fail: errors.New("sum refused")}

	require.NoError(t, c.Add(Invocation{Object: calc, Method: "SumAll", Args: []interface{}{1}}))
	err := c.Clean()
	require.Error(t, err, "Expected the invocation error collected")
	require.Contains(t, err.Error(), "sum refused")
	require.Equal(t, 1, monitor.IncidentCount())
}

func TestInvocationIdentity(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)
	calc := &calculator{}
	other := &calculator{}

	require.NoError(t, c.Add(Invocation{Object: calc, Method: "AddN", Args: []interface{}{1}}))

	// Invocations are identified by object and method, the arguments play
	// no part.
	require.True(t, c.Contains(Invocation{Object: calc, Method: "AddN", Args: []interface{}{99}}))
	require.False(t, c.Contains(Invocation{Object: other, Method: "AddN", Args: []interface{}{1}}))
	require.False(t, c.Contains(Invocation{Object: calc, Method: "SumAll"}))

	c.Remove(Invocation{Object: calc, Method: "AddN"})
	require.Equal(t, 0, c.Len())
}

type valueHandle struct {
	tags []string
}

func (valueHandle) Destroy() error { return nil }

func TestUncomparableValuesNeverMatch(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)

	h := valueHandle{tags: []string{"a"}}
	require.NoError(t, c.Add(h))

	// Value types carrying slices have no usable identity; handles meant to
	// be removable should be added as pointers.
	require.False(t, c.Contains(h))
	c.Remove(h)
	require.Equal(t, 1, c.Len())
	require.NoError(t, c.Clean())
}

func TestEntryKindPrecedence(t *testing.T) {
	monitor := monitoring.NewMockMonitor(true)
	c := New(monitor)

	multi := newMultiCapability()
	require.NoError(t, c.Add(multi))
	require.NoError(t, c.Clean())
	<-multi.done
	require.Equal(t, "cancel", multi.first(), "Expected Cancel preferred over Disconnect and Close")
}

type multiCapability struct {
	m      sync.Mutex
	called string
	done   chan struct{}
}

func newMultiCapability() *multiCapability {
	return &multiCapability{done: make(chan struct{})}
}

func (mc *multiCapability) set(v string) {
	mc.m.Lock()
	defer mc.m.Unlock()
	if mc.called == "" {
		mc.called = v
		close(mc.done)
	}
}

func (mc *multiCapability) first() string {
	mc.m.Lock()
	defer mc.m.Unlock()
	return mc.called
}

func (mc *multiCapability) Cancel()     { mc.set("cancel") }
func (mc *multiCapability) Disconnect() { mc.set("disconnect") }
func (mc *multiCapability) Close() error {
	mc.set("close")
	return nil
}
