// Package host defines the integration point between cleanup binding and a
// host object tree.
//
// A host object tree is whatever hierarchy of externally owned objects the
// embedding application manages: scene graphs, widget trees, supervision
// trees. The cleaner packages never mutate the tree, they only observe
// lifetime events through the Handle interface, so embedders adapt their
// object model by implementing Handle. The hostmock sub-package provides an
// in-memory tree for tests.
package host

// Handle is a reference to an object in a host object tree.
//
// Implementations must be safe for concurrent use. Event callbacks may be
// invoked from any goroutine, but implementations must not invoke them while
// holding locks that the callback could reacquire through Handle methods.
type Handle interface {
	// InTree reports whether the object is currently attached to the root of
	// its tree. A destroyed object is never in the tree.
	InTree() bool

	// Destroyed reports whether the object has been destroyed.
	Destroyed() bool

	// OnDestroyed registers fn to be invoked once when the object is
	// destroyed. If the object is already destroyed, fn is invoked
	// synchronously before OnDestroyed returns. The returned cancel function
	// unregisters fn and is safe to call multiple times.
	OnDestroyed(fn func()) (cancel func())

	// OnAncestryChanged registers fn to be invoked every time the object's
	// ancestry changes, whether or not the change affects tree membership.
	// The returned cancel function unregisters fn and is safe to call
	// multiple times.
	OnAncestryChanged(fn func()) (cancel func())
}
