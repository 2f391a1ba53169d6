// Package hostmock implements an in-memory host object tree for use in unit
// tests.
//
// The tree mimics the semantics cleanup binding cares about: reparenting
// notifies the moved subtree, destruction is recursive, one-shot and detaches
// the subtree first. Event callbacks run outside the tree lock, so callbacks
// may call back into the tree.
package hostmock

import "sync"

// Tree is an in-memory host object tree. The zero value is not usable, use
// New.
type Tree struct {
	m    sync.Mutex
	root *Node
}

// New creates a tree holding just its root node.
func New() *Tree {
	t := &Tree{}
	t.root = &Node{tree: t, isRoot: true}
	return t
}

// Root returns the root node. The root cannot be reparented or destroyed.
func (t *Tree) Root() *Node {
	return t.root
}

// NewNode creates a detached node. Attach it with SetParent.
func (t *Tree) NewNode() *Node {
	return &Node{tree: t}
}

type subscription struct {
	id int
	fn func()
}

// Node implements host.Handle on top of a Tree.
type Node struct {
	tree         *Tree
	isRoot       bool
	parent       *Node
	children     []*Node
	destroyed    bool
	nextID       int
	destroySubs  []subscription
	ancestrySubs []subscription
}

// NewChild creates a node parented to n.
func (n *Node) NewChild() *Node {
	child := n.tree.NewNode()
	child.SetParent(n)
	return child
}

// InTree reports whether n's parent chain reaches the tree root.
func (n *Node) InTree() bool {
	n.tree.m.Lock()
	defer n.tree.m.Unlock()

	for p := n; p != nil; p = p.parent {
		if p.isRoot {
			return true
		}
	}
	return false
}

// Destroyed reports whether n has been destroyed.
func (n *Node) Destroyed() bool {
	n.tree.m.Lock()
	defer n.tree.m.Unlock()

	return n.destroyed
}

// SetParent moves n, and the subtree below it, under parent. A nil parent
// detaches n from the tree. Ancestry callbacks fire on n and all its
// descendants, whether or not tree membership changed.
//
// SetParent panics if n is the root or destroyed, or if parent is destroyed,
// belongs to another tree, or is a descendant of n.
func (n *Node) SetParent(parent *Node) {
	t := n.tree
	t.m.Lock()
	if n.isRoot {
		t.m.Unlock()
		panic("hostmock: cannot set parent of the root")
	}
	if n.destroyed {
		t.m.Unlock()
		panic("hostmock: node is destroyed")
	}
	if parent != nil {
		if parent.tree != t {
			t.m.Unlock()
			panic("hostmock: parent belongs to another tree")
		}
		if parent.destroyed {
			t.m.Unlock()
			panic("hostmock: parent is destroyed")
		}
		for p := parent; p != nil; p = p.parent {
			if p == n {
				t.m.Unlock()
				panic("hostmock: cannot parent a node to its own descendant")
			}
		}
	}
	if n.parent == parent {
		t.m.Unlock()
		return
	}

	if n.parent != nil {
		n.parent.removeChild(n)
	}
	n.parent = parent
	if parent != nil {
		parent.children = append(parent.children, n)
	}

	var callbacks []func()
	n.collectAncestrySubs(&callbacks)
	t.m.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Destroy detaches n and recursively destroys the subtree below it. For each
// destroyed node, ancestry callbacks fire before destroy callbacks, parents
// before children. Destroy is idempotent and panics only on the root.
func (n *Node) Destroy() {
	t := n.tree
	t.m.Lock()
	if n.isRoot {
		t.m.Unlock()
		panic("hostmock: cannot destroy the root")
	}
	if n.destroyed {
		t.m.Unlock()
		return
	}

	if n.parent != nil {
		n.parent.removeChild(n)
		n.parent = nil
	}
	var ancestry, destroyed []func()
	n.destroyLocked(&ancestry, &destroyed)
	t.m.Unlock()

	for _, fn := range ancestry {
		fn()
	}
	for _, fn := range destroyed {
		fn()
	}
}

func (n *Node) destroyLocked(ancestry, destroyed *[]func()) {
	n.destroyed = true
	for _, s := range n.ancestrySubs {
		*ancestry = append(*ancestry, s.fn)
	}
	n.ancestrySubs = nil
	for _, s := range n.destroySubs {
		*destroyed = append(*destroyed, s.fn)
	}
	n.destroySubs = nil
	for _, c := range n.children {
		c.parent = nil
		c.destroyLocked(ancestry, destroyed)
	}
	n.children = nil
}

// OnDestroyed registers fn to run once when n is destroyed. If n is already
// destroyed, fn runs synchronously before OnDestroyed returns.
func (n *Node) OnDestroyed(fn func()) (cancel func()) {
	n.tree.m.Lock()
	if n.destroyed {
		n.tree.m.Unlock()
		fn()
		return func() {}
	}
	id := n.nextID
	n.nextID++
	n.destroySubs = append(n.destroySubs, subscription{id: id, fn: fn})
	n.tree.m.Unlock()

	return func() {
		n.tree.m.Lock()
		defer n.tree.m.Unlock()
		n.destroySubs = removeSub(n.destroySubs, id)
	}
}

// OnAncestryChanged registers fn to run on every ancestry change of n.
// A callback canceled concurrently with an event may still be invoked once.
func (n *Node) OnAncestryChanged(fn func()) (cancel func()) {
	n.tree.m.Lock()
	id := n.nextID
	n.nextID++
	n.ancestrySubs = append(n.ancestrySubs, subscription{id: id, fn: fn})
	n.tree.m.Unlock()

	return func() {
		n.tree.m.Lock()
		defer n.tree.m.Unlock()
		n.ancestrySubs = removeSub(n.ancestrySubs, id)
	}
}

func (n *Node) removeChild(child *Node) {
	for i, c := range n.children {
		if c == child {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

func (n *Node) collectAncestrySubs(callbacks *[]func()) {
	for _, s := range n.ancestrySubs {
		*callbacks = append(*callbacks, s.fn)
	}
	for _, c := range n.children {
		c.collectAncestrySubs(callbacks)
	}
}

func removeSub(subs []subscription, id int) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
