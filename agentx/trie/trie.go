// Package trie implements the radix trie that backs a region's snapshot:
// a prefix-indexed ordered mapping from OID to value.Value.
package trie

import (
	"sort"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/value"
)

// node owns a possibly-empty value for the OID ending at this node, plus
// children keyed by the next sub-identifier. A node with no value and no
// children is unreachable and must be pruned.
type node struct {
	hasValue bool
	val      value.Value
	children map[uint32]*node
}

func newNode() *node {
	return &node{children: make(map[uint32]*node)}
}

func (n *node) isEmpty() bool {
	return !n.hasValue && len(n.children) == 0
}

// sortedKeys returns this node's child sub-identifiers in ascending order,
// matching the trie's required iteration order.
func (n *node) sortedKeys() []uint32 {
	keys := make([]uint32, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Trie is a mutable radix trie over OID keys. It is not safe for
// concurrent use; the updater package builds a fresh Trie on every
// refresh and a Region publishes it without mutating it afterwards,
// rather than sharing a single mutable Trie across goroutines.
type Trie struct {
	root *node
	size int
}

// New returns an empty trie.
func New() *Trie {
	return &Trie{root: newNode()}
}

// Len reports the number of keys currently stored.
func (t *Trie) Len() int { return t.size }

// Insert descends the trie creating nodes as needed and stores val at oid,
// returning the prior value if one was present.
func (t *Trie) Insert(o oid.OID, val value.Value) (prior value.Value, hadPrior bool) {
	n := t.root
	for _, sub := range o.SubIdentifiers() {
		child, ok := n.children[sub]
		if !ok {
			child = newNode()
			n.children[sub] = child
		}
		n = child
	}
	if n.hasValue {
		prior, hadPrior = n.val, true
	}
	n.val = val
	n.hasValue = true
	if !hadPrior {
		t.size++
	}
	return prior, hadPrior
}

// Get performs an exact-match lookup.
func (t *Trie) Get(o oid.OID) (value.Value, bool) {
	n := t.descend(o)
	if n == nil || !n.hasValue {
		return value.Value{}, false
	}
	return n.val, true
}

// descend walks from the root along o's sub-identifiers, returning the
// terminal node or nil if the path does not exist.
func (t *Trie) descend(o oid.OID) *node {
	n := t.root
	for _, sub := range o.SubIdentifiers() {
		child, ok := n.children[sub]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// Remove deletes the value stored at oid, pruning ancestors that become
// empty (no value and no children). Returns whether a value was present.
func (t *Trie) Remove(o oid.OID) bool {
	sub := o.SubIdentifiers()
	path := make([]*node, 0, len(sub)+1)
	path = append(path, t.root)

	n := t.root
	for _, s := range sub {
		child, ok := n.children[s]
		if !ok {
			return false
		}
		path = append(path, child)
		n = child
	}

	if !n.hasValue {
		return false
	}
	n.hasValue = false
	n.val = value.Value{}
	t.size--

	// Prune from the leaf up; stop at the first ancestor that still has a
	// value or other children.
	for i := len(path) - 1; i > 0; i-- {
		cur := path[i]
		if !cur.isEmpty() {
			break
		}
		parent := path[i-1]
		delete(parent.children, sub[i-1])
	}
	return true
}

// Entry pairs an OID with its value, used by Successor and Range.
type Entry struct {
	OID   oid.OID
	Value value.Value
}

// Successor returns the smallest (oid, value) pair with oid > q (or oid >=
// q when inclusive is true). It is implemented as a bounded in-order
// traversal driven by q rather than a full walk, so cost is O(k + h) for
// an OID of length k in a trie of height h.
func (t *Trie) Successor(q oid.OID, inclusive bool) (Entry, bool) {
	found := false
	var result Entry

	// onPath is true while prefix is itself a prefix of q; there, children
	// below q's next sub-identifier hold only keys smaller than q and are
	// skipped.
	var walk func(n *node, prefix []uint32, onPath bool) bool
	walk = func(n *node, prefix []uint32, onPath bool) bool {
		cur, _ := oid.New(prefix...)
		cmp := cur.Compare(q)
		qualifies := cmp > 0 || (inclusive && cmp == 0)
		if n.hasValue && qualifies {
			result = Entry{OID: cur, Value: n.val}
			return true
		}
		d := len(prefix)
		for _, k := range n.sortedKeys() {
			if onPath && d < q.Len() && k < q.At(d) {
				continue
			}
			if walk(n.children[k], append(prefix, k), onPath && d < q.Len() && k == q.At(d)) {
				return true
			}
		}
		return false
	}

	found = walk(t.root, nil, true)
	return result, found
}

// Range lazily enumerates all (oid, value) pairs with start <= oid < end
// (or start < oid < end when inclusiveStart is false). A zero-length end
// OID means "unbounded". The callback is invoked in strictly increasing
// key order; returning false from it stops the traversal early.
func (t *Trie) Range(start, end oid.OID, inclusiveStart bool, yield func(Entry) bool) {
	unbounded := end.IsEmpty()

	var walk func(n *node, prefix []uint32) bool
	walk = func(n *node, prefix []uint32) bool {
		cur, _ := oid.New(prefix...)
		if n.hasValue {
			cmpStart := cur.Compare(start)
			afterStart := cmpStart > 0 || (inclusiveStart && cmpStart == 0)
			beforeEnd := unbounded || cur.Less(end)
			if afterStart && beforeEnd {
				if !yield(Entry{OID: cur, Value: n.val}) {
					return false
				}
			}
		}
		for _, k := range n.sortedKeys() {
			if !walk(n.children[k], append(prefix, k)) {
				return false
			}
		}
		return true
	}

	walk(t.root, nil)
}

// All returns every (oid, value) pair in ascending OID order. Intended for
// tests and small snapshots; Range should be preferred for large tries
// where early termination matters.
func (t *Trie) All() []Entry {
	var out []Entry
	t.Range(oid.OID{}, oid.OID{}, true, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Clone returns a deep copy of t, suitable for an updater to build a fresh
// snapshot by mutating the copy while the original remains published.
func (t *Trie) Clone() *Trie {
	cloned := New()
	cloned.root = cloneNode(t.root)
	cloned.size = t.size
	return cloned
}

func cloneNode(n *node) *node {
	cp := &node{hasValue: n.hasValue, val: n.val, children: make(map[uint32]*node, len(n.children))}
	for k, child := range n.children {
		cp.children[k] = cloneNode(child)
	}
	return cp
}
