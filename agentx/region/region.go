// Package region implements the registered-subtree table a session
// dispatches Get/GetNext/GetBulk requests against.
// Each Region owns an atomically-swapped trie snapshot; updaters publish
// fresh snapshots without ever blocking a concurrent read.
package region

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/pdu"
	"github.com/agentx-go/subagent/agentx/settxn"
	"github.com/agentx-go/subagent/agentx/trie"
	"github.com/agentx-go/subagent/agentx/value"
)

// ErrNoRegion is returned when no registered region owns the queried OID.
var ErrNoRegion = errors.New("no region for oid")

// Region is a single registered subtree: its root OID, the registration
// parameters sent in the Register PDU, and the current snapshot of
// (OID, Value) pairs an updater publishes.
type Region struct {
	Root       oid.OID
	Priority   uint8
	RangeSubid uint8
	UpperBound uint32
	Context    string

	// Handler services TestSet/CommitSet/UndoSet/CleanupSet for VarBinds
	// whose name falls under Root. Nil for a read-only region.
	Handler settxn.Handler

	snapshot atomic.Pointer[trie.Trie]
}

// NewRegion creates a Region rooted at root with an empty snapshot.
func NewRegion(root oid.OID, priority, rangeSubid uint8, upperBound uint32, context string) *Region {
	r := &Region{Root: root, Priority: priority, RangeSubid: rangeSubid, UpperBound: upperBound, Context: context}
	r.snapshot.Store(trie.New())
	return r
}

// Publish atomically replaces the region's snapshot. A request in flight
// at the time of a Publish continues to observe the snapshot pointer it
// loaded at request start; it never sees a partially updated trie.
func (r *Region) Publish(t *trie.Trie) {
	r.snapshot.Store(t)
}

// Snapshot returns the region's current trie, safe to read concurrently
// with a Publish.
func (r *Region) Snapshot() *trie.Trie {
	return r.snapshot.Load()
}

// Table is the set of regions a session has registered, keyed by root OID.
// Only the session loop mutates it, so a plain mutex is sufficient; it is
// not on the per-request hot path.
type Table struct {
	mu      sync.RWMutex
	regions []*Region
}

// NewTable returns an empty region table.
func NewTable() *Table {
	return &Table{}
}

// Add registers r in the table.
func (t *Table) Add(r *Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.regions = append(t.regions, r)
}

// Remove drops the region rooted at root, if present.
func (t *Table) Remove(root oid.OID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.regions {
		if r.Root.Equal(root) {
			t.regions = append(t.regions[:i], t.regions[i+1:]...)
			return
		}
	}
}

// All returns a snapshot slice of the currently registered regions.
func (t *Table) All() []*Region {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Region, len(t.regions))
	copy(out, t.regions)
	return out
}

// owning returns the region whose Root is a prefix of o, preferring the
// longest (most specific) match when subtrees overlap.
func (t *Table) owning(o oid.OID) *Region {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var best *Region
	for _, r := range t.regions {
		if r.Root.IsPrefixOf(o) {
			if best == nil || best.Root.Len() < r.Root.Len() {
				best = r
			}
		}
	}
	return best
}

// Owner returns the region whose Root is a prefix of o, or nil if none is
// registered. Used by the session loop to find the SET handler for an
// incoming TestSet's VarBinds.
func (t *Table) Owner(o oid.OID) *Region {
	return t.owning(o)
}

// Get performs an exact lookup: a miss inside a registered region's root is
// NoSuchInstance; an OID outside any region's root is NoSuchObject; a hit
// on a non-leaf (internal trie node with no value) is also NoSuchInstance.
func (t *Table) Get(o oid.OID) value.Value {
	r := t.owning(o)
	if r == nil {
		return value.NoSuchObject()
	}
	v, ok := r.Snapshot().Get(o)
	if !ok {
		return value.NoSuchInstance()
	}
	return v
}

// GetNext returns the lexicographic successor within the owning region's
// snapshot, or EndOfMibView when the result falls outside the region's
// subtree or the snapshot is exhausted. When start == end in the request
// (an empty range), this degenerates to Get's exact-lookup semantics.
func (t *Table) GetNext(sr pdu.SearchRange) (oid.OID, value.Value) {
	if !sr.End.IsEmpty() && sr.Start.Equal(sr.End) {
		return sr.Start, t.Get(sr.Start)
	}
	r := t.owning(sr.Start)
	if r == nil {
		return oid.OID{}, value.EndOfMibView()
	}
	entry, ok := r.Snapshot().Successor(sr.Start, sr.Include)
	if !ok || !r.Root.IsPrefixOf(entry.OID) {
		return oid.OID{}, value.EndOfMibView()
	}
	if !sr.End.IsEmpty() && !entry.OID.Less(sr.End) {
		return oid.OID{}, value.EndOfMibView()
	}
	return entry.OID, entry.Value
}

// DispatchResult is the outcome of servicing a Get/GetNext/GetBulk
// request: the VarBinds to place in the Response, plus an error status
// and 1-based offending index (zero when error is ErrNone).
type DispatchResult struct {
	VarBinds []pdu.VarBind
	Error    pdu.ErrorStatus
	Index    uint16
}

// DispatchGet services a Get PDU: each SearchRange.Start is looked up
// exactly.
func (t *Table) DispatchGet(ranges []pdu.SearchRange) DispatchResult {
	vbs := make([]pdu.VarBind, len(ranges))
	for i, sr := range ranges {
		vbs[i] = pdu.VarBind{Name: sr.Start, Value: t.Get(sr.Start)}
	}
	return DispatchResult{VarBinds: vbs, Error: pdu.ErrNone}
}

// DispatchGetNext services a GetNext PDU: each SearchRange advances via
// successor.
func (t *Table) DispatchGetNext(ranges []pdu.SearchRange) DispatchResult {
	vbs := make([]pdu.VarBind, len(ranges))
	for i, sr := range ranges {
		name, v := t.GetNext(sr)
		if v.Kind() == value.KindEndOfMibView {
			name = sr.Start
		}
		vbs[i] = pdu.VarBind{Name: name, Value: v}
	}
	return DispatchResult{VarBinds: vbs, Error: pdu.ErrNone}
}

// DispatchGetBulk services a GetBulk PDU: the first nonRepeaters ranges
// behave like GetNext once; the remaining ranges repeat maxRepetitions
// times, each repetition advancing its own cursor, emitted one repetition
// at a time (r1-rep1, r2-rep1, ..., r1-rep2, r2-rep2, ...). A range that
// yields EndOfMibView stops repeating but does not halt the others.
func (t *Table) DispatchGetBulk(ranges []pdu.SearchRange, nonRepeaters, maxRepetitions uint16) DispatchResult {
	var vbs []pdu.VarBind

	n := int(nonRepeaters)
	if n > len(ranges) {
		n = len(ranges)
	}
	for _, sr := range ranges[:n] {
		name, v := t.GetNext(sr)
		if v.Kind() == value.KindEndOfMibView {
			name = sr.Start
		}
		vbs = append(vbs, pdu.VarBind{Name: name, Value: v})
	}

	repeating := ranges[n:]
	cursors := make([]pdu.SearchRange, len(repeating))
	copy(cursors, repeating)
	done := make([]bool, len(repeating))

	for rep := uint16(0); rep < maxRepetitions; rep++ {
		anyActive := false
		for i := range cursors {
			if done[i] {
				continue
			}
			anyActive = true
			name, v := t.GetNext(cursors[i])
			if v.Kind() == value.KindEndOfMibView {
				vbs = append(vbs, pdu.VarBind{Name: cursors[i].Start, Value: v})
				done[i] = true
				continue
			}
			vbs = append(vbs, pdu.VarBind{Name: name, Value: v})
			cursors[i] = pdu.SearchRange{Start: name, End: cursors[i].End, Include: false}
		}
		if !anyActive {
			break
		}
	}

	return DispatchResult{VarBinds: vbs, Error: pdu.ErrNone}
}

// EncodeError returns a DispatchResult describing a VarBind encoding
// failure: error=genErr, index is the 1-based offset of the offending
// VarBind, and every value is replaced with Null.
func EncodeError(vbs []pdu.VarBind, offendingIndex int) DispatchResult {
	out := make([]pdu.VarBind, len(vbs))
	for i, vb := range vbs {
		out[i] = pdu.VarBind{Name: vb.Name, Value: value.Null()}
	}
	return DispatchResult{VarBinds: out, Error: pdu.ErrGenErr, Index: uint16(offendingIndex + 1)}
}

// String renders a Region for diagnostic logging.
func (r *Region) String() string {
	return fmt.Sprintf("region{root=%s priority=%d}", r.Root, r.Priority)
}
