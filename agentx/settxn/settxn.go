// Package settxn implements the two-phase SET transaction state machine:
// TestSet -> CommitSet -> UndoSet -> CleanupSet, keyed by the PDU's
// transactionID. Modeled as a pure transition table in the style of the
// teacher's BFD session FSM, generalized from a 4-state session lifecycle
// to the SET transaction's 6-state one.
package settxn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentx-go/subagent/agentx/pdu"
)

// State is a SetTransaction's lifecycle state.
type State uint8

const (
	StateTesting State = iota + 1
	StateTestedOK
	StateTestingFailed
	StateCommitted
	StateCommitFailed
	StateUndone
)

func (s State) String() string {
	switch s {
	case StateTesting:
		return "Testing"
	case StateTestedOK:
		return "TestedOK"
	case StateTestingFailed:
		return "TestingFailed"
	case StateCommitted:
		return "Committed"
	case StateCommitFailed:
		return "CommitFailed"
	case StateUndone:
		return "Undone"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event is an incoming PDU type that drives the transaction FSM.
type Event uint8

const (
	EventCommitSet Event = iota + 1
	EventUndoSet
	EventCleanupSet
)

// stateEvent is the FSM transition precondition table key, mirroring the
// teacher's BFD FSM's map[stateEvent]transition shape: it answers whether
// an event is valid from a state, since test/commit/undo/cleanup may each
// fire at most once and only in an allowed subsequence. The post-handler
// outcome state (TestedOK vs TestingFailed, Committed vs CommitFailed)
// depends on the handler's return value rather than the event alone, so it
// is applied by the caller rather than looked up here.
type stateEvent struct {
	state State
	event Event
}

var validTransitions = map[stateEvent]bool{
	{StateTestedOK, EventCommitSet}:       true,
	{StateCommitted, EventUndoSet}:        true,
	{StateCommitFailed, EventUndoSet}:     true,
	{StateTestedOK, EventCleanupSet}:      true,
	{StateTestingFailed, EventCleanupSet}: true,
	{StateCommitted, EventCleanupSet}:     true,
	{StateCommitFailed, EventCleanupSet}:  true,
	{StateUndone, EventCleanupSet}:        true,
}

// ApplyEvent reports whether event is a legal transition out of current,
// a pure function over the precondition table.
func ApplyEvent(current State, event Event) bool {
	return validTransitions[stateEvent{current, event}]
}

// ErrInvalidTransition is returned when a PDU arrives for a transaction in
// a state that does not permit it.
var ErrInvalidTransition = errors.New("set transaction: invalid state transition")

// ErrUnknownTransaction is returned when CommitSet/UndoSet/CleanupSet names
// a transactionID with no live SetTransaction.
var ErrUnknownTransaction = errors.New("set transaction: unknown transaction id")

// Handler is the region's set-handler contract: test/commit/undo/cleanup,
// each invoked at most once per transaction and only in the allowed
// subsequence of that order.
type Handler interface {
	Test(ctx context.Context, varbinds []pdu.VarBind) (pdu.ErrorStatus, int)
	Commit(ctx context.Context) pdu.ErrorStatus
	Undo(ctx context.Context) pdu.ErrorStatus
	Cleanup(ctx context.Context)
}

// Transaction tracks one in-flight SET's state and the handler it drives.
type Transaction struct {
	ID        uint32
	state     State
	handler   Handler
	createdAt time.Time
}

// State returns the transaction's current lifecycle state.
func (t *Transaction) State() State { return t.state }

// Manager owns the live set-transaction table for a session. The session
// loop makes every TestSet/CommitSet/UndoSet/CleanupSet/ReapExpired call;
// the mutex guards the table against Snapshot and Len, which admin
// introspection calls from other goroutines.
type Manager struct {
	mu           sync.Mutex
	transactions map[uint32]*Transaction
	timeout      time.Duration
}

// NewManager returns a Manager whose transactions are garbage-collected
// with a synthetic Cleanup call after timeout with no CleanupSet.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		transactions: make(map[uint32]*Transaction),
		timeout:      timeout,
	}
}

// TestSet begins a new transaction, invokes handler.Test, and returns the
// resulting error status and 1-based failing VarBind index (zero on
// success).
func (m *Manager) TestSet(ctx context.Context, id uint32, handler Handler, varbinds []pdu.VarBind) (pdu.ErrorStatus, int) {
	errStatus, failIndex := handler.Test(ctx, varbinds)

	m.mu.Lock()
	defer m.mu.Unlock()
	txn := &Transaction{ID: id, handler: handler, createdAt: time.Now(), state: StateTesting}
	if errStatus == pdu.ErrNone {
		txn.state = StateTestedOK
	} else {
		txn.state = StateTestingFailed
	}
	m.transactions[id] = txn
	return errStatus, failIndex
}

// CommitSet commits transaction id, valid only from TestedOK.
func (m *Manager) CommitSet(ctx context.Context, id uint32) (pdu.ErrorStatus, error) {
	txn, err := m.lookup(id)
	if err != nil {
		return pdu.ErrCommitFailed, err
	}
	if !ApplyEvent(txn.state, EventCommitSet) {
		return pdu.ErrCommitFailed, fmt.Errorf("commit from %s: %w", txn.state, ErrInvalidTransition)
	}
	errStatus := txn.handler.Commit(ctx)

	m.mu.Lock()
	if errStatus == pdu.ErrNone {
		txn.state = StateCommitted
	} else {
		txn.state = StateCommitFailed
	}
	m.mu.Unlock()
	return errStatus, nil
}

// UndoSet rolls back transaction id, valid from Committed or CommitFailed.
func (m *Manager) UndoSet(ctx context.Context, id uint32) (pdu.ErrorStatus, error) {
	txn, err := m.lookup(id)
	if err != nil {
		return pdu.ErrUndoFailed, err
	}
	if !ApplyEvent(txn.state, EventUndoSet) {
		return pdu.ErrUndoFailed, fmt.Errorf("undo from %s: %w", txn.state, ErrInvalidTransition)
	}
	errStatus := txn.handler.Undo(ctx)

	m.mu.Lock()
	txn.state = StateUndone
	m.mu.Unlock()
	return errStatus, nil
}

// CleanupSet invokes handler.Cleanup and removes the transaction. Valid
// from any post-Testing state; no Response PDU is sent for CleanupSet.
func (m *Manager) CleanupSet(ctx context.Context, id uint32) error {
	txn, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !ApplyEvent(txn.state, EventCleanupSet) {
		return fmt.Errorf("cleanup from %s: %w", txn.state, ErrInvalidTransition)
	}
	txn.handler.Cleanup(ctx)

	m.mu.Lock()
	delete(m.transactions, id)
	m.mu.Unlock()
	return nil
}

func (m *Manager) lookup(id uint32) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("id %d: %w", id, ErrUnknownTransaction)
	}
	return txn, nil
}

// ReapExpired runs a synthetic Cleanup for every transaction older than
// the manager's timeout and removes it: a transaction that sees no
// CleanupSet within the session's timeout is garbage-collected with a
// synthetic cleanup call.
func (m *Manager) ReapExpired(ctx context.Context) {
	m.mu.Lock()
	var expired []*Transaction
	cutoff := time.Now().Add(-m.timeout)
	for id, txn := range m.transactions {
		if txn.createdAt.Before(cutoff) {
			expired = append(expired, txn)
			delete(m.transactions, id)
		}
	}
	m.mu.Unlock()

	for _, txn := range expired {
		txn.handler.Cleanup(ctx)
	}
}

// Len reports the number of live transactions, used by admin introspection.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

// TransactionSnapshot is a read-only view of one live transaction, used by
// admin introspection.
type TransactionSnapshot struct {
	ID        uint32
	State     State
	CreatedAt time.Time
}

// Snapshot returns a point-in-time copy of every live transaction.
func (m *Manager) Snapshot() []TransactionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TransactionSnapshot, 0, len(m.transactions))
	for _, txn := range m.transactions {
		out = append(out, TransactionSnapshot{ID: txn.ID, State: txn.state, CreatedAt: txn.createdAt})
	}
	return out
}
