package settxn_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentx-go/subagent/agentx/pdu"
	"github.com/agentx-go/subagent/agentx/settxn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler captures the call order observed on it, enforcing
// "invoked at most once per transaction".
type recordingHandler struct {
	calls     []string
	testErr   pdu.ErrorStatus
	testIndex int
	commitErr pdu.ErrorStatus
	undoErr   pdu.ErrorStatus
}

func (h *recordingHandler) Test(ctx context.Context, vbs []pdu.VarBind) (pdu.ErrorStatus, int) {
	h.calls = append(h.calls, "test")
	return h.testErr, h.testIndex
}
func (h *recordingHandler) Commit(ctx context.Context) pdu.ErrorStatus {
	h.calls = append(h.calls, "commit")
	return h.commitErr
}
func (h *recordingHandler) Undo(ctx context.Context) pdu.ErrorStatus {
	h.calls = append(h.calls, "undo")
	return h.undoErr
}
func (h *recordingHandler) Cleanup(ctx context.Context) {
	h.calls = append(h.calls, "cleanup")
}

func TestTwoPhaseSetRollback(t *testing.T) {
	ctx := context.Background()
	m := settxn.NewManager(time.Minute)
	h := &recordingHandler{commitErr: pdu.ErrCommitFailed}

	errStatus, _ := m.TestSet(ctx, 1, h, nil)
	require.Equal(t, pdu.ErrNone, errStatus)

	errStatus, err := m.CommitSet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pdu.ErrCommitFailed, errStatus)

	errStatus, err = m.UndoSet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pdu.ErrNone, errStatus)

	require.NoError(t, m.CleanupSet(ctx, 1))

	assert.Equal(t, []string{"test", "commit", "undo", "cleanup"}, h.calls)
	assert.Equal(t, 0, m.Len())
}

func TestTestFailureLeavesTransactionAliveForCleanup(t *testing.T) {
	ctx := context.Background()
	m := settxn.NewManager(time.Minute)
	h := &recordingHandler{testErr: pdu.ErrWrongType, testIndex: 2}

	errStatus, idx := m.TestSet(ctx, 2, h, nil)
	assert.Equal(t, pdu.ErrWrongType, errStatus)
	assert.Equal(t, 2, idx)

	_, err := m.CommitSet(ctx, 2)
	require.ErrorIs(t, err, settxn.ErrInvalidTransition)

	require.NoError(t, m.CleanupSet(ctx, 2))
	assert.Equal(t, []string{"test", "cleanup"}, h.calls)
}

func TestUnknownTransactionRejected(t *testing.T) {
	m := settxn.NewManager(time.Minute)
	_, err := m.CommitSet(context.Background(), 99)
	require.ErrorIs(t, err, settxn.ErrUnknownTransaction)
}

func TestReapExpiredRunsSyntheticCleanup(t *testing.T) {
	ctx := context.Background()
	m := settxn.NewManager(-time.Second) // already expired on creation
	h := &recordingHandler{}
	m.TestSet(ctx, 3, h, nil)

	m.ReapExpired(ctx)
	assert.Equal(t, []string{"test", "cleanup"}, h.calls)
	assert.Equal(t, 0, m.Len())
}
