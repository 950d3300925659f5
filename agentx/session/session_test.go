package session_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/pdu"
	"github.com/agentx-go/subagent/agentx/session"
	"github.com/agentx-go/subagent/agentx/transport"
	"github.com/stretchr/testify/require"
)

// fakeMaster is a bare-bones AgentX master: a TCP listener the test
// drives by hand, one accepted connection at a time.
type fakeMaster struct {
	ln net.Listener
}

func newFakeMaster(t *testing.T) *fakeMaster {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &fakeMaster{ln: ln}
}

func (m *fakeMaster) addr() string { return m.ln.Addr().String() }
func (m *fakeMaster) close()       { _ = m.ln.Close() }

func (m *fakeMaster) accept(t *testing.T) *transport.Conn {
	t.Helper()
	nc, err := m.ln.Accept()
	require.NoError(t, err)
	return transport.NewConn(nc)
}

// acceptOpenAndRegister reads and answers one Open and one Register PDU,
// both with error=0, granting sessionID.
func acceptOpenAndRegister(t *testing.T, conn *transport.Conn, sessionID uint32, root oid.OID) {
	t.Helper()

	openReq, err := conn.ReadPDU()
	require.NoError(t, err)
	require.Equal(t, pdu.TypeOpen, openReq.Header.Type)
	require.NoError(t, conn.WritePDU(pdu.Packet{
		Header: pdu.Header{
			Version: pdu.Version, Type: pdu.TypeResponse, Flags: pdu.FlagNetworkByteOrder,
			SessionID: sessionID, PacketID: openReq.Header.PacketID,
		},
		RespError: pdu.ErrNone,
	}))

	regReq, err := conn.ReadPDU()
	require.NoError(t, err)
	require.Equal(t, pdu.TypeRegister, regReq.Header.Type)
	require.True(t, regReq.RegSubtree.Equal(root))
	require.NoError(t, conn.WritePDU(pdu.Packet{
		Header: pdu.Header{
			Version: pdu.Version, Type: pdu.TypeResponse, Flags: pdu.FlagNetworkByteOrder,
			SessionID: sessionID, PacketID: regReq.Header.PacketID,
		},
		RespError: pdu.ErrNone,
	}))
}

func TestOpenRegisterAndServiceGet(t *testing.T) {
	master := newFakeMaster(t)
	defer master.close()

	root := oid.MustParse("1.3.6.1.4.1.12345.1")
	s := session.NewSession(session.Config{
		Network: "tcp", Address: master.addr(),
		AgentID: oid.MustParse("1.3.6.1.4.1.12345"), Description: "test subagent", OpenTimeout: 5,
	})
	s.Register(session.RegionSpec{Root: root, Priority: 127})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	conn := master.accept(t)
	acceptOpenAndRegister(t, conn, 7, root)

	require.Eventually(t, func() bool { return s.State() == session.StateActive }, time.Second, 5*time.Millisecond)

	getReq := pdu.Packet{
		Header:       pdu.Header{Version: pdu.Version, Type: pdu.TypeGet, Flags: pdu.FlagNetworkByteOrder, SessionID: 7, PacketID: 99},
		SearchRanges: []pdu.SearchRange{{Start: root}},
	}
	require.NoError(t, conn.WritePDU(getReq))

	resp, err := conn.ReadPDU()
	require.NoError(t, err)
	require.Equal(t, pdu.TypeResponse, resp.Header.Type)
	require.Equal(t, uint32(99), resp.Header.PacketID)
	require.Equal(t, pdu.ErrNone, resp.RespError)
	require.Len(t, resp.VarBinds, 1)
	require.True(t, resp.VarBinds[0].Name.Equal(root))

	s.Stop()
}

// TestReconnectAfterTransportLoss is the literal scenario of killing the
// transport after a successful registration: within the backoff window
// the subagent re-opens, obtains a new sessionID, and re-registers the
// same region with the same priority.
func TestReconnectAfterTransportLoss(t *testing.T) {
	master := newFakeMaster(t)
	defer master.close()

	root := oid.MustParse("1.3.6.1.4.1.12345.2")
	s := session.NewSession(session.Config{
		Network: "tcp", Address: master.addr(),
		AgentID: oid.MustParse("1.3.6.1.4.1.12345"), Description: "test subagent", OpenTimeout: 5,
	})
	s.Register(session.RegionSpec{Root: root, Priority: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	first := master.accept(t)
	acceptOpenAndRegister(t, first, 1, root)
	require.Eventually(t, func() bool { return s.State() == session.StateActive }, time.Second, 5*time.Millisecond)

	require.NoError(t, first.Close())

	second := master.accept(t)
	acceptOpenAndRegister(t, second, 2, root)
	require.Eventually(t, func() bool { return s.State() == session.StateActive }, 3*time.Second, 10*time.Millisecond)

	s.Stop()
}

func TestRejectedRegistrationDoesNotBlockOtherRegions(t *testing.T) {
	master := newFakeMaster(t)
	defer master.close()

	badRoot := oid.MustParse("1.3.6.1.4.1.12345.3")
	goodRoot := oid.MustParse("1.3.6.1.4.1.12345.4")
	s := session.NewSession(session.Config{
		Network: "tcp", Address: master.addr(),
		AgentID: oid.MustParse("1.3.6.1.4.1.12345"), Description: "test subagent", OpenTimeout: 5,
	})
	s.Register(session.RegionSpec{Root: badRoot, Priority: 127})
	s.Register(session.RegionSpec{Root: goodRoot, Priority: 127})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	conn := master.accept(t)

	openReq, err := conn.ReadPDU()
	require.NoError(t, err)
	require.NoError(t, conn.WritePDU(pdu.Packet{
		Header:    pdu.Header{Version: pdu.Version, Type: pdu.TypeResponse, Flags: pdu.FlagNetworkByteOrder, SessionID: 3, PacketID: openReq.Header.PacketID},
		RespError: pdu.ErrNone,
	}))

	regReq1, err := conn.ReadPDU()
	require.NoError(t, err)
	require.True(t, regReq1.RegSubtree.Equal(badRoot))
	require.NoError(t, conn.WritePDU(pdu.Packet{
		Header:    pdu.Header{Version: pdu.Version, Type: pdu.TypeResponse, Flags: pdu.FlagNetworkByteOrder, SessionID: 3, PacketID: regReq1.Header.PacketID},
		RespError: pdu.ErrDuplicateRegistration,
	}))

	regReq2, err := conn.ReadPDU()
	require.NoError(t, err)
	require.True(t, regReq2.RegSubtree.Equal(goodRoot))
	require.NoError(t, conn.WritePDU(pdu.Packet{
		Header:    pdu.Header{Version: pdu.Version, Type: pdu.TypeResponse, Flags: pdu.FlagNetworkByteOrder, SessionID: 3, PacketID: regReq2.Header.PacketID},
		RespError: pdu.ErrNone,
	}))

	require.Eventually(t, func() bool { return s.State() == session.StateActive }, time.Second, 5*time.Millisecond)
	require.Len(t, s.RegistrationFailures(), 1)
	require.True(t, s.RegistrationFailures()[0].Root.Equal(badRoot))

	s.Stop()
}
