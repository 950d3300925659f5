package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/pdu"
)

const originatorRequestTimeout = 5 * time.Second

// outboundReq is one PDU this subagent originates outside of the Open/
// Register handshake (Notify, AddAgentCaps, RemoveAgentCaps,
// AllocateIndex, DeallocateIndex). It is handed to the dispatch loop over
// Session.outboundCh so only that one goroutine ever writes to the
// connection or touches the pending-request table, matching the
// cooperative single-threaded event loop shape the session requires of
// everything else on the wire.
type outboundReq struct {
	pkt   pdu.Packet
	reply chan pdu.Packet
}

// sendOutbound stamps req's header with a fresh packetID and the current
// session, writes it, and remembers the reply channel so the next
// matching Response can be delivered to the caller.
func (s *Session) sendOutbound(req outboundReq) {
	req.pkt.Header.PacketID = s.nextPacketID()
	req.pkt.Header.SessionID = s.sessionID.Load()
	if err := s.writePDU(req.pkt); err != nil {
		close(req.reply)
		return
	}
	if s.pending == nil {
		s.pending = make(map[uint32]chan pdu.Packet)
	}
	s.pending[req.pkt.Header.PacketID] = req.reply
}

// deliverResponse matches an inbound Response against the pending-request
// table and delivers it to the waiting caller. A Response with no
// matching packetID is a master protocol violation: logged and dropped.
func (s *Session) deliverResponse(pkt pdu.Packet) {
	reply, ok := s.pending[pkt.Header.PacketID]
	if !ok {
		s.logger.Warn("response with no matching pending request", slog.Uint64("packet_id", uint64(pkt.Header.PacketID)))
		return
	}
	delete(s.pending, pkt.Header.PacketID)
	reply <- pkt
}

// failPending closes every outstanding reply channel, unblocking any
// doRequest call whose Response will now never arrive because the
// connection it was sent on is gone.
func (s *Session) failPending() {
	for id, reply := range s.pending {
		close(reply)
		delete(s.pending, id)
	}
}

// doRequest queues pkt for the dispatch loop to send, then waits for the
// matching Response or ctx cancellation.
func (s *Session) doRequest(ctx context.Context, pkt pdu.Packet) (pdu.Packet, error) {
	reply := make(chan pdu.Packet, 1)
	select {
	case s.outboundCh <- outboundReq{pkt: pkt, reply: reply}:
	case <-ctx.Done():
		return pdu.Packet{}, ctx.Err()
	}
	select {
	case resp, ok := <-reply:
		if !ok {
			return pdu.Packet{}, transportClosedErr()
		}
		return resp, nil
	case <-ctx.Done():
		return pdu.Packet{}, ctx.Err()
	}
}

func transportClosedErr() error {
	return fmt.Errorf("%w: connection closed before response arrived", ErrProtocolError)
}

// Notify sends a Notify PDU (an unsolicited trap/inform).
func (s *Session) Notify(ctx context.Context, varbinds []pdu.VarBind) error {
	ctx, cancel := context.WithTimeout(ctx, originatorRequestTimeout)
	defer cancel()
	pkt := pdu.Packet{
		Header:   pdu.Header{Version: pdu.Version, Type: pdu.TypeNotify, Flags: pdu.FlagNetworkByteOrder},
		VarBinds: varbinds,
	}
	_, err := s.doRequest(ctx, pkt)
	return err
}

// AddAgentCaps registers an AgentCapabilities entry with the master.
func (s *Session) AddAgentCaps(ctx context.Context, id oid.OID, descr string) error {
	ctx, cancel := context.WithTimeout(ctx, originatorRequestTimeout)
	defer cancel()
	pkt := pdu.Packet{
		Header:         pdu.Header{Version: pdu.Version, Type: pdu.TypeAddAgentCaps, Flags: pdu.FlagNetworkByteOrder},
		AgentCapsID:    id,
		AgentCapsDescr: descr,
	}
	resp, err := s.doRequest(ctx, pkt)
	if err != nil {
		return err
	}
	if resp.RespError != pdu.ErrNone {
		return fmt.Errorf("%w: add agent caps: %v", ErrProtocolError, resp.RespError)
	}
	return nil
}

// RemoveAgentCaps withdraws a previously-added AgentCapabilities entry.
func (s *Session) RemoveAgentCaps(ctx context.Context, id oid.OID) error {
	ctx, cancel := context.WithTimeout(ctx, originatorRequestTimeout)
	defer cancel()
	pkt := pdu.Packet{
		Header:      pdu.Header{Version: pdu.Version, Type: pdu.TypeRemoveAgentCaps, Flags: pdu.FlagNetworkByteOrder},
		AgentCapsID: id,
	}
	resp, err := s.doRequest(ctx, pkt)
	if err != nil {
		return err
	}
	if resp.RespError != pdu.ErrNone {
		return fmt.Errorf("%w: remove agent caps: %v", ErrProtocolError, resp.RespError)
	}
	return nil
}

// AllocateIndex asks the master to allocate (or validate, for
// FlagAnyIndex/FlagNewIndex VarBinds) index values; it returns the
// VarBinds the master assigned.
func (s *Session) AllocateIndex(ctx context.Context, varbinds []pdu.VarBind) ([]pdu.VarBind, error) {
	ctx, cancel := context.WithTimeout(ctx, originatorRequestTimeout)
	defer cancel()
	pkt := pdu.Packet{
		Header:   pdu.Header{Version: pdu.Version, Type: pdu.TypeIndexAllocate, Flags: pdu.FlagNetworkByteOrder},
		VarBinds: varbinds,
	}
	resp, err := s.doRequest(ctx, pkt)
	if err != nil {
		return nil, err
	}
	if resp.RespError != pdu.ErrNone {
		return nil, fmt.Errorf("%w: allocate index: %v", ErrProtocolError, resp.RespError)
	}
	return resp.VarBinds, nil
}

// DeallocateIndex releases index values previously obtained via
// AllocateIndex.
func (s *Session) DeallocateIndex(ctx context.Context, varbinds []pdu.VarBind) error {
	ctx, cancel := context.WithTimeout(ctx, originatorRequestTimeout)
	defer cancel()
	pkt := pdu.Packet{
		Header:   pdu.Header{Version: pdu.Version, Type: pdu.TypeIndexDeallocate, Flags: pdu.FlagNetworkByteOrder},
		VarBinds: varbinds,
	}
	resp, err := s.doRequest(ctx, pkt)
	if err != nil {
		return err
	}
	if resp.RespError != pdu.ErrNone {
		return fmt.Errorf("%w: deallocate index: %v", ErrProtocolError, resp.RespError)
	}
	return nil
}
