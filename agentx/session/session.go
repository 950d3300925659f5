package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/pdu"
	"github.com/agentx-go/subagent/agentx/region"
	"github.com/agentx-go/subagent/agentx/settxn"
	"github.com/agentx-go/subagent/agentx/transport"
	"github.com/agentx-go/subagent/agentx/updater"
)

const (
	backoffBase              = time.Second
	backoffCap               = 60 * time.Second
	maxBackoffShift          = 6 // backoffBase << 6 == 64s, already past backoffCap
	openResponseTimeout      = 5 * time.Second
	registerResponseTimeout  = 5 * time.Second
	closeResponseTimeout     = 2 * time.Second
	defaultSetTxnTimeout     = 30 * time.Second
	setTxnReapInterval       = 5 * time.Second
	outboundRequestQueueSize = 16
)

var (
	// ErrProtocolError is returned when the master's reply does not match
	// what was asked (wrong PDU type, mismatched packetID) or an open/
	// register response carries no usable session.
	ErrProtocolError = errors.New("agentx session: protocol error")
	// errStopped is the internal sentinel Run returns after an explicit
	// Stop, distinguishing a deliberate shutdown from a reconnect-worthy
	// I/O failure.
	errStopped = errors.New("agentx session: stopped")
)

// RegionSpec declares one subtree to register with the master via
// register(root_oid, updater, freq_s, priority, range_subid, context).
type RegionSpec struct {
	Root       oid.OID
	Updater    updater.Updater
	Freq       time.Duration
	Priority   uint8
	RangeSubid uint8
	UpperBound uint32
	Context    string
	SetHandler settxn.Handler
}

// RegistrationFailure records one region the master rejected.
type RegistrationFailure struct {
	Root  oid.OID
	Error pdu.ErrorStatus
}

// Metrics receives observations from the session loop. A nil Metrics in
// Config is a no-op (every method call on it is guarded). Implemented by
// internal/metrics.Collector; declared here as the narrow interface the
// session actually calls, so this package stays independent of any
// concrete metrics backend.
type Metrics interface {
	SetSessionState(state string)
	IncReconnects()
	IncPDUsSent(pduType string)
	IncPDUsReceived(pduType string)
	IncResponseErrors(errStatus string)
	IncSetCommitted()
	IncSetUndone()
}

// Config configures a Session.
type Config struct {
	Network     string // "tcp" or "unix"
	Address     string
	AgentID     oid.OID
	Description string
	OpenTimeout uint8 // seconds; also used as the per-region registration timeout
	Logger      *slog.Logger
	Metrics     Metrics
}

// Session is one AgentX subagent connection to a master: dial, Open
// handshake, Register every declared region, then a single-goroutine
// dispatch loop, reconnecting with exponential backoff on any
// unrecoverable I/O error. Modeled directly on the BFD session
// event loop (internal/bfd/session.go): one goroutine owns the
// connection and all mutable state; everything else reaches in through
// channels.
type Session struct {
	cfg Config

	state     atomic.Uint32
	sessionID atomic.Uint32
	packetID  atomic.Uint32

	specs   []RegionSpec
	regions atomic.Pointer[region.Table]
	setMgr  *settxn.Manager

	conn       *transport.Conn
	schedulers []*updater.Scheduler

	// pending tracks originator requests (Notify/AddAgentCaps/...) awaiting
	// a Response, keyed by packetID. Touched only by dispatchLoop's
	// goroutine, so it needs no lock.
	pending map[uint32]chan pdu.Packet

	outboundCh chan outboundReq
	stopCh     chan struct{}
	stopped    atomic.Bool

	regFailuresMu sync.Mutex
	regFailures   []RegistrationFailure

	logger *slog.Logger
}

// NewSession returns a Session in state Disconnected. Call Register for
// each subtree before Run/Start/StartBlocking.
func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:        cfg,
		setMgr:     settxn.NewManager(defaultSetTxnTimeout),
		outboundCh: make(chan outboundReq, outboundRequestQueueSize),
		stopCh:     make(chan struct{}),
		logger:     logger.With(slog.String("agent_id", cfg.AgentID.String())),
	}
	s.state.Store(uint32(StateDisconnected))
	s.regions.Store(region.NewTable())
	return s
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Register declares a subtree to register with the master. Must be called
// before Run/Start/StartBlocking; the session does not support adding
// regions once the dispatch loop has started.
func (s *Session) Register(spec RegionSpec) {
	s.specs = append(s.specs, spec)
}

// Unregister drops a previously declared subtree. Must be called before
// Run/Start/StartBlocking.
func (s *Session) Unregister(root oid.OID) {
	for i, spec := range s.specs {
		if spec.Root.Equal(root) {
			s.specs = append(s.specs[:i], s.specs[i+1:]...)
			return
		}
	}
}

// RegistrationFailures returns the subtrees the master has rejected since
// the most recent successful Open.
func (s *Session) RegistrationFailures() []RegistrationFailure {
	s.regFailuresMu.Lock()
	defer s.regFailuresMu.Unlock()
	out := make([]RegistrationFailure, len(s.regFailures))
	copy(out, s.regFailures)
	return out
}

// SessionID returns the sessionID granted by the master's last successful
// Open, or 0 if the session has never opened.
func (s *Session) SessionID() uint32 { return s.sessionID.Load() }

// Regions returns the registered regions as of the current (or most
// recent) connect cycle, used by admin introspection.
func (s *Session) Regions() []*region.Region {
	return s.regions.Load().All()
}

// SetTransactions returns a snapshot of every live two-phase SET
// transaction, used by admin introspection.
func (s *Session) SetTransactions() []settxn.TransactionSnapshot {
	return s.setMgr.Snapshot()
}

// Start launches the session loop on a new goroutine.
func (s *Session) Start(ctx context.Context) {
	go func() {
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("session terminated", slog.String("error", err.Error()))
		}
	}()
}

// StartBlocking runs the session loop on the calling goroutine until ctx
// is cancelled or Stop is called.
func (s *Session) StartBlocking(ctx context.Context) error {
	return s.Run(ctx)
}

// Stop requests a graceful shutdown: the session sends a Close PDU,
// cancels its updaters, and Run returns.
func (s *Session) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
}

// Run drives the full reconnect lifecycle until ctx is cancelled or Stop
// is called: dial, Open, Register, serve, and on any I/O failure back off
// and retry (base 1s, cap 60s, +-25% jitter).
func (s *Session) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}

		s.transition(EventStart)
		err := s.connectAndServe(ctx)
		switch {
		case err == nil, errors.Is(err, errStopped):
			return nil
		case errors.Is(err, context.Canceled):
			return err
		}

		s.logger.Warn("session disconnected, will retry", slog.String("error", err.Error()))

		wait := backoff(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-time.After(wait):
		}
	}
}

// connectAndServe performs one full connect-register-serve cycle. A
// non-nil return (other than errStopped) means the caller should back off
// and try again from Disconnected.
func (s *Session) connectAndServe(ctx context.Context) error {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.IncReconnects()
	}

	dialCtx, cancel := context.WithTimeout(ctx, openResponseTimeout)
	conn, err := transport.Dial(dialCtx, s.cfg.Network, s.cfg.Address)
	cancel()
	if err != nil {
		s.transition(EventDialFailed)
		return err
	}
	s.transition(EventDialOK)
	s.conn = conn
	defer func() {
		_ = s.conn.Close()
		s.conn = nil
	}()

	if err := s.openHandshake(); err != nil {
		s.transition(EventOpenFailed)
		return err
	}
	s.transition(EventOpenOK)

	if err := s.registerAll(); err != nil {
		s.transition(EventRegisterFailed)
		return err
	}
	s.transition(EventActivated)

	updCtx, cancelUpdaters := context.WithCancel(ctx)
	defer cancelUpdaters()
	var wg sync.WaitGroup
	for _, sched := range s.schedulers {
		wg.Add(1)
		go func(sc *updater.Scheduler) {
			defer wg.Done()
			sc.Run(updCtx)
		}(sched)
	}
	defer wg.Wait()

	return s.dispatchLoop(ctx)
}

// transition applies event to the FSM, logging and storing any state
// change.
func (s *Session) transition(event Event) FSMResult {
	result := ApplyEvent(s.State(), event)
	if result.Changed {
		s.state.Store(uint32(result.NewState))
		s.logger.Info("session state change", slog.String("from", result.OldState.String()), slog.String("to", result.NewState.String()))
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.SetSessionState(result.NewState.String())
		}
	}
	return result
}

func (s *Session) nextPacketID() uint32 {
	return s.packetID.Add(1)
}

// openHandshake sends the Open PDU and waits (bounded) for a successful
// Response carrying a nonzero sessionID.
func (s *Session) openHandshake() error {
	_ = s.conn.SetDeadline(time.Now().Add(openResponseTimeout))
	defer s.conn.SetDeadline(time.Time{})

	req := pdu.Packet{
		Header: pdu.Header{
			Version:  pdu.Version,
			Type:     pdu.TypeOpen,
			Flags:    pdu.FlagNetworkByteOrder,
			PacketID: s.nextPacketID(),
		},
		OpenTimeout: s.cfg.OpenTimeout,
		OpenID:      s.cfg.AgentID,
		OpenDescr:   s.cfg.Description,
	}
	if err := s.writePDU(req); err != nil {
		return err
	}
	resp, err := s.conn.ReadPDU()
	if err != nil {
		return err
	}
	if resp.Header.Type != pdu.TypeResponse || resp.Header.PacketID != req.Header.PacketID {
		return fmt.Errorf("%w: unexpected reply to open", ErrProtocolError)
	}
	if resp.RespError != pdu.ErrNone || resp.Header.SessionID == 0 {
		return fmt.Errorf("%w: open rejected with error %v", ErrProtocolError, resp.RespError)
	}
	s.sessionID.Store(resp.Header.SessionID)
	return nil
}

// registerAll sends a Register PDU for every declared RegionSpec. A
// rejection (DuplicateRegistration/RequestDenied) is recorded and the
// region skipped; the session keeps going. Any transport or protocol
// failure aborts the whole connect cycle.
func (s *Session) registerAll() error {
	s.regions.Store(region.NewTable())
	s.schedulers = nil
	s.regFailuresMu.Lock()
	s.regFailures = nil
	s.regFailuresMu.Unlock()

	for _, spec := range s.specs {
		if err := s.registerOne(spec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) registerOne(spec RegionSpec) error {
	_ = s.conn.SetDeadline(time.Now().Add(registerResponseTimeout))
	defer s.conn.SetDeadline(time.Time{})

	req := pdu.Packet{
		Header: pdu.Header{
			Version:   pdu.Version,
			Type:      pdu.TypeRegister,
			Flags:     pdu.FlagNetworkByteOrder,
			SessionID: s.sessionID.Load(),
			PacketID:  s.nextPacketID(),
		},
		RegTimeout:    s.cfg.OpenTimeout,
		RegPriority:   spec.Priority,
		RegRangeSubid: spec.RangeSubid,
		RegSubtree:    spec.Root,
		RegUpperBound: spec.UpperBound,
	}
	if spec.Context != "" {
		req.Header.Flags |= pdu.FlagNonDefaultContext
		req.Context = spec.Context
	}
	if err := s.writePDU(req); err != nil {
		return err
	}
	resp, err := s.conn.ReadPDU()
	if err != nil {
		return err
	}
	if resp.Header.Type != pdu.TypeResponse || resp.Header.PacketID != req.Header.PacketID {
		return fmt.Errorf("%w: unexpected reply to register", ErrProtocolError)
	}
	if resp.RespError != pdu.ErrNone {
		s.logger.Warn("region registration rejected", slog.String("root", spec.Root.String()), slog.String("error", fmt.Sprint(resp.RespError)))
		s.regFailuresMu.Lock()
		s.regFailures = append(s.regFailures, RegistrationFailure{Root: spec.Root, Error: resp.RespError})
		s.regFailuresMu.Unlock()
		return nil
	}

	r := region.NewRegion(spec.Root, spec.Priority, spec.RangeSubid, spec.UpperBound, spec.Context)
	r.Handler = spec.SetHandler
	s.regions.Load().Add(r)
	if spec.Updater != nil {
		s.schedulers = append(s.schedulers, updater.NewScheduler(r, spec.Updater, spec.Freq, s.logger))
	}
	return nil
}

// recvItem carries one inbound PDU (or the read error that ended the
// reader goroutine) to the dispatch loop.
type recvItem struct {
	pkt pdu.Packet
	err error
}

// dispatchLoop is the single goroutine that owns the connection once
// registration completes: it reads requests off a background reader
// goroutine, services them, sweeps expired SET transactions, and honors
// outbound originator requests (Notify/AllocateIndex/AddAgentCaps/
// RemoveAgentCaps), queued via s.outboundCh so only this loop ever writes
// to the connection.
func (s *Session) dispatchLoop(ctx context.Context) error {
	s.pending = make(map[uint32]chan pdu.Packet)
	defer s.failPending()

	recvCh := make(chan recvItem, 1)
	go func() {
		for {
			pkt, err := s.conn.ReadPDU()
			recvCh <- recvItem{pkt: pkt, err: err}
			if err != nil {
				return
			}
		}
	}()

	gcTicker := time.NewTicker(setTxnReapInterval)
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown(recvCh, ctx.Err())
		case <-s.stopCh:
			return s.shutdown(recvCh, errStopped)
		case <-gcTicker.C:
			s.setMgr.ReapExpired(ctx)
		case req := <-s.outboundCh:
			s.sendOutbound(req)
		case item := <-recvCh:
			if item.err != nil {
				return fmt.Errorf("%w: %v", transport.ErrConnectionError, item.err)
			}
			if err := s.handlePacket(ctx, item.pkt); err != nil {
				return err
			}
		}
	}
}

// shutdown sends a best-effort Close PDU, waits briefly for its Response
// (draining and discarding any unrelated PDU that arrives meanwhile,
// since the session is tearing down regardless), then closes the
// connection so the reader goroutine unblocks.
func (s *Session) shutdown(recvCh <-chan recvItem, retErr error) error {
	reqID := s.nextPacketID()
	req := pdu.Packet{
		Header: pdu.Header{
			Version:   pdu.Version,
			Type:      pdu.TypeClose,
			Flags:     pdu.FlagNetworkByteOrder,
			SessionID: s.sessionID.Load(),
			PacketID:  reqID,
		},
		CloseReason: pdu.CloseReasonShutdown,
	}
	if err := s.writePDU(req); err == nil {
		deadline := time.NewTimer(closeResponseTimeout)
		defer deadline.Stop()
	waitResp:
		for {
			select {
			case item := <-recvCh:
				if item.err != nil || (item.pkt.Header.Type == pdu.TypeResponse && item.pkt.Header.PacketID == reqID) {
					break waitResp
				}
			case <-deadline.C:
				break waitResp
			}
		}
	}
	_ = s.conn.Close()
	s.transition(EventStop)
	if s.stopped.Load() {
		return errStopped
	}
	return retErr
}

// writePDU transmits pkt and records it in PDUsSent before delegating to the
// connection. Every outbound PDU passes through here.
func (s *Session) writePDU(pkt pdu.Packet) error {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.IncPDUsSent(pkt.Header.Type.String())
	}
	return s.conn.WritePDU(pkt)
}

// handlePacket services one inbound PDU from the master.
func (s *Session) handlePacket(ctx context.Context, pkt pdu.Packet) error {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.IncPDUsReceived(pkt.Header.Type.String())
	}
	switch pkt.Header.Type {
	case pdu.TypeResponse:
		s.deliverResponse(pkt)
		return nil
	case pdu.TypeGet:
		return s.sendResponse(pkt, s.regions.Load().DispatchGet(pkt.SearchRanges))
	case pdu.TypeGetNext:
		return s.sendResponse(pkt, s.regions.Load().DispatchGetNext(pkt.SearchRanges))
	case pdu.TypeGetBulk:
		return s.sendResponse(pkt, s.regions.Load().DispatchGetBulk(pkt.SearchRanges, pkt.NonRepeaters, pkt.MaxRepetitions))
	case pdu.TypeTestSet:
		return s.respondTestSet(ctx, pkt)
	case pdu.TypeCommitSet:
		return s.respondCommitSet(ctx, pkt)
	case pdu.TypeUndoSet:
		return s.respondUndoSet(ctx, pkt)
	case pdu.TypeCleanupSet:
		s.respondCleanupSet(ctx, pkt)
		return nil
	case pdu.TypePing:
		return s.respondPing(pkt)
	case pdu.TypeClose:
		return fmt.Errorf("%w: master closed the session (reason %v)", transport.ErrConnectionError, pkt.CloseReason)
	default:
		s.logger.Warn("dropping pdu of unhandled type", slog.String("type", pkt.Header.Type.String()))
		return nil
	}
}

func responseHeader(req pdu.Packet) pdu.Header {
	return pdu.Header{
		Version:       pdu.Version,
		Type:          pdu.TypeResponse,
		Flags:         req.Header.Flags,
		SessionID:     req.Header.SessionID,
		TransactionID: req.Header.TransactionID,
		PacketID:      req.Header.PacketID,
	}
}

// sendResponse encodes and sends the Response for a dispatched Get/GetNext/
// GetBulk. If a VarBind's value cannot be encoded, it sends the genErr
// fallback response built by region.EncodeError instead of letting the
// encode failure tear down the session.
func (s *Session) sendResponse(req pdu.Packet, result region.DispatchResult) error {
	if idx := pdu.FindUnencodableVarBind(result.VarBinds); idx >= 0 {
		s.logger.Warn("varbind value not encodable, sending genErr response",
			slog.Int("index", idx+1))
		result = region.EncodeError(result.VarBinds, idx)
	}
	resp := pdu.Packet{
		Header:    responseHeader(req),
		RespError: result.Error,
		RespIndex: result.Index,
		VarBinds:  result.VarBinds,
	}
	return s.writePDU(resp)
}

func (s *Session) respondPing(pkt pdu.Packet) error {
	resp := pdu.Packet{Header: responseHeader(pkt), RespError: pdu.ErrNone}
	return s.writePDU(resp)
}

// firstVarBindRoot returns the name of the first VarBind, used to find
// which registered region's Handler owns a TestSet: a TestSet's VarBinds
// all fall within the same region in every scenario this subagent is
// asked to support.
func firstVarBindRoot(vbs []pdu.VarBind) oid.OID {
	if len(vbs) == 0 {
		return oid.OID{}
	}
	return vbs[0].Name
}

func (s *Session) respondTestSet(ctx context.Context, pkt pdu.Packet) error {
	owner := s.regions.Load().Owner(firstVarBindRoot(pkt.VarBinds))
	if owner == nil || owner.Handler == nil {
		resp := pdu.Packet{Header: responseHeader(pkt), RespError: pdu.ErrNotWritable, RespIndex: 1}
		return s.writePDU(resp)
	}
	errStatus, failIndex := s.setMgr.TestSet(ctx, pkt.Header.TransactionID, owner.Handler, pkt.VarBinds)
	resp := pdu.Packet{Header: responseHeader(pkt), RespError: errStatus}
	if errStatus != pdu.ErrNone {
		resp.RespIndex = uint16(failIndex)
	}
	return s.writePDU(resp)
}

func (s *Session) respondCommitSet(ctx context.Context, pkt pdu.Packet) error {
	errStatus, err := s.setMgr.CommitSet(ctx, pkt.Header.TransactionID)
	if err != nil {
		s.logger.Warn("commitset", slog.String("error", err.Error()))
	}
	if s.cfg.Metrics != nil && errStatus == pdu.ErrNone {
		s.cfg.Metrics.IncSetCommitted()
	}
	resp := pdu.Packet{Header: responseHeader(pkt), RespError: errStatus}
	return s.writePDU(resp)
}

func (s *Session) respondUndoSet(ctx context.Context, pkt pdu.Packet) error {
	errStatus, err := s.setMgr.UndoSet(ctx, pkt.Header.TransactionID)
	if err != nil {
		s.logger.Warn("undoset", slog.String("error", err.Error()))
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.IncSetUndone()
	}
	resp := pdu.Packet{Header: responseHeader(pkt), RespError: errStatus}
	return s.writePDU(resp)
}

// respondCleanupSet invokes the handler's Cleanup and removes the
// transaction. No Response PDU is sent.
func (s *Session) respondCleanupSet(ctx context.Context, pkt pdu.Packet) {
	if err := s.setMgr.CleanupSet(ctx, pkt.Header.TransactionID); err != nil {
		s.logger.Warn("cleanupset", slog.String("error", err.Error()))
	}
}

// backoff returns the reconnect delay for the given attempt number: base
// 1s doubling up to a 60s cap, jittered by +-25%.
func backoff(attempt int) time.Duration {
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	d := backoffBase * time.Duration(uint64(1)<<uint(attempt))
	if d > backoffCap {
		d = backoffCap
	}
	jitter := 1 + (rand.Float64()*0.5 - 0.25) // in [0.75, 1.25]
	return time.Duration(float64(d) * jitter)
}
