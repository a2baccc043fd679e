// Package sender drives a single MTP session over a single transport
// connection: it owns the outbound request queue, matches inbound
// rpc_results back to their caller, classifies and acts on
// bad_msg_notification, and forwards everything else to an Updates channel
// for the message box to consume.
package sender

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/eapache/channels.v1"

	"github.com/gram-proto/gram/internal/worker"
	"github.com/gram-proto/gram/metrics"
	"github.com/gram-proto/gram/mtproto"
	"github.com/gram-proto/gram/mtproto/plainconn"
	"github.com/gram-proto/gram/transport"
	"github.com/gram-proto/gram/updates"
)

// Default keep-alive timings: ping roughly every 60s, asking the server to
// treat the connection as abandoned after roughly 75s of silence.
const (
	DefaultPingInterval   = 60 * time.Second
	DefaultPingDisconnect = 75 * time.Second
)

// ackFlushInterval is the timeout half of the ack-coalescing policy: acks
// that haven't piggybacked on any outbound frame within this window are sent
// standalone.
const ackFlushInterval = 10 * time.Second

// Sender owns one transport connection, one mtproto.Session, and the queue
// of outstanding requests, and drives all three.
//
// Reads and writes run on their own goroutines — a blocking net.Conn read
// cannot share a single OS thread with a select-driven writer — but every
// shared mutation passes through mtproto.Session's own locking or this
// type's mu, so the pair behaves as a single cooperative task: no
// business-state field is ever touched without going through one of those
// locks, and only one goroutine at a time packs a frame (the writer) or
// dispatches one (the reader).
type Sender struct {
	worker.Worker

	log  *log.Logger
	dcID int32
	conn *transport.AbridgedConn
	sess *mtproto.Session
	m    *metrics.Sender

	pingInterval   time.Duration
	pingDisconnect time.Duration

	queue   channels.Channel // element type *Request
	ackKick chan struct{}

	mu      sync.Mutex
	byMsgID map[int64]*Request

	updates channels.Channel // element type []byte

	fatalOnce sync.Once
	fatalErr  error
	fatalCh   chan struct{}

	migrateOnce sync.Once
	migrateCh   chan int

	pingID atomic.Int64
}

// New creates a Sender over conn, driving requests/replies through sess.
// dcID labels this Sender's metrics and logs and is reported back verbatim
// to a Pool's migration handling; it carries no other meaning here.
func New(conn *transport.AbridgedConn, sess *mtproto.Session, dcID int32, logger *log.Logger) *Sender {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: fmt.Sprintf("sender[%d]", dcID)})
	}
	return &Sender{
		log:            logger,
		dcID:           dcID,
		conn:           conn,
		sess:           sess,
		m:              metrics.NewSender(dcID),
		pingInterval:   DefaultPingInterval,
		pingDisconnect: DefaultPingDisconnect,
		queue:          channels.NewInfiniteChannel(),
		ackKick:        make(chan struct{}, 1),
		byMsgID:        make(map[int64]*Request),
		updates:        channels.NewInfiniteChannel(),
		fatalCh:        make(chan struct{}),
		migrateCh:      make(chan int, 1),
	}
}

// SetPingTimings overrides the default keep-alive interval/disconnect
// hint; call before Start.
func (s *Sender) SetPingTimings(interval, disconnect time.Duration) {
	s.pingInterval, s.pingDisconnect = interval, disconnect
}

// Start spawns the reader and writer goroutines. Only the writer is tracked
// by the embedded Worker: the reader sits blocked in a transport read and
// returns on its own once a read fails after Halt.
func (s *Sender) Start() {
	go s.readLoop()
	s.Go(s.writeLoop)
}

// Stop halts both goroutines and waits for the writer to exit; every Invoke
// still waiting returns ErrClosed. It does not close the underlying
// connection, so the reader returns only once that connection is closed by
// the caller or the peer, and then without calling fail.
func (s *Sender) Stop() {
	s.Halt()
	s.Wait()
}

// Updates returns the channel of raw update bodies this Sender forwards
// via the dispatch-table fallthrough; the caller (normally a Pool,
// acting as glue to the message box) is expected to drain it continuously.
func (s *Sender) Updates() <-chan interface{} { return s.updates.Out() }

// DC returns the data center id this Sender is talking to.
func (s *Sender) DC() int32 { return s.dcID }

// Migrated returns a channel that receives the target DC id the moment the
// server redirects any request via RPC error 303; it fires at most once per
// Sender.
func (s *Sender) Migrated() <-chan int { return s.migrateCh }

// PendingCount reports how many requests await a reply.
func (s *Sender) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byMsgID)
}

// Invoke enqueues body (an already-serialized schema function call) and
// blocks until its rpc_result arrives, the server rejects it
// unrecoverably, ctx is canceled, or the Sender dies. originalConstructor
// is attached to the resulting *mtproto.RPCError for diagnostics.
func (s *Sender) Invoke(ctx context.Context, body []byte, originalConstructor uint32) ([]byte, error) {
	select {
	case <-s.fatalCh:
		return nil, &FatalError{Err: s.fatalErr}
	case <-s.HaltCh():
		return nil, ErrClosed{}
	default:
	}

	req := newRequest(body, true, originalConstructor)
	s.queue.In() <- req

	select {
	case res := <-req.reply:
		if res.Err != nil {
			if rpcErr, ok := res.Err.(*mtproto.RPCError); ok {
				if dc, migrating := rpcErr.IsMigration(); migrating {
					s.reportMigration(dc)
				}
			}
			return nil, res.Err
		}
		return res.Body, nil
	case <-s.fatalCh:
		return nil, &FatalError{Err: s.fatalErr}
	case <-s.HaltCh():
		return nil, ErrClosed{}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sender) reportMigration(dc int) {
	s.migrateOnce.Do(func() {
		s.migrateCh <- dc
	})
}

// enqueuePing submits a ping_delay_disconnect as a non-content-related
// service message; its pong (a PongEvent) isn't matched to any caller, so
// the reply is drained and discarded rather than left to leak.
func (s *Sender) enqueuePing() {
	id := s.pingID.Add(1)
	body := mtproto.PingDelayDisconnect(id, int32(s.pingDisconnect/time.Second))
	req := newRequest(body, false, 0)
	s.queue.In() <- req
	go func() { <-req.reply }()
}

func (s *Sender) writeLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	ackTicker := time.NewTicker(ackFlushInterval)
	defer ackTicker.Stop()

	var backlog []*Request
	for {
		select {
		case <-s.HaltCh():
			return
		case <-ticker.C:
			s.enqueuePing()
			continue
		case <-ackTicker.C:
			if s.sess.PendingAckCount() == 0 {
				continue
			}
			// Fall through with whatever backlog is on hand; PackOutbound
			// sends the coalesced acks standalone if it's empty.
		case <-s.ackKick:
			// Same as the timeout trigger, fired by the reader when more
			// than MaxUnackedBeforeFlush acks pile up.
		case v := <-s.queue.Out():
			backlog = append(backlog, v.(*Request))
		}

		// Opportunistically pick up anything else already queued so a
		// burst of Invoke calls between two writer iterations lands in as
		// few containers as the packing limits allow, instead of one per
		// call.
	drainMore:
		for {
			select {
			case v := <-s.queue.Out():
				backlog = append(backlog, v.(*Request))
			default:
				break drainMore
			}
		}

		if len(backlog) == 0 && s.sess.PendingAckCount() == 0 {
			continue
		}

		bodies := make([]mtproto.OutboundBody, len(backlog))
		for i, r := range backlog {
			bodies[i] = mtproto.OutboundBody{Body: r.Body, ContentRelated: r.ContentRelated}
		}

		frame, assigned, remaining, err := s.sess.PackOutbound(bodies)
		if err != nil {
			s.fail(err)
			return
		}
		if frame == nil {
			continue
		}

		packed := len(backlog) - remaining
		s.mu.Lock()
		for i := 0; i < packed; i++ {
			r := backlog[i]
			r.state = stateSent
			r.msgID = assigned[i]
			s.byMsgID[r.msgID] = r
		}
		s.mu.Unlock()

		if err := s.conn.WriteFrame(frame); err != nil {
			s.fail(err)
			return
		}
		s.m.FramesSent.Inc()
		s.m.MsgsSent.Add(float64(packed))

		backlog = backlog[packed:]
	}
}

func (s *Sender) readLoop() {
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			select {
			case <-s.HaltCh():
				return
			default:
			}
			s.fail(err)
			return
		}

		events, err := s.sess.Unpack(frame)
		if err != nil {
			if _, ok := err.(*mtproto.InvalidDataError); ok {
				// Fatal to the containing frame only: drop it and keep
				// reading rather than tearing down the connection.
				s.log.Warnf("dropping invalid inbound frame: %v", err)
				continue
			}
			// Anything else (session id mismatch, transport error
			// surfaced through Unpack) is fatal to the Sender.
			s.fail(err)
			return
		}

		for _, ev := range events {
			s.handleEvent(ev)
		}

		if s.sess.PendingAckCount() > mtproto.MaxUnackedBeforeFlush {
			select {
			case s.ackKick <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Sender) handleEvent(ev mtproto.Event) {
	switch e := ev.(type) {
	case mtproto.RPCResultEvent:
		s.resolveRPC(e)
	case mtproto.UpdateEvent:
		s.updates.In() <- e.Body
		s.m.UpdatesForwarded.Inc()
	case mtproto.BadMessageEvent:
		s.handleBadMessage(e)
	case mtproto.NewSessionCreatedEvent:
		s.log.Debugf("new_session_created, salt=%d", e.Salt)
		s.m.NewSession.Inc()
		// The server may have dropped updates while no session existed;
		// nudge the message box into difference recovery.
		s.updates.In() <- updates.TooLongEnvelopeBody()
	case mtproto.PongEvent:
		s.log.Debugf("pong ping_id=%d", e.PingID)
	case mtproto.FutureSaltsEvent, mtproto.AckEvent, mtproto.DetailedInfoEvent:
		// Informational at this layer; no synchronous caller is exposed
		// for get_future_salts yet, and acks/detailed-info are already
		// folded into Session's own bookkeeping by dispatchBody.
	}
}

func (s *Sender) resolveRPC(e mtproto.RPCResultEvent) {
	s.mu.Lock()
	req, ok := s.byMsgID[e.ReqMsgID]
	if ok {
		delete(s.byMsgID, e.ReqMsgID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if e.IsError {
		e.RPCErr.OriginatingConstructor = req.OriginalConstructorID
		req.resolve(Result{Err: e.RPCErr})
		s.m.RPCErrors.Inc()
		return
	}
	req.resolve(Result{Body: e.Body})
	s.m.RPCResults.Inc()
}

func (s *Sender) handleBadMessage(e mtproto.BadMessageEvent) {
	s.m.BadMessages.Inc()

	switch e.Class {
	case mtproto.BadMessageRecovered, mtproto.BadMessageReported:
		switch e.ErrorCode {
		case 16, 17:
			s.sess.SetTimeOffset(plainconn.ServerTimeFromMsgID(e.BadMsgID) - time.Now().Unix())
		case 48:
			s.sess.AdoptSalt(e.NewServerSalt)
		}
		s.resend(e.BadMsgID)

	default: // BadMessageFatal
		s.sess.Forget(e.BadMsgID)
		s.mu.Lock()
		req, ok := s.byMsgID[e.BadMsgID]
		if ok {
			delete(s.byMsgID, e.BadMsgID)
		}
		s.mu.Unlock()
		if ok {
			req.resolve(Result{Err: &mtproto.BadMessageError{
				BadMsgID: e.BadMsgID, ErrorCode: e.ErrorCode, Class: e.Class,
			}})
		}
	}
}

// resend re-enqueues every sibling of badMsgID's container so the writer
// allocates each a fresh msg_id/seq_no.
func (s *Sender) resend(badMsgID int64) {
	tracked := s.sess.ResendBatch(badMsgID)
	if len(tracked) == 0 {
		return
	}

	s.mu.Lock()
	reqs := make([]*Request, 0, len(tracked))
	for _, t := range tracked {
		req, ok := s.byMsgID[t.MsgID]
		if !ok {
			continue
		}
		delete(s.byMsgID, t.MsgID)
		req.state = stateNotSerialized
		req.msgID = 0
		req.containerMsgID = 0
		reqs = append(reqs, req)
	}
	s.mu.Unlock()

	for _, req := range reqs {
		s.queue.In() <- req
	}
	s.m.Resends.Add(float64(len(reqs)))
}

// fail drains every outstanding request and fails it with a FatalError
// wrapping err, then halts the Sender's goroutines. Runs exactly once.
func (s *Sender) fail(err error) {
	s.fatalOnce.Do(func() {
		s.fatalErr = err
		close(s.fatalCh)
		s.log.Errorf("fatal: %v", err)
		s.m.Fatal.Inc()

		drained := s.sess.DrainPending()
		s.mu.Lock()
		for _, t := range drained {
			if req, ok := s.byMsgID[t.MsgID]; ok {
				delete(s.byMsgID, t.MsgID)
				req.resolve(Result{Err: &FatalError{Err: err}})
			}
		}
		for _, req := range s.byMsgID {
			req.resolve(Result{Err: &FatalError{Err: err}})
		}
		s.byMsgID = make(map[int64]*Request)
		s.mu.Unlock()

		s.Halt()
	})
}
