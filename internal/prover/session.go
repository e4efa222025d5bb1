package prover

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/proverctl/internal/observability"
	"github.com/danmuck/proverctl/internal/protocol/frame"
	"github.com/danmuck/proverctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrSessionFailed = errors.New("prover: session failed")

var errWriteFrame = errors.New("write frame")

// Snapshot is a read-only view of a session for the admin endpoint.
type Snapshot struct {
	ProverID    string    `json:"prover_id"`
	Remote      string    `json:"remote"`
	StartedAt   time.Time `json:"started_at"`
	PendingKind string    `json:"pending_kind"`
	PendingID   string    `json:"pending_id,omitempty"`
	Received    uint64    `json:"received"`
	Sent        uint64    `json:"sent"`
	Malformed   uint64    `json:"malformed"`
	Dropped     uint64    `json:"dropped"`
	QueueDepth  int       `json:"queue_depth"`
	Closed      bool      `json:"closed"`
}

// Session is one registered duplex stream with the aggregator. State is
// owned by the reader goroutine.
type Session struct {
	conn       net.Conn
	reader     *bufio.Reader
	cfg        session.Config
	limits     frame.Limits
	dispatcher *Dispatcher
	queue      *session.OutboundQueue
	startedAt  time.Time

	state   State
	pending atomic.Pointer[State]

	nextMessageID atomic.Uint64
	received      atomic.Uint64
	sent          atomic.Uint64
	malformed     atomic.Uint64
	closed        atomic.Bool

	// inboundDone is set once the aggregator ended its request stream.
	inboundDone atomic.Bool
}

func newSession(conn net.Conn, reader *bufio.Reader, cfg session.Config, d *Dispatcher) *Session {
	s := &Session{
		conn:       conn,
		reader:     reader,
		cfg:        cfg,
		limits:     frame.DefaultLimits(),
		dispatcher: d,
		queue:      session.NewOutboundQueue(cfg.OutboundQueueSize, cfg.OverflowPolicy),
		startedAt:  time.Now(),
	}
	s.pending.Store(&State{})
	return s
}

// Run serves the stream until the aggregator closes it (nil), ctx is
// cancelled (nil) or the connection fails (ErrSessionFailed).
func (s *Session) Run(ctx context.Context) error {
	observability.SetConnected(true)
	defer observability.SetConnected(false)
	defer s.closed.Store(true)

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = s.conn.Close() })
	defer stop()

	g.Go(func() error {
		defer s.queue.Close()
		return s.readLoop(gctx)
	})
	g.Go(func() error {
		return s.writeLoop(gctx)
	})

	err := g.Wait()
	_ = s.conn.Close()
	if errors.Is(err, errWriteFrame) && s.inboundDone.Load() {
		// The aggregator finished and hung up without reading what was left.
		log.Warn().Msgf("prover.Session.Run aggregator closed before responses were delivered remote=%s queued=%d err=%v", s.remote(), s.queue.Len(), err)
		err = nil
	}
	if ctx.Err() != nil {
		log.Info().Msgf("prover.Session.Run stopped remote=%s", s.remote())
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSessionFailed, err)
	}
	log.Info().Msgf("prover.Session.Run stream completed remote=%s received=%d sent=%d", s.remote(), s.received.Load(), s.sent.Load())
	return nil
}

// Close tears the connection down; Run then returns.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) Snapshot() Snapshot {
	st := s.pending.Load()
	kind, id := st.Pending()
	return Snapshot{
		ProverID:    s.dispatcher.ProverID(),
		Remote:      s.remote(),
		StartedAt:   s.startedAt,
		PendingKind: kind.String(),
		PendingID:   id,
		Received:    s.received.Load(),
		Sent:        s.sent.Load(),
		Malformed:   s.malformed.Load(),
		Dropped:     s.queue.Dropped(),
		QueueDepth:  s.queue.Len(),
		Closed:      s.closed.Load(),
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		fr, err := session.ReadFrame(s.reader, s.limits)
		if errors.Is(err, io.EOF) {
			s.inboundDone.Store(true)
			log.Info().Msgf("prover.Session.readLoop stream to aggregator completed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		msg, err := session.DecodeAggregatorFrame(fr)
		if err != nil {
			s.malformed.Add(1)
			observability.RecordMalformed()
			log.Warn().Msgf("prover.Session.readLoop skip err=%v", err)
			continue
		}
		s.received.Add(1)

		resp, ok := s.dispatcher.Handle(msg.EnvelopeID, msg.Request, &s.state)
		snapshot := s.state
		s.pending.Store(&snapshot)
		if !ok {
			continue
		}
		if err := s.queue.Push(ctx, resp); err != nil {
			if errors.Is(err, session.ErrOutboundDropped) {
				observability.RecordOutboundDropped()
				log.Warn().
					Str("envelope_id", resp.EnvelopeID).
					Msgf("prover.Session.readLoop outbound queue full, dropped %s", responseName(resp.Response))
				continue
			}
			return err
		}
		observability.SetOutboundDepth(s.queue.Len())
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	out := s.queue.Chan()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-out:
			if !ok {
				return nil
			}
			observability.SetOutboundDepth(s.queue.Len())
			if err := s.write(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (s *Session) write(ctx context.Context, msg session.ProverMessage) error {
	payload, err := session.EncodeProverFrame(s.nextMessageID.Add(1), msg)
	if err != nil {
		// An unencodable response is a local bug, not a transport fault.
		log.Error().Str("envelope_id", msg.EnvelopeID).Msgf("prover.Session.write encode err=%v", err)
		return nil
	}
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", errWriteFrame, err)
	}
	if _, err := s.conn.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", errWriteFrame, err)
	}
	s.sent.Add(1)
	name := responseName(msg.Response)
	observability.RecordSent(name)
	log.Debug().Str("envelope_id", msg.EnvelopeID).Msgf("prover.Session.write sent %s", name)
	return nil
}

func (s *Session) remote() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
