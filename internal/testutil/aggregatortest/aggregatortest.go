// Package aggregatortest is a scripted fake aggregator for session tests. It
// accepts prover connections, answers the registration handshake and lets a
// test push requests and read the prover's responses.
package aggregatortest

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/proverctl/internal/protocol/frame"
	"github.com/danmuck/proverctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

type Option func(*Server)

// WithTLS serves TLS with cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsCfg = cfg }
}

// Reject answers every registration with a rejected ack.
func Reject(code uint32, message string) Option {
	return func(s *Server) {
		s.reject = true
		s.rejectCode = code
		s.rejectMsg = message
	}
}

type Server struct {
	ln         net.Listener
	tlsCfg     *tls.Config
	reject     bool
	rejectCode uint32
	rejectMsg  string

	conns    chan *Conn
	mu       sync.Mutex
	accepted []*Conn
}

// Start listens on a loopback port; the server stops at test cleanup.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{conns: make(chan *Conn, 4)}
	for _, opt := range opts {
		opt(s)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("aggregatortest listen: %v", err)
	}
	if s.tlsCfg != nil {
		ln = tls.NewListener(ln, s.tlsCfg)
	}
	s.ln = ln
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.accepted {
		_ = c.conn.Close()
	}
}

// Accept waits for the next registered prover.
func (s *Server) Accept(t testing.TB, timeout time.Duration) *Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(timeout):
		t.Fatalf("aggregatortest: no prover registered within %v", timeout)
		return nil
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handshake(conn)
	}
}

func (s *Server) handshake(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	reader := bufio.NewReader(conn)
	reg, err := session.ReadRegistration(reader)
	if err != nil {
		log.Warn().Msgf("aggregatortest handshake read err=%v", err)
		_ = conn.Close()
		return
	}
	ack := session.RegistrationAck{
		Status:      session.AckStatusAccepted,
		Message:     "ok",
		ProverID:    reg.ProverID,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if s.reject {
		ack.Status = session.AckStatusRejected
		ack.Code = s.rejectCode
		ack.Message = s.rejectMsg
	}
	if err := session.WriteRegistrationAck(conn, ack); err != nil {
		_ = conn.Close()
		return
	}
	if s.reject {
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	c := &Conn{
		conn:         conn,
		Registration: reg,
		responses:    make(chan session.ProverMessage, 64),
	}
	s.mu.Lock()
	s.accepted = append(s.accepted, c)
	s.mu.Unlock()
	go c.readLoop(reader)
	s.conns <- c
}

// Conn is one registered prover stream.
type Conn struct {
	conn         net.Conn
	Registration session.Registration

	nextID    atomic.Uint64
	responses chan session.ProverMessage
	errMu     sync.Mutex
	readErr   error
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.readErr = err
}

// Err is the error that ended the response stream, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Conn) readLoop(r *bufio.Reader) {
	defer close(c.responses)
	for {
		fr, err := frame.ReadFrame(r, frame.DefaultLimits())
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.setErr(err)
			}
			return
		}
		msg, err := session.DecodeProverFrame(fr)
		if err != nil {
			c.setErr(err)
			return
		}
		c.responses <- msg
	}
}

// Send writes one request envelope.
func (c *Conn) Send(t testing.TB, envelopeID string, req session.Request) {
	t.Helper()
	b, err := session.EncodeAggregatorFrame(c.nextID.Add(1), session.AggregatorMessage{EnvelopeID: envelopeID, Request: req})
	if err != nil {
		t.Fatalf("aggregatortest encode: %v", err)
	}
	c.SendRaw(t, b)
}

// SendRaw writes bytes as-is, for malformed-frame tests.
func (c *Conn) SendRaw(t testing.TB, b []byte) {
	t.Helper()
	if _, err := c.conn.Write(b); err != nil {
		t.Fatalf("aggregatortest write: %v", err)
	}
}

// Recv waits for the next response.
func (c *Conn) Recv(t testing.TB, timeout time.Duration) session.ProverMessage {
	t.Helper()
	select {
	case msg, ok := <-c.responses:
		if !ok {
			t.Fatalf("aggregatortest: stream closed err=%v", c.Err())
		}
		return msg
	case <-time.After(timeout):
		t.Fatalf("aggregatortest: no response within %v", timeout)
		return session.ProverMessage{}
	}
}

// ExpectNone fails if a response arrives within window.
func (c *Conn) ExpectNone(t testing.TB, window time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-c.responses:
		if ok {
			t.Fatalf("aggregatortest: unexpected response %#v", msg)
		}
	case <-time.After(window):
	}
}

// Drain collects responses until the prover closes its side of the stream.
func (c *Conn) Drain(t testing.TB, timeout time.Duration) []session.ProverMessage {
	t.Helper()
	var out []session.ProverMessage
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-c.responses:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-deadline:
			t.Fatalf("aggregatortest: prover did not close within %v", timeout)
			return out
		}
	}
}

// WaitClosed waits for the prover to close its side of the stream.
func (c *Conn) WaitClosed(t testing.TB, timeout time.Duration) {
	t.Helper()
	c.Drain(t, timeout)
}

// CloseSend ends the request stream while keeping responses readable.
func (c *Conn) CloseSend() error {
	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.conn.Close()
}

// Close drops the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
