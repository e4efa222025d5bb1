package prover

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/proverctl/internal/fixture"
	"github.com/danmuck/proverctl/internal/protocol/frame"
	"github.com/danmuck/proverctl/internal/protocol/schema"
	"github.com/danmuck/proverctl/internal/protocol/session"
	"github.com/danmuck/proverctl/internal/protocol/tlv"
	"github.com/danmuck/proverctl/internal/testutil/aggregatortest"
	"github.com/danmuck/proverctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

const (
	waitResponse = 2 * time.Second
	quietWindow  = 200 * time.Millisecond
)

type harness struct {
	agg   *aggregatortest.Conn
	sess  *Session
	done  chan error
	cfg   session.Config
	disp  *Dispatcher
	fixed *fixture.Bundle
}

func startSession(t *testing.T, cfg session.Config) *harness {
	t.Helper()
	srv := aggregatortest.Start(t)
	bundle, err := fixture.Default()
	require.NoError(t, err)
	d := NewDispatcher(bundle, DispatcherConfig{ProverName: "e2e"})

	client, err := NewClient(ClientConfig{Address: srv.Addr(), Session: cfg}, d)
	require.NoError(t, err)
	sess, err := client.Connect(context.Background())
	require.NoError(t, err)

	h := &harness{
		agg:   srv.Accept(t, waitResponse),
		sess:  sess,
		done:  make(chan error, 1),
		cfg:   cfg,
		disp:  d,
		fixed: bundle,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.done <- sess.Run(ctx) }()
	return h
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not stop")
		return nil
	}
}

func TestSessionRegistersIdentity(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{})
	reg := h.agg.Registration
	require.Equal(t, "e2e", reg.ProverName)
	require.Equal(t, h.disp.ProverID(), reg.ProverID)
	require.Equal(t, VersionProto, reg.VersionProto)
	require.Equal(t, uint64(9), reg.ForkID)
}

func TestSessionEchoesEnvelopeAndSequencesJobs(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{})

	h.agg.Send(t, "status-1", session.GetStatusRequest{})
	status := h.agg.Recv(t, waitResponse)
	require.Equal(t, "status-1", status.EnvelopeID)
	require.Equal(t, session.StatusIdle, status.Response.(session.GetStatusResponse).Status)

	h.agg.Send(t, "batch-a", session.GenBatchProofRequest{})
	a := h.agg.Recv(t, waitResponse).Response.(session.GenBatchProofResponse).JobID
	h.agg.Send(t, "agg-b", session.GenAggregatedProofRequest{Params: session.AggregatedProofParams{RecursiveProof1: "x", RecursiveProof2: "y"}})
	b := h.agg.Recv(t, waitResponse).Response.(session.GenAggregatedProofResponse).JobID

	h.agg.Send(t, "get-a", session.GetProofRequest{JobID: a})
	h.agg.ExpectNone(t, quietWindow)

	h.agg.Send(t, "get-b", session.GetProofRequest{JobID: b})
	got := h.agg.Recv(t, waitResponse)
	require.Equal(t, "get-b", got.EnvelopeID)
	resp := got.Response.(session.GetProofResponse)
	require.Equal(t, b, resp.JobID)
	require.Equal(t, session.RecursiveProof(h.fixed.RecursiveProof2()), resp.Proof)

	snap := h.sess.Snapshot()
	require.Equal(t, JobAggregatedProof.String(), snap.PendingKind)
	require.Equal(t, b, snap.PendingID)
	require.Equal(t, uint64(5), snap.Received)
}

func TestSessionFinalProofOverWire(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{})

	h.agg.Send(t, "final", session.GenFinalProofRequest{})
	id := h.agg.Recv(t, waitResponse).Response.(session.GenFinalProofResponse).JobID
	h.agg.Send(t, "get", session.GetProofRequest{JobID: id})
	resp := h.agg.Recv(t, waitResponse).Response.(session.GetProofResponse)

	final := resp.Proof.(session.FinalProof)
	require.Equal(t, h.fixed.Proof(), final.Proof)
	require.Equal(t, uint64(1000), final.Public.PublicInputs.ChainID)
	require.Equal(t, uint64(9), final.Public.PublicInputs.ForkID)
	require.Equal(t, uint64(2), final.Public.NewBatchNum)
}

func TestSessionUnknownLookupEmitsNothing(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{})
	h.agg.Send(t, "lookup", session.GetProofRequest{JobID: "unknown-id"})
	h.agg.ExpectNone(t, quietWindow)
}

func TestSessionSkipsUnrecognizedAndMalformed(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{})

	h.agg.Send(t, "weird", session.UnrecognizedRequest{Type: 99})
	bad, err := frame.Marshal(frame.Frame{
		Header:  frame.Header{MessageID: 77, MessageType: schema.MsgGetProofRequest},
		Payload: tlv.EncodeFields([]tlv.Field{tlv.String(schema.FieldEnvelopeID, "no-job-id")}),
	}, frame.DefaultLimits())
	require.NoError(t, err)
	h.agg.SendRaw(t, bad)
	h.agg.ExpectNone(t, quietWindow)

	h.agg.Send(t, "after", session.GetStatusRequest{})
	require.Equal(t, "after", h.agg.Recv(t, waitResponse).EnvelopeID)
	require.Equal(t, uint64(1), h.sess.Snapshot().Malformed)
}

func TestSessionAcksJobWithBlankEnvelope(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{})

	for _, id := range []string{"", "  "} {
		h.agg.Send(t, id, session.GenBatchProofRequest{})
		ack := h.agg.Recv(t, waitResponse)
		require.Equal(t, id, ack.EnvelopeID)
		resp, ok := ack.Response.(session.GenBatchProofResponse)
		require.True(t, ok)
		require.Equal(t, session.ResultOK, resp.Result)
		require.Equal(t, resp.JobID, h.sess.Snapshot().PendingID)

		h.agg.Send(t, id, session.GetProofRequest{JobID: resp.JobID})
		proof := h.agg.Recv(t, waitResponse)
		require.Equal(t, id, proof.EnvelopeID)
		require.Equal(t, resp.JobID, proof.Response.(session.GetProofResponse).JobID)
	}
	require.Eventually(t, func() bool { return h.sess.Snapshot().Sent == 4 }, waitResponse, 10*time.Millisecond)
}

func TestSessionEndsCleanlyOnStreamClose(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{})

	h.agg.Send(t, "last", session.GetStatusRequest{})
	require.NoError(t, h.agg.CloseSend())
	require.Equal(t, "last", h.agg.Recv(t, waitResponse).EnvelopeID)
	require.NoError(t, h.wait(t))
	h.agg.WaitClosed(t, waitResponse)
	require.True(t, h.sess.Snapshot().Closed)
}

func TestSessionFailsOnDesyncedStream(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{})
	junk := make([]byte, frame.FixedHeaderLen)
	h.agg.SendRaw(t, junk)
	err := h.wait(t)
	require.ErrorIs(t, err, ErrSessionFailed)
	require.ErrorIs(t, err, frame.ErrInvalidMagic)
}

func TestSessionCancelReturnsNil(t *testing.T) {
	testlog.Start(t)
	srv := aggregatortest.Start(t)
	bundle, err := fixture.Default()
	require.NoError(t, err)
	client, err := NewClient(ClientConfig{Address: srv.Addr()}, NewDispatcher(bundle, DispatcherConfig{}))
	require.NoError(t, err)
	sess, err := client.Connect(context.Background())
	require.NoError(t, err)
	srv.Accept(t, waitResponse)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("session ignored cancellation")
	}
}

func TestSessionDropPolicyCountsOverflow(t *testing.T) {
	testlog.Start(t)
	h := startSession(t, session.Config{OutboundQueueSize: 1, OverflowPolicy: session.OverflowDrop})
	const n = 50
	for range n {
		h.agg.Send(t, "s", session.GetStatusRequest{})
	}
	require.NoError(t, h.agg.CloseSend())
	got := h.agg.Drain(t, 5*time.Second)
	require.NoError(t, h.wait(t))

	snap := h.sess.Snapshot()
	require.Equal(t, uint64(n), snap.Received)
	require.Equal(t, uint64(len(got)), snap.Sent)
	require.Equal(t, uint64(n), snap.Sent+snap.Dropped)
}
