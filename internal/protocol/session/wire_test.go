package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/proverctl/internal/protocol/frame"
	"github.com/danmuck/proverctl/internal/protocol/schema"
	"github.com/danmuck/proverctl/internal/protocol/tlv"
	"github.com/danmuck/proverctl/internal/testutil/testlog"
)

func readOne(t *testing.T, b []byte) frame.Frame {
	t.Helper()
	fr, err := ReadFrame(bytes.NewReader(b), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return fr
}

func TestAggregatorFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	cases := []Request{
		GetStatusRequest{},
		GenBatchProofRequest{Params: BatchProofParams{DB: map[string]string{"k": "v"}}},
		GenAggregatedProofRequest{Params: AggregatedProofParams{RecursiveProof1: "a", RecursiveProof2: "b"}},
		GenFinalProofRequest{Params: FinalProofParams{RecursiveProof: "r", AggregatorAddr: "0x01"}},
		GetProofRequest{JobID: "job-1", TimeoutSec: 600},
	}
	for i, req := range cases {
		b, err := EncodeAggregatorFrame(uint64(i+1), AggregatorMessage{EnvelopeID: "env", Request: req})
		if err != nil {
			t.Fatalf("encode %T: %v", req, err)
		}
		fr := readOne(t, b)
		if fr.Header.MessageType != req.MessageType() || fr.Header.IsResponse() {
			t.Fatalf("unexpected header for %T: %+v", req, fr.Header)
		}
		got, err := DecodeAggregatorFrame(fr)
		if err != nil {
			t.Fatalf("decode %T: %v", req, err)
		}
		if got.EnvelopeID != "env" {
			t.Fatalf("envelope id not echoed: %q", got.EnvelopeID)
		}
		switch want := req.(type) {
		case GenAggregatedProofRequest:
			g, ok := got.Request.(GenAggregatedProofRequest)
			if !ok || g.Params != want.Params {
				t.Fatalf("unexpected request: %#v", got.Request)
			}
		case GetProofRequest:
			if got.Request != want {
				t.Fatalf("unexpected request: %#v", got.Request)
			}
		case GenBatchProofRequest:
			g, ok := got.Request.(GenBatchProofRequest)
			if !ok || g.Params.DB["k"] != "v" {
				t.Fatalf("unexpected request: %#v", got.Request)
			}
		default:
			if got.Request.MessageType() != req.MessageType() {
				t.Fatalf("unexpected request: %#v", got.Request)
			}
		}
	}
}

func TestDecodeAggregatorFrameUnknownTypeIsUnrecognized(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeAggregatorFrame(9, AggregatorMessage{EnvelopeID: "env-x", Request: UnrecognizedRequest{Type: 77}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeAggregatorFrame(readOne(t, b))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	req, ok := got.Request.(UnrecognizedRequest)
	if !ok || req.Type != 77 || got.EnvelopeID != "env-x" {
		t.Fatalf("unexpected decode: %#v", got)
	}
}

func TestDecodeAggregatorFrameMalformedPayload(t *testing.T) {
	testlog.Start(t)
	b, err := frame.Marshal(frame.Frame{
		Header:  frame.Header{MessageID: 1, MessageType: schema.MsgGetProofRequest},
		Payload: tlv.EncodeFields([]tlv.Field{tlv.String(schema.FieldEnvelopeID, "env")}),
	}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeAggregatorFrame(readOne(t, b)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for missing job id, got %v", err)
	}

	b, err = frame.Marshal(frame.Frame{
		Header: frame.Header{MessageID: 2, MessageType: schema.MsgGenFinalProofRequest},
		Payload: tlv.EncodeFields([]tlv.Field{
			tlv.String(schema.FieldEnvelopeID, "env"),
			tlv.Bytes(schema.FieldParams, []byte{0xff, 0x00}),
		}),
	}, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeAggregatorFrame(readOne(t, b)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage for bad cbor, got %v", err)
	}
}

func TestProverFrameStatusRoundTrip(t *testing.T) {
	testlog.Start(t)
	want := GetStatusResponse{
		Status:                 StatusIdle,
		LastComputedEndTime:    1700000000,
		VersionProto:           "v0_0_1",
		VersionServer:          "0.0.1",
		PendingRequestQueueIDs: []string{"a", "b", "c"},
		ProverName:             "proverctl_test_prover",
		ProverID:               "prover-1",
		ForkID:                 9,
		NumberOfCores:          10,
		TotalMemory:            1_000_000_000,
		FreeMemory:             1_000_000,
	}
	b, err := EncodeProverFrame(3, ProverMessage{EnvelopeID: "env-s", Response: want})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fr := readOne(t, b)
	if !fr.Header.IsResponse() || fr.Header.MessageType != schema.MsgGetStatusResponse {
		t.Fatalf("unexpected header: %+v", fr.Header)
	}
	got, err := DecodeProverFrame(fr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp, ok := got.Response.(GetStatusResponse)
	if !ok {
		t.Fatalf("unexpected response: %#v", got.Response)
	}
	if resp.Status != StatusIdle || resp.ForkID != 9 || resp.ProverID != "prover-1" || len(resp.PendingRequestQueueIDs) != 3 {
		t.Fatalf("unexpected status: %+v", resp)
	}
}

func TestProverFrameProofArtifacts(t *testing.T) {
	testlog.Start(t)
	final := FinalProof{
		Proof: "proof-string",
		Public: &PublicInputsExtended{
			PublicInputs: &PublicInputs{ChainID: 1000, ForkID: 9, L1InfoTreeData: map[uint32]L1Data{}},
			NewStateRoot: []byte{0x01},
			NewBatchNum:  2,
		},
	}
	for _, proof := range []Proof{nil, RecursiveProof("rp1"), final} {
		b, err := EncodeProverFrame(4, ProverMessage{EnvelopeID: "env-p", Response: GetProofResponse{
			JobID:        "job",
			ResultString: "completed",
			Result:       ProofResultCompletedOK,
			Proof:        proof,
		}})
		if err != nil {
			t.Fatalf("encode %T: %v", proof, err)
		}
		got, err := DecodeProverFrame(readOne(t, b))
		if err != nil {
			t.Fatalf("decode %T: %v", proof, err)
		}
		resp := got.Response.(GetProofResponse)
		if resp.Result != ProofResultCompletedOK || resp.ResultString != "completed" {
			t.Fatalf("unexpected response: %+v", resp)
		}
		switch p := resp.Proof.(type) {
		case nil:
			if proof != nil {
				t.Fatalf("proof lost for %T", proof)
			}
		case RecursiveProof:
			if p != "rp1" {
				t.Fatalf("unexpected recursive proof %q", p)
			}
		case FinalProof:
			if p.Proof != "proof-string" || p.Public.NewBatchNum != 2 || p.Public.PublicInputs.ChainID != 1000 {
				t.Fatalf("unexpected final proof: %+v", p)
			}
		}
	}
}

func TestBlankEnvelopeIDEchoedVerbatim(t *testing.T) {
	testlog.Start(t)
	for _, id := range []string{"", "  "} {
		b, err := EncodeAggregatorFrame(1, AggregatorMessage{EnvelopeID: id, Request: GenBatchProofRequest{}})
		if err != nil {
			t.Fatalf("encode request envelope=%q: %v", id, err)
		}
		req, err := DecodeAggregatorFrame(readOne(t, b))
		if err != nil || req.EnvelopeID != id {
			t.Fatalf("request envelope=%q decoded as %q err=%v", id, req.EnvelopeID, err)
		}

		b, err = EncodeProverFrame(2, ProverMessage{EnvelopeID: id, Response: GenBatchProofResponse{JobID: "j", Result: ResultOK}})
		if err != nil {
			t.Fatalf("encode response envelope=%q: %v", id, err)
		}
		resp, err := DecodeProverFrame(readOne(t, b))
		if err != nil || resp.EnvelopeID != id {
			t.Fatalf("response envelope=%q decoded as %q err=%v", id, resp.EnvelopeID, err)
		}
	}
}

func TestDecodeProverFrameRejectsRequestType(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeAggregatorFrame(1, AggregatorMessage{EnvelopeID: "env", Request: GetStatusRequest{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeProverFrame(readOne(t, b)); !errors.Is(err, ErrUnknownResponse) {
		t.Fatalf("expected ErrUnknownResponse, got %v", err)
	}
}
