package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/proverctl/internal/protocol/frame"
	"github.com/danmuck/proverctl/internal/protocol/schema"
	"github.com/danmuck/proverctl/internal/protocol/tlv"
	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrMalformedMessage marks a frame whose payload could not be decoded.
	// The stream itself is intact and the next frame can be read.
	ErrMalformedMessage = errors.New("session: malformed message")
	ErrUnknownResponse  = errors.New("session: unknown response type")
)

var cborEnc = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// ReadFrame reads one framed message from the stream.
func ReadFrame(r io.Reader, limits frame.Limits) (frame.Frame, error) {
	return frame.ReadFrame(r, limits)
}

// EncodeAggregatorFrame encodes one aggregator request envelope.
func EncodeAggregatorFrame(messageID uint64, msg AggregatorMessage) ([]byte, error) {
	if msg.Request == nil {
		return nil, fmt.Errorf("aggregator message missing request")
	}
	fields := []tlv.Field{tlv.String(schema.FieldEnvelopeID, msg.EnvelopeID)}
	switch req := msg.Request.(type) {
	case GetStatusRequest:
	case GenBatchProofRequest:
		f, err := cborField(schema.FieldParams, req.Params)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	case GenAggregatedProofRequest:
		f, err := cborField(schema.FieldParams, req.Params)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	case GenFinalProofRequest:
		f, err := cborField(schema.FieldParams, req.Params)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	case GetProofRequest:
		fields = append(fields, tlv.String(schema.FieldJobID, req.JobID))
		if req.TimeoutSec != 0 {
			fields = append(fields, tlv.U64(schema.FieldTimeoutSec, req.TimeoutSec))
		}
	case UnrecognizedRequest:
		// Test aggregators use this to push message types the prover does not know.
		return marshalFrame(messageID, req.Type, 0, fields)
	}
	if err := schema.Validate(msg.Request.MessageType(), fields); err != nil {
		return nil, err
	}
	return marshalFrame(messageID, msg.Request.MessageType(), 0, fields)
}

// DecodeAggregatorFrame decodes one inbound frame. Message types without a
// request schema decode to UnrecognizedRequest rather than an error.
func DecodeAggregatorFrame(f frame.Frame) (AggregatorMessage, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return AggregatorMessage{}, malformed(f, err)
	}
	msgType := f.Header.MessageType
	if !isRequestType(msgType) {
		return AggregatorMessage{
			EnvelopeID: stringField(fields, schema.FieldEnvelopeID),
			Request:    UnrecognizedRequest{Type: msgType},
		}, nil
	}
	if err := schema.Validate(msgType, fields); err != nil {
		return AggregatorMessage{}, malformed(f, err)
	}
	msg := AggregatorMessage{EnvelopeID: stringField(fields, schema.FieldEnvelopeID)}
	switch msgType {
	case schema.MsgGetStatusRequest:
		msg.Request = GetStatusRequest{}
	case schema.MsgGenBatchProofRequest:
		var req GenBatchProofRequest
		if err := decodeCBORField(fields, schema.FieldParams, &req.Params); err != nil {
			return AggregatorMessage{}, malformed(f, err)
		}
		msg.Request = req
	case schema.MsgGenAggregatedProofRequest:
		var req GenAggregatedProofRequest
		if err := decodeCBORField(fields, schema.FieldParams, &req.Params); err != nil {
			return AggregatorMessage{}, malformed(f, err)
		}
		msg.Request = req
	case schema.MsgGenFinalProofRequest:
		var req GenFinalProofRequest
		if err := decodeCBORField(fields, schema.FieldParams, &req.Params); err != nil {
			return AggregatorMessage{}, malformed(f, err)
		}
		msg.Request = req
	case schema.MsgGetProofRequest:
		req := GetProofRequest{JobID: stringField(fields, schema.FieldJobID)}
		if tf, ok := tlv.GetField(fields, schema.FieldTimeoutSec); ok {
			v, err := tf.AsU64()
			if err != nil {
				return AggregatorMessage{}, malformed(f, err)
			}
			req.TimeoutSec = v
		}
		msg.Request = req
	}
	return msg, nil
}

// EncodeProverFrame encodes one prover response envelope. The envelope id is
// opaque and echoed verbatim, empty included.
func EncodeProverFrame(messageID uint64, msg ProverMessage) ([]byte, error) {
	fields := []tlv.Field{tlv.String(schema.FieldEnvelopeID, msg.EnvelopeID)}
	switch resp := msg.Response.(type) {
	case GetStatusResponse:
		queue, err := cborField(schema.FieldPendingRequestQueueIDs, resp.PendingRequestQueueIDs)
		if err != nil {
			return nil, err
		}
		fields = append(fields,
			tlv.U32(schema.FieldStatus, uint32(resp.Status)),
			tlv.String(schema.FieldLastComputedRequestID, resp.LastComputedRequestID),
			tlv.U64(schema.FieldLastComputedEndTime, resp.LastComputedEndTime),
			tlv.String(schema.FieldCurrentComputingRequestID, resp.CurrentComputingRequestID),
			tlv.U64(schema.FieldCurrentComputingStartTime, resp.CurrentComputingStartTime),
			tlv.String(schema.FieldVersionProto, resp.VersionProto),
			tlv.String(schema.FieldVersionServer, resp.VersionServer),
			queue,
			tlv.String(schema.FieldProverName, resp.ProverName),
			tlv.String(schema.FieldProverID, resp.ProverID),
			tlv.U64(schema.FieldForkID, resp.ForkID),
			tlv.U64(schema.FieldNumberOfCores, resp.NumberOfCores),
			tlv.U64(schema.FieldTotalMemory, resp.TotalMemory),
			tlv.U64(schema.FieldFreeMemory, resp.FreeMemory),
		)
	case GenBatchProofResponse:
		fields = append(fields, tlv.String(schema.FieldJobID, resp.JobID), tlv.U32(schema.FieldResult, uint32(resp.Result)))
	case GenAggregatedProofResponse:
		fields = append(fields, tlv.String(schema.FieldJobID, resp.JobID), tlv.U32(schema.FieldResult, uint32(resp.Result)))
	case GenFinalProofResponse:
		fields = append(fields, tlv.String(schema.FieldJobID, resp.JobID), tlv.U32(schema.FieldResult, uint32(resp.Result)))
	case GetProofResponse:
		fields = append(fields,
			tlv.String(schema.FieldJobID, resp.JobID),
			tlv.U32(schema.FieldResult, uint32(resp.Result)),
			tlv.String(schema.FieldResultString, resp.ResultString),
		)
		proofFields, err := encodeProof(resp.Proof)
		if err != nil {
			return nil, err
		}
		fields = append(fields, proofFields...)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownResponse, msg.Response)
	}
	if err := schema.Validate(msg.Response.MessageType(), fields); err != nil {
		return nil, err
	}
	return marshalFrame(messageID, msg.Response.MessageType(), frame.FlagIsResponse, fields)
}

// DecodeProverFrame decodes one outbound frame; aggregators and tests read
// prover responses with it.
func DecodeProverFrame(f frame.Frame) (ProverMessage, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return ProverMessage{}, malformed(f, err)
	}
	msgType := f.Header.MessageType
	if !isResponseType(msgType) {
		return ProverMessage{}, fmt.Errorf("%w: message_type=%d", ErrUnknownResponse, msgType)
	}
	if err := schema.Validate(msgType, fields); err != nil {
		return ProverMessage{}, malformed(f, err)
	}
	r := fieldReader{fields: fields}
	msg := ProverMessage{EnvelopeID: r.str(schema.FieldEnvelopeID)}
	switch msgType {
	case schema.MsgGetStatusResponse:
		resp := GetStatusResponse{
			Status:                    ProverStatus(r.u32(schema.FieldStatus)),
			LastComputedRequestID:     r.str(schema.FieldLastComputedRequestID),
			LastComputedEndTime:       r.u64(schema.FieldLastComputedEndTime),
			CurrentComputingRequestID: r.str(schema.FieldCurrentComputingRequestID),
			CurrentComputingStartTime: r.u64(schema.FieldCurrentComputingStartTime),
			VersionProto:              r.str(schema.FieldVersionProto),
			VersionServer:             r.str(schema.FieldVersionServer),
			ProverName:                r.str(schema.FieldProverName),
			ProverID:                  r.str(schema.FieldProverID),
			ForkID:                    r.u64(schema.FieldForkID),
			NumberOfCores:             r.u64(schema.FieldNumberOfCores),
			TotalMemory:               r.u64(schema.FieldTotalMemory),
			FreeMemory:                r.u64(schema.FieldFreeMemory),
		}
		if err := decodeCBORField(fields, schema.FieldPendingRequestQueueIDs, &resp.PendingRequestQueueIDs); err != nil {
			return ProverMessage{}, malformed(f, err)
		}
		msg.Response = resp
	case schema.MsgGenBatchProofResponse:
		msg.Response = GenBatchProofResponse{JobID: r.str(schema.FieldJobID), Result: Result(r.u32(schema.FieldResult))}
	case schema.MsgGenAggregatedProofResponse:
		msg.Response = GenAggregatedProofResponse{JobID: r.str(schema.FieldJobID), Result: Result(r.u32(schema.FieldResult))}
	case schema.MsgGenFinalProofResponse:
		msg.Response = GenFinalProofResponse{JobID: r.str(schema.FieldJobID), Result: Result(r.u32(schema.FieldResult))}
	case schema.MsgGetProofResponse:
		proof, err := decodeProof(fields)
		if err != nil {
			return ProverMessage{}, malformed(f, err)
		}
		msg.Response = GetProofResponse{
			JobID:        r.str(schema.FieldJobID),
			Result:       ProofResult(r.u32(schema.FieldResult)),
			ResultString: r.str(schema.FieldResultString),
			Proof:        proof,
		}
	}
	if r.err != nil {
		return ProverMessage{}, malformed(f, r.err)
	}
	return msg, nil
}

func encodeProof(p Proof) ([]tlv.Field, error) {
	switch proof := p.(type) {
	case nil:
		return []tlv.Field{tlv.U8(schema.FieldProofKind, uint8(ProofKindNone))}, nil
	case RecursiveProof:
		return []tlv.Field{
			tlv.U8(schema.FieldProofKind, uint8(ProofKindRecursive)),
			tlv.String(schema.FieldRecursiveProof, string(proof)),
		}, nil
	case FinalProof:
		f, err := cborField(schema.FieldFinalProof, proof)
		if err != nil {
			return nil, err
		}
		return []tlv.Field{tlv.U8(schema.FieldProofKind, uint8(ProofKindFinal)), f}, nil
	default:
		return nil, fmt.Errorf("session: unsupported proof %T", p)
	}
}

func decodeProof(fields []tlv.Field) (Proof, error) {
	kindField, _ := tlv.GetField(fields, schema.FieldProofKind)
	kind, err := kindField.AsU8()
	if err != nil {
		return nil, err
	}
	switch ProofKind(kind) {
	case ProofKindNone:
		return nil, nil
	case ProofKindRecursive:
		f, ok := tlv.GetField(fields, schema.FieldRecursiveProof)
		if !ok {
			return nil, fmt.Errorf("session: recursive proof kind without recursive_proof field")
		}
		return RecursiveProof(f.Value), nil
	case ProofKindFinal:
		if _, ok := tlv.GetField(fields, schema.FieldFinalProof); !ok {
			return nil, fmt.Errorf("session: final proof kind without final_proof field")
		}
		var fp FinalProof
		if err := decodeCBORField(fields, schema.FieldFinalProof, &fp); err != nil {
			return nil, err
		}
		return fp, nil
	default:
		return nil, fmt.Errorf("session: unknown proof kind %d", kind)
	}
}

func marshalFrame(messageID uint64, messageType uint32, flags uint32, fields []tlv.Field) ([]byte, error) {
	return frame.Marshal(frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
}

func cborField(id uint16, v any) (tlv.Field, error) {
	b, err := cborEnc.Marshal(v)
	if err != nil {
		return tlv.Field{}, err
	}
	return tlv.Field{ID: id, Type: tlv.TypeBytes, Value: b}, nil
}

// decodeCBORField leaves out untouched when the field is absent.
func decodeCBORField(fields []tlv.Field, id uint16, out any) error {
	f, ok := tlv.GetField(fields, id)
	if !ok || len(f.Value) == 0 {
		return nil
	}
	return cbor.Unmarshal(f.Value, out)
}

func malformed(f frame.Frame, err error) error {
	return fmt.Errorf("%w: message_id=%d message_type=%d: %v", ErrMalformedMessage, f.Header.MessageID, f.Header.MessageType, err)
}

func isRequestType(t uint32) bool {
	return t >= schema.MsgGetStatusRequest && t <= schema.MsgGetProofRequest
}

func isResponseType(t uint32) bool {
	return t >= schema.MsgGetStatusResponse && t <= schema.MsgGetProofResponse
}

// stringField returns the value of a string field, or "" when absent or mistyped.
func stringField(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok || f.Type != tlv.TypeString {
		return ""
	}
	return string(f.Value)
}

// fieldReader reads schema-validated fields and keeps the first width error.
type fieldReader struct {
	fields []tlv.Field
	err    error
}

func (r *fieldReader) str(id uint16) string {
	return stringField(r.fields, id)
}

func (r *fieldReader) u32(id uint16) uint32 {
	f, _ := tlv.GetField(r.fields, id)
	v, err := f.AsU32()
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *fieldReader) u64(id uint16) uint64 {
	f, _ := tlv.GetField(r.fields, id)
	v, err := f.AsU64()
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}
