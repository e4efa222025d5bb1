package schema

import (
	"fmt"

	"github.com/danmuck/proverctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Aggregator->prover request message type IDs.
const (
	MsgGetStatusRequest          uint32 = 1
	MsgGenBatchProofRequest      uint32 = 2
	MsgGenAggregatedProofRequest uint32 = 3
	MsgGenFinalProofRequest      uint32 = 4
	MsgGetProofRequest           uint32 = 5
)

// Prover->aggregator response message type IDs.
const (
	MsgGetStatusResponse          uint32 = 101
	MsgGenBatchProofResponse      uint32 = 102
	MsgGenAggregatedProofResponse uint32 = 103
	MsgGenFinalProofResponse      uint32 = 104
	MsgGetProofResponse           uint32 = 105
)

// Field IDs shared by every message.
const (
	FieldEnvelopeID   uint16 = 1
	FieldJobID        uint16 = 2
	FieldResult       uint16 = 3
	FieldResultString uint16 = 4

	FieldParams     uint16 = 10
	FieldTimeoutSec uint16 = 11
)

// Status field IDs.
const (
	FieldStatus                    uint16 = 200
	FieldLastComputedRequestID     uint16 = 201
	FieldLastComputedEndTime       uint16 = 202
	FieldCurrentComputingRequestID uint16 = 203
	FieldCurrentComputingStartTime uint16 = 204
	FieldVersionProto              uint16 = 205
	FieldVersionServer             uint16 = 206
	FieldPendingRequestQueueIDs    uint16 = 207
	FieldProverName                uint16 = 208
	FieldProverID                  uint16 = 209
	FieldForkID                    uint16 = 210
	FieldNumberOfCores             uint16 = 211
	FieldTotalMemory               uint16 = 212
	FieldFreeMemory                uint16 = 213
)

// Proof artifact field IDs.
const (
	FieldProofKind      uint16 = 300
	FieldRecursiveProof uint16 = 301
	FieldFinalProof     uint16 = 302
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var envelope = Requirement{FieldEnvelopeID, tlv.TypeString}

var requirements = map[uint32][]Requirement{
	MsgGetStatusRequest:          {envelope},
	MsgGenBatchProofRequest:      {envelope},
	MsgGenAggregatedProofRequest: {envelope},
	MsgGenFinalProofRequest:      {envelope},
	MsgGetProofRequest: {
		envelope,
		{FieldJobID, tlv.TypeString},
	},
	MsgGetStatusResponse: {
		envelope,
		{FieldStatus, tlv.TypeU32},
		{FieldLastComputedRequestID, tlv.TypeString},
		{FieldLastComputedEndTime, tlv.TypeU64},
		{FieldCurrentComputingRequestID, tlv.TypeString},
		{FieldCurrentComputingStartTime, tlv.TypeU64},
		{FieldVersionProto, tlv.TypeString},
		{FieldVersionServer, tlv.TypeString},
		{FieldPendingRequestQueueIDs, tlv.TypeBytes},
		{FieldProverName, tlv.TypeString},
		{FieldProverID, tlv.TypeString},
		{FieldForkID, tlv.TypeU64},
		{FieldNumberOfCores, tlv.TypeU64},
		{FieldTotalMemory, tlv.TypeU64},
		{FieldFreeMemory, tlv.TypeU64},
	},
	MsgGenBatchProofResponse: {
		envelope,
		{FieldJobID, tlv.TypeString},
		{FieldResult, tlv.TypeU32},
	},
	MsgGenAggregatedProofResponse: {
		envelope,
		{FieldJobID, tlv.TypeString},
		{FieldResult, tlv.TypeU32},
	},
	MsgGenFinalProofResponse: {
		envelope,
		{FieldJobID, tlv.TypeString},
		{FieldResult, tlv.TypeU32},
	},
	MsgGetProofResponse: {
		envelope,
		{FieldJobID, tlv.TypeString},
		{FieldResult, tlv.TypeU32},
		{FieldResultString, tlv.TypeString},
		{FieldProofKind, tlv.TypeU8},
	},
}

// optional declares the type of fields a message may carry beyond its requirements.
var optional = map[uint32][]Requirement{
	MsgGenBatchProofRequest:      {{FieldParams, tlv.TypeBytes}},
	MsgGenAggregatedProofRequest: {{FieldParams, tlv.TypeBytes}},
	MsgGenFinalProofRequest:      {{FieldParams, tlv.TypeBytes}},
	MsgGetProofRequest:           {{FieldTimeoutSec, tlv.TypeU64}},
	MsgGetProofResponse: {
		{FieldRecursiveProof, tlv.TypeString},
		{FieldFinalProof, tlv.TypeBytes},
	},
}

// Known reports whether messageType has a schema.
func Known(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

// Validate enforces required fields and the types of known optional fields.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	log.Trace().Msgf("schema.Validate message_type=%d fields=%d", messageType, len(fields))
	reqs, ok := requirements[messageType]
	if !ok {
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().Msgf(
				"schema.Validate missing field message_type=%d field_id=%d",
				messageType,
				req.ID,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().Msgf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, opt := range optional[messageType] {
		f, found := tlv.GetField(fields, opt.ID)
		if found && f.Type != opt.Type {
			return ValidationError{MessageType: messageType, FieldID: opt.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
