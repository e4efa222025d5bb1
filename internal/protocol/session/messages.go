package session

import (
	"github.com/danmuck/proverctl/internal/protocol/schema"
)

// Result is the acknowledgment code carried by proof-creation responses.
type Result uint32

const (
	ResultUnspecified   Result = 0
	ResultOK            Result = 1
	ResultError         Result = 2
	ResultInternalError Result = 3
)

// ProofResult is the completion code carried by GetProof responses.
type ProofResult uint32

const (
	ProofResultUnspecified    ProofResult = 0
	ProofResultCompletedOK    ProofResult = 1
	ProofResultError          ProofResult = 2
	ProofResultCompletedError ProofResult = 3
	ProofResultPending        ProofResult = 4
	ProofResultInternalError  ProofResult = 5
	ProofResultCancel         ProofResult = 6
)

// ProverStatus is the prover state reported in status responses.
type ProverStatus uint32

const (
	StatusUnspecified ProverStatus = 0
	StatusBooting     ProverStatus = 1
	StatusComputing   ProverStatus = 2
	StatusIdle        ProverStatus = 3
	StatusHalt        ProverStatus = 4
)

func (s ProverStatus) String() string {
	switch s {
	case StatusBooting:
		return "booting"
	case StatusComputing:
		return "computing"
	case StatusIdle:
		return "idle"
	case StatusHalt:
		return "halt"
	default:
		return "unspecified"
	}
}

// AggregatorMessage is one inbound envelope. EnvelopeID is opaque and must be
// echoed on the paired ProverMessage.
type AggregatorMessage struct {
	EnvelopeID string
	Request    Request
}

// ProverMessage is one outbound envelope.
type ProverMessage struct {
	EnvelopeID string
	Response   Response
}

// Request is the closed set of aggregator requests.
type Request interface {
	MessageType() uint32
	isRequest()
}

type GetStatusRequest struct{}

type GenBatchProofRequest struct {
	Params BatchProofParams
}

type GenAggregatedProofRequest struct {
	Params AggregatedProofParams
}

type GenFinalProofRequest struct {
	Params FinalProofParams
}

type GetProofRequest struct {
	JobID      string
	TimeoutSec uint64
}

// UnrecognizedRequest stands in for any message type this prover does not handle.
type UnrecognizedRequest struct {
	Type uint32
}

func (GetStatusRequest) MessageType() uint32          { return schema.MsgGetStatusRequest }
func (GenBatchProofRequest) MessageType() uint32      { return schema.MsgGenBatchProofRequest }
func (GenAggregatedProofRequest) MessageType() uint32 { return schema.MsgGenAggregatedProofRequest }
func (GenFinalProofRequest) MessageType() uint32      { return schema.MsgGenFinalProofRequest }
func (GetProofRequest) MessageType() uint32           { return schema.MsgGetProofRequest }
func (r UnrecognizedRequest) MessageType() uint32     { return r.Type }

func (GetStatusRequest) isRequest()          {}
func (GenBatchProofRequest) isRequest()      {}
func (GenAggregatedProofRequest) isRequest() {}
func (GenFinalProofRequest) isRequest()      {}
func (GetProofRequest) isRequest()           {}
func (UnrecognizedRequest) isRequest()       {}

// BatchProofParams is the input of a batch proof job.
type BatchProofParams struct {
	PublicInputs      *PublicInputs     `cbor:"public_inputs,omitempty"`
	DB                map[string]string `cbor:"db,omitempty"`
	ContractsBytecode map[string]string `cbor:"contracts_bytecode,omitempty"`
}

// AggregatedProofParams names the two recursive proofs to aggregate.
type AggregatedProofParams struct {
	RecursiveProof1 string `cbor:"recursive_proof_1"`
	RecursiveProof2 string `cbor:"recursive_proof_2"`
}

// FinalProofParams names the recursive proof to finalise.
type FinalProofParams struct {
	RecursiveProof string `cbor:"recursive_proof"`
	AggregatorAddr string `cbor:"aggregator_addr"`
}

// Response is the closed set of prover responses.
type Response interface {
	MessageType() uint32
	isResponse()
}

type GetStatusResponse struct {
	Status                    ProverStatus
	LastComputedRequestID     string
	LastComputedEndTime       uint64
	CurrentComputingRequestID string
	CurrentComputingStartTime uint64
	VersionProto              string
	VersionServer             string
	PendingRequestQueueIDs    []string
	ProverName                string
	ProverID                  string
	ForkID                    uint64
	NumberOfCores             uint64
	TotalMemory               uint64
	FreeMemory                uint64
}

type GenBatchProofResponse struct {
	JobID  string
	Result Result
}

type GenAggregatedProofResponse struct {
	JobID  string
	Result Result
}

type GenFinalProofResponse struct {
	JobID  string
	Result Result
}

type GetProofResponse struct {
	JobID        string
	ResultString string
	Result       ProofResult
	// Proof is nil when no artifact is attached.
	Proof Proof
}

func (GetStatusResponse) MessageType() uint32          { return schema.MsgGetStatusResponse }
func (GenBatchProofResponse) MessageType() uint32      { return schema.MsgGenBatchProofResponse }
func (GenAggregatedProofResponse) MessageType() uint32 { return schema.MsgGenAggregatedProofResponse }
func (GenFinalProofResponse) MessageType() uint32      { return schema.MsgGenFinalProofResponse }
func (GetProofResponse) MessageType() uint32           { return schema.MsgGetProofResponse }

func (GetStatusResponse) isResponse()          {}
func (GenBatchProofResponse) isResponse()      {}
func (GenAggregatedProofResponse) isResponse() {}
func (GenFinalProofResponse) isResponse()      {}
func (GetProofResponse) isResponse()           {}

// ProofKind tags the artifact carried by a GetProof response.
type ProofKind uint8

const (
	ProofKindNone      ProofKind = 0
	ProofKindRecursive ProofKind = 1
	ProofKindFinal     ProofKind = 2
)

// Proof is the closed set of proof artifacts.
type Proof interface {
	Kind() ProofKind
	isProof()
}

// RecursiveProof is the opaque artifact of batch and aggregated proof jobs.
type RecursiveProof string

// FinalProof is the artifact of a final proof job.
type FinalProof struct {
	Proof  string                `cbor:"proof"`
	Public *PublicInputsExtended `cbor:"public"`
}

func (RecursiveProof) Kind() ProofKind { return ProofKindRecursive }
func (FinalProof) Kind() ProofKind     { return ProofKindFinal }

func (RecursiveProof) isProof() {}
func (FinalProof) isProof()     {}

// PublicInputs are the public inputs of a batch proof.
type PublicInputs struct {
	OldStateRoot      []byte            `cbor:"old_state_root"`
	OldAccInputHash   []byte            `cbor:"old_acc_input_hash"`
	OldBatchNum       uint64            `cbor:"old_batch_num"`
	ChainID           uint64            `cbor:"chain_id"`
	ForkID            uint64            `cbor:"fork_id"`
	BatchL2Data       []byte            `cbor:"batch_l2_data"`
	L1InfoRoot        []byte            `cbor:"l1_info_root"`
	TimestampLimit    uint64            `cbor:"timestamp_limit"`
	SequencerAddr     string            `cbor:"sequencer_addr"`
	ForcedBlockhashL1 []byte            `cbor:"forced_blockhash_l1"`
	AggregatorAddr    string            `cbor:"aggregator_addr"`
	L1InfoTreeData    map[uint32]L1Data `cbor:"l1_info_tree_data"`
}

// L1Data is one entry of the L1 info tree referenced by a batch.
type L1Data struct {
	GlobalExitRoot []byte   `cbor:"global_exit_root"`
	BlockhashL1    []byte   `cbor:"blockhash_l1"`
	MinTimestamp   uint32   `cbor:"min_timestamp"`
	SMTProof       [][]byte `cbor:"smt_proof"`
}

// PublicInputsExtended adds the post-state of a proven batch range.
type PublicInputsExtended struct {
	PublicInputs     *PublicInputs `cbor:"public_inputs"`
	NewStateRoot     []byte        `cbor:"new_state_root"`
	NewAccInputHash  []byte        `cbor:"new_acc_input_hash"`
	NewLocalExitRoot []byte        `cbor:"new_local_exit_root"`
	NewBatchNum      uint64        `cbor:"new_batch_num"`
}
