package prover

import (
	"strings"
	"time"

	"github.com/danmuck/proverctl/internal/fixture"
	"github.com/danmuck/proverctl/internal/observability"
	"github.com/danmuck/proverctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

const (
	DefaultProverName = "proverctl_test_prover"

	VersionProto  = "v0_0_1"
	VersionServer = "0.0.1"

	resultCompleted = "completed"
	statusQueueLen  = 3
	statusCores     = 10
	statusTotalMem  = 1_000_000_000
	statusFreeMem   = 1_000_000
)

// DispatcherConfig tunes the status identity and injects ids and time for tests.
type DispatcherConfig struct {
	ProverName string
	ProverID   string
	IDs        IDGenerator
	Clock      func() time.Time
}

// Dispatcher turns one aggregator request into at most one response.
type Dispatcher struct {
	bundle     *fixture.Bundle
	ids        IDGenerator
	now        func() time.Time
	proverName string
	proverID   string
}

func NewDispatcher(bundle *fixture.Bundle, cfg DispatcherConfig) *Dispatcher {
	if cfg.IDs == nil {
		cfg.IDs = RandomIDs{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if strings.TrimSpace(cfg.ProverName) == "" {
		cfg.ProverName = DefaultProverName
	}
	if strings.TrimSpace(cfg.ProverID) == "" {
		cfg.ProverID = cfg.IDs.NewID()
	}
	return &Dispatcher{
		bundle:     bundle,
		ids:        cfg.IDs,
		now:        cfg.Clock,
		proverName: cfg.ProverName,
		proverID:   cfg.ProverID,
	}
}

func (d *Dispatcher) ProverName() string { return d.proverName }
func (d *Dispatcher) ProverID() string   { return d.proverID }
func (d *Dispatcher) ForkID() uint64     { return d.bundle.ForkID() }

// Handle answers req against st. The bool is false when no response is owed:
// a GetProof for anything but the pending job, or an unrecognized request.
func (d *Dispatcher) Handle(envelopeID string, req session.Request, st *State) (session.ProverMessage, bool) {
	name := requestName(req)
	var resp session.Response
	switch r := req.(type) {
	case session.GetStatusRequest:
		resp = d.status()
	case session.GenBatchProofRequest:
		resp = session.GenBatchProofResponse{JobID: d.startJob(st, JobBatchProof), Result: session.ResultOK}
	case session.GenAggregatedProofRequest:
		resp = session.GenAggregatedProofResponse{JobID: d.startJob(st, JobAggregatedProof), Result: session.ResultOK}
	case session.GenFinalProofRequest:
		resp = session.GenFinalProofResponse{JobID: d.startJob(st, JobFinalProof), Result: session.ResultOK}
	case session.GetProofRequest:
		if !st.matches(r.JobID) {
			kind, pending := st.Pending()
			log.Debug().
				Str("envelope_id", envelopeID).
				Str("job_id", r.JobID).
				Str("pending_id", pending).
				Msgf("prover.Dispatcher.Handle get_proof ignored pending_kind=%s", kind)
			observability.RecordDispatch(name, observability.OutcomeMismatch)
			return session.ProverMessage{}, false
		}
		kind, _ := st.Pending()
		resp = session.GetProofResponse{
			JobID:        r.JobID,
			ResultString: resultCompleted,
			Result:       session.ProofResultCompletedOK,
			Proof:        d.artifact(kind),
		}
	default:
		var msgType uint32
		if req != nil {
			msgType = req.MessageType()
		}
		log.Warn().
			Str("envelope_id", envelopeID).
			Msgf("prover.Dispatcher.Handle unrecognized request message_type=%d", msgType)
		observability.RecordDispatch(name, observability.OutcomeUnrecognized)
		return session.ProverMessage{}, false
	}
	observability.RecordDispatch(name, observability.OutcomeResponded)
	log.Debug().Str("envelope_id", envelopeID).Msgf("prover.Dispatcher.Handle %s answered", name)
	return session.ProverMessage{EnvelopeID: envelopeID, Response: resp}, true
}

func (d *Dispatcher) startJob(st *State, kind JobKind) string {
	id := d.ids.NewID()
	if prevKind, prev := st.Pending(); prevKind != JobNone {
		log.Debug().Str("job_id", id).Str("discarded_id", prev).Msgf("prover.Dispatcher.startJob replacing %s", prevKind)
	}
	st.begin(kind, id)
	log.Info().Str("job_id", id).Msgf("prover.Dispatcher.startJob kind=%s", kind)
	return id
}

func (d *Dispatcher) status() session.GetStatusResponse {
	now := uint64(d.now().Unix())
	queue := make([]string, statusQueueLen)
	for i := range queue {
		queue[i] = d.ids.NewID()
	}
	return session.GetStatusResponse{
		Status:                    session.StatusIdle,
		LastComputedRequestID:     "",
		LastComputedEndTime:       now,
		CurrentComputingRequestID: "",
		CurrentComputingStartTime: now,
		VersionProto:              VersionProto,
		VersionServer:             VersionServer,
		PendingRequestQueueIDs:    queue,
		ProverName:                d.proverName,
		ProverID:                  d.proverID,
		ForkID:                    d.bundle.ForkID(),
		NumberOfCores:             statusCores,
		TotalMemory:               statusTotalMem,
		FreeMemory:                statusFreeMem,
	}
}

// artifact builds a fresh proof for kind; JobNone has none.
func (d *Dispatcher) artifact(kind JobKind) session.Proof {
	b := d.bundle
	switch kind {
	case JobBatchProof:
		return session.RecursiveProof(b.RecursiveProof1())
	case JobAggregatedProof:
		return session.RecursiveProof(b.RecursiveProof2())
	case JobFinalProof:
		root := b.Root()
		addr := b.BytesHex()
		newAcc := b.NewAccInputHash()
		newLER := b.NewLocalExitRoot()
		return session.FinalProof{
			Proof: b.Proof(),
			Public: &session.PublicInputsExtended{
				PublicInputs: &session.PublicInputs{
					OldStateRoot:      root.Bytes(),
					OldAccInputHash:   root.Bytes(),
					OldBatchNum:       b.OldBatchNum(),
					ChainID:           b.ChainID(),
					ForkID:            b.ForkID(),
					BatchL2Data:       b.Bytes(),
					L1InfoRoot:        b.Bytes(),
					TimestampLimit:    b.TimestampLimit(),
					SequencerAddr:     addr,
					ForcedBlockhashL1: b.Bytes(),
					AggregatorAddr:    addr,
					L1InfoTreeData:    map[uint32]session.L1Data{},
				},
				NewStateRoot:     root.Bytes(),
				NewAccInputHash:  newAcc.Bytes(),
				NewLocalExitRoot: newLER.Bytes(),
				NewBatchNum:      b.NewBatchNum(),
			},
		}
	default:
		return nil
	}
}

func requestName(req session.Request) string {
	switch req.(type) {
	case session.GetStatusRequest:
		return "GetStatusRequest"
	case session.GenBatchProofRequest:
		return "GenBatchProofRequest"
	case session.GenAggregatedProofRequest:
		return "GenAggregatedProofRequest"
	case session.GenFinalProofRequest:
		return "GenFinalProofRequest"
	case session.GetProofRequest:
		return "GetProofRequest"
	default:
		return "UnrecognizedRequest"
	}
}

func responseName(resp session.Response) string {
	switch resp.(type) {
	case session.GetStatusResponse:
		return "GetStatusResponse"
	case session.GenBatchProofResponse:
		return "GenBatchProofResponse"
	case session.GenAggregatedProofResponse:
		return "GenAggregatedProofResponse"
	case session.GenFinalProofResponse:
		return "GenFinalProofResponse"
	case session.GetProofResponse:
		return "GetProofResponse"
	default:
		return "unknown"
	}
}
