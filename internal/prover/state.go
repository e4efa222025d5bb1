package prover

// JobKind is the kind of proof job a session is waiting on.
type JobKind uint8

const (
	JobNone JobKind = iota
	JobBatchProof
	JobAggregatedProof
	JobFinalProof
)

func (k JobKind) String() string {
	switch k {
	case JobBatchProof:
		return "batch_proof"
	case JobAggregatedProof:
		return "aggregated_proof"
	case JobFinalProof:
		return "final_proof"
	default:
		return "none"
	}
}

// State is the per-session job tracker. The id is non-empty exactly when a
// kind other than JobNone is pending.
type State struct {
	kind JobKind
	id   string
}

// Pending returns the pending job kind and id.
func (s *State) Pending() (JobKind, string) {
	return s.kind, s.id
}

// begin replaces any pending job.
func (s *State) begin(kind JobKind, id string) {
	if kind == JobNone || id == "" {
		s.kind, s.id = JobNone, ""
		return
	}
	s.kind, s.id = kind, id
}

// matches reports whether id names the pending job.
func (s *State) matches(id string) bool {
	return s.kind != JobNone && s.id == id
}
