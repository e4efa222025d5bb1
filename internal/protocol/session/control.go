package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	controlTypeRegister    = "prover.register"
	controlTypeRegisterAck = "prover.register.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	maxControlLine = 128 * 1024
)

var (
	ErrInvalidRegistration    = errors.New("session: invalid registration")
	ErrInvalidRegistrationAck = errors.New("session: invalid registration ack")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Registration is the prover->aggregator session-start payload.
type Registration struct {
	ProverName    string `json:"prover_name"`
	ProverID      string `json:"prover_id"`
	VersionProto  string `json:"version_proto"`
	VersionServer string `json:"version_server"`
	ForkID        uint64 `json:"fork_id"`
}

func (r Registration) Validate() error {
	if strings.TrimSpace(r.ProverName) == "" {
		return fmt.Errorf("%w: missing prover_name", ErrInvalidRegistration)
	}
	if strings.TrimSpace(r.ProverID) == "" {
		return fmt.Errorf("%w: missing prover_id", ErrInvalidRegistration)
	}
	if strings.TrimSpace(r.VersionProto) == "" {
		return fmt.Errorf("%w: missing version_proto", ErrInvalidRegistration)
	}
	return nil
}

// RegistrationAck is the aggregator->prover registration response.
type RegistrationAck struct {
	Status      string `json:"status"`
	Code        uint32 `json:"code"`
	Message     string `json:"message"`
	ProverID    string `json:"prover_id"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a RegistrationAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidRegistrationAck, a.Status)
	}
	if strings.TrimSpace(a.ProverID) == "" {
		return fmt.Errorf("%w: missing prover_id", ErrInvalidRegistrationAck)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidRegistrationAck)
	}
	return nil
}

func (a RegistrationAck) Accepted() bool {
	return strings.TrimSpace(a.Status) == AckStatusAccepted
}

type controlEnvelope struct {
	Type string           `json:"type"`
	Reg  *Registration    `json:"registration,omitempty"`
	Ack  *RegistrationAck `json:"registration_ack,omitempty"`
}

func WriteRegistration(w io.Writer, reg Registration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeRegister, Reg: &reg})
}

func ReadRegistration(r *bufio.Reader) (Registration, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Registration{}, err
	}
	if env.Type != controlTypeRegister || env.Reg == nil {
		return Registration{}, fmt.Errorf("%w: unexpected control type %q", ErrInvalidRegistration, env.Type)
	}
	if err := env.Reg.Validate(); err != nil {
		return Registration{}, err
	}
	return *env.Reg, nil
}

func WriteRegistrationAck(w io.Writer, ack RegistrationAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeRegisterAck, Ack: &ack})
}

func ReadRegistrationAck(r *bufio.Reader) (RegistrationAck, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return RegistrationAck{}, err
	}
	if env.Type != controlTypeRegisterAck || env.Ack == nil {
		return RegistrationAck{}, fmt.Errorf("%w: unexpected control type %q", ErrInvalidRegistrationAck, env.Type)
	}
	if err := env.Ack.Validate(); err != nil {
		return RegistrationAck{}, err
	}
	return *env.Ack, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = w.Write(append(payload, '\n'))
	return err
}

// readControlEnvelope reads one newline-terminated JSON object. The reader
// must be the one later used for frames so buffered bytes are not lost.
func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return controlEnvelope{}, err
		}
		line = append(line, chunk...)
		if len(line) > maxControlLine {
			return controlEnvelope{}, ErrControlMessageTooLarge
		}
		if !isPrefix {
			break
		}
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, fmt.Errorf("session: decode control message: %w", err)
	}
	return env, nil
}
