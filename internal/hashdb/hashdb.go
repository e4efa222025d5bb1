// Package hashdb is the mock state-tree key/value service. Set answers with a
// fixed empty-tree result and StartBlock always succeeds; every other method
// faults as unimplemented.
package hashdb

import (
	"context"

	"github.com/danmuck/proverctl/internal/rpcserve"
	"github.com/rs/zerolog/log"
)

const ServiceName = "hashdb.v1.HashDBService"

// Fea is a field-element array of four 64-bit limbs.
type Fea struct {
	Fe0 uint64 `json:"fe0"`
	Fe1 uint64 `json:"fe1"`
	Fe2 uint64 `json:"fe2"`
	Fe3 uint64 `json:"fe3"`
}

type SiblingList struct {
	Sibling []uint64 `json:"sibling"`
}

type FeList struct {
	Fe []uint64 `json:"fe"`
}

type ResultCode struct {
	Code uint32 `json:"code"`
}

type SetRequest struct {
	OldRoot      *Fea   `json:"old_root,omitempty"`
	Key          *Fea   `json:"key,omitempty"`
	Value        string `json:"value"`
	Persistence  string `json:"persistence"`
	Details      bool   `json:"details"`
	GetDBReadLog bool   `json:"get_db_read_log"`
	BatchUUID    string `json:"batch_uuid"`
	Tx           uint64 `json:"tx"`
}

type SetResponse struct {
	OldRoot           *Fea                   `json:"old_root"`
	NewRoot           *Fea                   `json:"new_root"`
	Key               *Fea                   `json:"key"`
	Siblings          map[uint64]SiblingList `json:"siblings"`
	InsKey            *Fea                   `json:"ins_key"`
	InsValue          string                 `json:"ins_value"`
	IsOld0            bool                   `json:"is_old0"`
	OldValue          string                 `json:"old_value"`
	NewValue          string                 `json:"new_value"`
	Mode              string                 `json:"mode"`
	ProofHashCounter  uint64                 `json:"proof_hash_counter"`
	DBReadLog         map[string]FeList      `json:"db_read_log"`
	Result            *ResultCode            `json:"result"`
	SiblingLeftChild  *Fea                   `json:"sibling_left_child"`
	SiblingRightChild *Fea                   `json:"sibling_right_child"`
}

type StartBlockRequest struct {
	BatchUUID    string `json:"batch_uuid"`
	OldStateRoot *Fea   `json:"old_state_root,omitempty"`
	BlockNumber  uint64 `json:"block_number"`
	Persistence  string `json:"persistence"`
}

// Empty is the body of methods without a result.
type Empty struct{}

var unimplemented = []string{
	"GetLatestStateRoot",
	"Get",
	"SetProgram",
	"GetProgram",
	"LoadDB",
	"LoadProgramDB",
	"FinishTx",
	"FinishBlock",
	"Flush",
	"GetFlushStatus",
	"GetFlushData",
	"ConsolidateState",
	"Purge",
	"ReadTree",
	"CancelBatch",
	"ResetDB",
}

type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Name() string { return ServiceName }

func (s *Service) Methods() map[string]rpcserve.Method {
	m := map[string]rpcserve.Method{
		"Set":        rpcserve.Unary(s.Set),
		"StartBlock": rpcserve.Unary(s.StartBlock),
	}
	for _, name := range unimplemented {
		m[name] = rpcserve.Unimplemented(ServiceName, name)
	}
	return m
}

// Set ignores the request and returns a zero new root.
func (s *Service) Set(_ context.Context, req *SetRequest) (*SetResponse, error) {
	log.Debug().Msgf("hashdb.Service.Set batch_uuid=%q tx=%d", req.BatchUUID, req.Tx)
	return &SetResponse{
		NewRoot:   &Fea{},
		Siblings:  map[uint64]SiblingList{},
		DBReadLog: map[string]FeList{},
	}, nil
}

func (s *Service) StartBlock(_ context.Context, req *StartBlockRequest) (*Empty, error) {
	log.Debug().Msgf("hashdb.Service.StartBlock batch_uuid=%q block=%d", req.BatchUUID, req.BlockNumber)
	return &Empty{}, nil
}
