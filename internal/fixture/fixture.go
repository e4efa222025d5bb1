// Package fixture loads the canned proof artifacts the mock prover replays.
//
// A Bundle is parsed once at startup and never mutated; byte accessors return
// copies so callers cannot alias the shared state.
package fixture

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"
)

//go:embed mocked_data.json
var embedded []byte

var ErrInvalidBundle = errors.New("fixture: invalid bundle")

// Bundle is the immutable set of fixture artifacts.
type Bundle struct {
	bytes            []byte
	root             common.Hash
	proof            string
	newAccInputHash  common.Hash
	newLocalExitRoot common.Hash
	recursiveProof1  string
	recursiveProof2  string

	oldBatchNum    uint64
	newBatchNum    uint64
	chainID        uint64
	forkID         uint64
	timestampLimit uint64
}

// bundleJSON uses pointers so a missing key is distinguishable from a zero value.
type bundleJSON struct {
	Bytes            *looseBytes `json:"bytes"`
	Root             *looseHash  `json:"root"`
	Proof            *string     `json:"proof"`
	NewAccInputHash  *looseHash  `json:"new_acc_input_hash"`
	NewLocalExitRoot *looseHash  `json:"new_local_exit_root"`
	RecursiveProof1  *string     `json:"recursive_proof_1"`
	RecursiveProof2  *string     `json:"recursive_proof_2"`
	OldBatchNum      *uint64     `json:"old_batch_num"`
	NewBatchNum      *uint64     `json:"new_batch_num"`
	ChainID          *uint64     `json:"chain_id"`
	ForkID           *uint64     `json:"fork_id"`
	TimestampLimit   *uint64     `json:"timestamp_limit"`
}

// looseBytes and looseHash accept hex with or without the 0x prefix, so
// bundles written for hex::decode style loaders parse unchanged.
type (
	looseBytes hexutil.Bytes
	looseHash  common.Hash
)

func (b *looseBytes) UnmarshalJSON(data []byte) error {
	text, err := prefixedHex(data)
	if err != nil {
		return err
	}
	return (*hexutil.Bytes)(b).UnmarshalText(text)
}

func (h *looseHash) UnmarshalJSON(data []byte) error {
	text, err := prefixedHex(data)
	if err != nil {
		return err
	}
	return (*common.Hash)(h).UnmarshalText(text)
}

func prefixedHex(data []byte) ([]byte, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return []byte(s), nil
}

var defaultBundle = sync.OnceValues(func() (*Bundle, error) {
	return Parse(embedded)
})

// Default returns the bundle compiled into the binary.
func Default() (*Bundle, error) {
	return defaultBundle()
}

// Load parses a bundle from path.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("fixture.Load path=%s root=%s", path, b.root.Hex())
	return b, nil
}

// LoadOrDefault loads path, or the embedded bundle when path is blank.
func LoadOrDefault(path string) (*Bundle, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return Load(path)
}

// Parse decodes and checks a JSON bundle.
func Parse(data []byte) (*Bundle, error) {
	var raw bundleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	missing := func(name string) error {
		return fmt.Errorf("%w: missing %s", ErrInvalidBundle, name)
	}
	switch {
	case raw.Bytes == nil:
		return nil, missing("bytes")
	case raw.Root == nil:
		return nil, missing("root")
	case raw.Proof == nil:
		return nil, missing("proof")
	case raw.NewAccInputHash == nil:
		return nil, missing("new_acc_input_hash")
	case raw.NewLocalExitRoot == nil:
		return nil, missing("new_local_exit_root")
	case raw.RecursiveProof1 == nil:
		return nil, missing("recursive_proof_1")
	case raw.RecursiveProof2 == nil:
		return nil, missing("recursive_proof_2")
	case raw.OldBatchNum == nil:
		return nil, missing("old_batch_num")
	case raw.NewBatchNum == nil:
		return nil, missing("new_batch_num")
	case raw.ChainID == nil:
		return nil, missing("chain_id")
	case raw.ForkID == nil:
		return nil, missing("fork_id")
	case raw.TimestampLimit == nil:
		return nil, missing("timestamp_limit")
	}
	if *raw.NewBatchNum <= *raw.OldBatchNum {
		return nil, fmt.Errorf("%w: new_batch_num %d must exceed old_batch_num %d", ErrInvalidBundle, *raw.NewBatchNum, *raw.OldBatchNum)
	}
	return &Bundle{
		bytes:            common.CopyBytes(*raw.Bytes),
		root:             common.Hash(*raw.Root),
		proof:            *raw.Proof,
		newAccInputHash:  common.Hash(*raw.NewAccInputHash),
		newLocalExitRoot: common.Hash(*raw.NewLocalExitRoot),
		recursiveProof1:  *raw.RecursiveProof1,
		recursiveProof2:  *raw.RecursiveProof2,
		oldBatchNum:      *raw.OldBatchNum,
		newBatchNum:      *raw.NewBatchNum,
		chainID:          *raw.ChainID,
		forkID:           *raw.ForkID,
		timestampLimit:   *raw.TimestampLimit,
	}, nil
}

func (b *Bundle) Bytes() []byte { return common.CopyBytes(b.bytes) }

// BytesHex is the payload hex without a 0x prefix, as used for addresses.
func (b *Bundle) BytesHex() string { return common.Bytes2Hex(b.bytes) }

func (b *Bundle) Root() common.Hash             { return b.root }
func (b *Bundle) Proof() string                 { return b.proof }
func (b *Bundle) NewAccInputHash() common.Hash  { return b.newAccInputHash }
func (b *Bundle) NewLocalExitRoot() common.Hash { return b.newLocalExitRoot }
func (b *Bundle) RecursiveProof1() string       { return b.recursiveProof1 }
func (b *Bundle) RecursiveProof2() string       { return b.recursiveProof2 }
func (b *Bundle) OldBatchNum() uint64           { return b.oldBatchNum }
func (b *Bundle) NewBatchNum() uint64           { return b.newBatchNum }
func (b *Bundle) ChainID() uint64               { return b.chainID }
func (b *Bundle) ForkID() uint64                { return b.forkID }
func (b *Bundle) TimestampLimit() uint64        { return b.timestampLimit }
