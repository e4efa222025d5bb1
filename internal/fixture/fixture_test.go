package fixture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/proverctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestDefaultBundle(t *testing.T) {
	testlog.Start(t)
	b, err := Default()
	require.NoError(t, err)
	require.Equal(t, uint64(1), b.OldBatchNum())
	require.Equal(t, uint64(2), b.NewBatchNum())
	require.Equal(t, uint64(1000), b.ChainID())
	require.Equal(t, uint64(9), b.ForkID())
	require.Equal(t, uint64(1_000_000), b.TimestampLimit())
	require.NotEmpty(t, b.Proof())
	require.NotEmpty(t, b.RecursiveProof1())
	require.NotEqual(t, b.RecursiveProof1(), b.RecursiveProof2())
	require.NotEmpty(t, b.Bytes())

	again, err := Default()
	require.NoError(t, err)
	require.Same(t, b, again)
}

func TestBytesReturnsCopy(t *testing.T) {
	testlog.Start(t)
	b, err := Default()
	require.NoError(t, err)
	first := b.Bytes()
	first[0] ^= 0xff
	require.NotEqual(t, first[0], b.Bytes()[0])
	require.Len(t, b.BytesHex(), 2*len(first))
}

func writeBundle(t *testing.T, mutate func(m map[string]any)) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(embedded, &m))
	mutate(m)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadOverride(t *testing.T) {
	testlog.Start(t)
	path := writeBundle(t, func(m map[string]any) { m["proof"] = "0xabcdef" })
	b, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0xabcdef", b.Proof())
}

func TestLoadAcceptsUnprefixedHex(t *testing.T) {
	testlog.Start(t)
	path := writeBundle(t, func(m map[string]any) {
		for _, key := range []string{"bytes", "root", "new_acc_input_hash", "new_local_exit_root"} {
			m[key] = strings.TrimPrefix(m[key].(string), "0x")
		}
	})
	b, err := Load(path)
	require.NoError(t, err)

	def, err := Default()
	require.NoError(t, err)
	require.Equal(t, def.Bytes(), b.Bytes())
	require.Equal(t, def.Root(), b.Root())
	require.Equal(t, def.NewAccInputHash(), b.NewAccInputHash())
	require.Equal(t, def.NewLocalExitRoot(), b.NewLocalExitRoot())
}

func TestLoadFailsFast(t *testing.T) {
	testlog.Start(t)
	cases := map[string]func(m map[string]any){
		"missing field":  func(m map[string]any) { delete(m, "recursive_proof_2") },
		"bad hex":        func(m map[string]any) { m["bytes"] = "0xzz" },
		"odd hex":        func(m map[string]any) { m["bytes"] = "abc" },
		"numeric hex":    func(m map[string]any) { m["root"] = 12 },
		"short root":     func(m map[string]any) { m["root"] = "0x0102" },
		"batch ordering": func(m map[string]any) { m["new_batch_num"] = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeBundle(t, mutate))
			require.ErrorIs(t, err, ErrInvalidBundle)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorIs(t, err, ErrInvalidBundle)

	_, err = Parse([]byte("{not json"))
	require.ErrorIs(t, err, ErrInvalidBundle)
}

func TestLoadOrDefaultBlankPath(t *testing.T) {
	testlog.Start(t)
	b, err := LoadOrDefault("  ")
	require.NoError(t, err)
	def, _ := Default()
	require.Same(t, def, b)
}
