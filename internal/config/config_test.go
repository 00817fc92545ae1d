package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"hdlkit/internal/ir"
)

func TestDefaults(t *testing.T) {
	for _, data := range []string{"", "# nothing set\n"} {
		cfg, err := LoadBytes([]byte(data))
		require.NoError(t, err)
		if diff := cmp.Diff(Default(), cfg); diff != "" {
			t.Fatalf("unexpected defaults (-want +got):\n%s", diff)
		}
	}
	cfg := Default()
	mode, err := cfg.ConflictMode()
	require.NoError(t, err)
	require.Equal(t, ir.ConflictWarn, mode)
	require.True(t, cfg.SyncEnabled())
	require.True(t, cfg.CheckEnabled())
	require.Equal(t, "text", cfg.DiagFormat)
}

func TestLoadBytes(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
conflicts: error
ensure_sync: false
diag_format: json
ports: [count, ovf]
check: false
`))
	require.NoError(t, err)
	mode, err := cfg.ConflictMode()
	require.NoError(t, err)
	require.Equal(t, ir.ConflictError, mode)
	require.False(t, cfg.SyncEnabled())
	require.False(t, cfg.CheckEnabled())
	require.Equal(t, "json", cfg.DiagFormat)
	if diff := cmp.Diff([]string{"count", "ovf"}, cfg.Ports); diff != "" {
		t.Fatalf("unexpected ports (-want +got):\n%s", diff)
	}
}

func TestLoadBytesRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "conflict mode", data: "conflicts: loud\n", want: "invalid configuration"},
		{name: "diag format", data: "diag_format: xml\n", want: "invalid configuration"},
		{name: "port name", data: "ports: ['9bad']\n", want: "invalid configuration"},
		{name: "unknown field", data: "verbose: true\n", want: "field verbose not found"},
		{name: "wrong type", data: "check: maybe\n", want: "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBytes([]byte(tt.data))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hdlc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conflicts: silent\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "silent", cfg.Conflicts)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "config: read")
}
