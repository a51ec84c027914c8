package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetSerialIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
	}{
		{
			name:  "no previous files",
			setup: func(*testing.T, string) {},
		},
		{
			name: "stale files",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("V\t300101000000Z\t01\tunknown\t/O=Cockroach\n"), 0o644))
				require.NoError(t, os.WriteFile(filepath.Join(dir, SerialFile), []byte("0A\n"), 0o644))
			},
		},
		{
			name: "only serial present",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, SerialFile), []byte("02\n"), 0o644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			tt.setup(t, dir)

			require.NoError(t, ResetSerialIndex(dir))

			index, err := os.ReadFile(filepath.Join(dir, IndexFile))
			require.NoError(t, err)
			assert.Empty(t, index)

			serial, err := os.ReadFile(filepath.Join(dir, SerialFile))
			require.NoError(t, err)
			assert.Equal(t, "01\n", string(serial))
		})
	}
}

func TestResetSerialIndex_MissingDir(t *testing.T) {
	t.Parallel()

	err := ResetSerialIndex(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create")
}
