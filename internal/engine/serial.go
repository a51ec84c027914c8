package engine

import (
	"fmt"
	"os"
	"path/filepath"
)

// OpenSSL CA database files.
const (
	IndexFile  = "index.txt"
	SerialFile = "serial"

	initialSerial = "01\n"
	stateFileMode = 0o644
)

// ResetSerialIndex clears the `openssl ca` bookkeeping in stateDir: the
// index and serial files are removed when present and recreated as an empty
// index and serial 01. Re-issuing from a fresh CA would otherwise fail on
// stale subjects.
func ResetSerialIndex(stateDir string) error {
	index := filepath.Join(stateDir, IndexFile)
	serial := filepath.Join(stateDir, SerialFile)

	for _, path := range []string{index, serial} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	if err := os.WriteFile(index, nil, stateFileMode); err != nil {
		return fmt.Errorf("failed to create %s: %w", index, err)
	}
	if err := os.WriteFile(serial, []byte(initialSerial), stateFileMode); err != nil {
		return fmt.Errorf("failed to create %s: %w", serial, err)
	}
	return nil
}
