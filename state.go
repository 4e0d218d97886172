package dnspodd

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
)

// DefaultStateFile is where the last committed address is kept when no
// path was configured.
const DefaultStateFile = "current_ip.txt"

// A StateStore persists the last address that was successfully
// committed to the provider, so drift detection survives restarts.
type StateStore interface {
	// Load returns the stored address. A store with nothing recorded
	// yet returns the zero Addr and a nil error.
	Load() (netip.Addr, error)
	Save(netip.Addr) error
}

// FileState keeps the address as a single line of text in the file at
// path. A missing file means no address has been committed yet.
func FileState(path string) StateStore {
	return fileState(path)
}

type fileState string

// Load implements StateStore. An unparseable file is reported as an
// error so the caller can decide between starting unknown and
// aborting; this package starts unknown.
func (f fileState) Load() (netip.Addr, error) {
	b, err := os.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return netip.Addr{}, nil
	}
	if err != nil {
		return netip.Addr{}, fmt.Errorf("reading state file: %w", err)
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(string(b)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("state file %s is corrupt: %w", string(f), err)
	}
	return addr.Unmap(), nil
}

// Save implements StateStore.
func (f fileState) Save(addr netip.Addr) error {
	if err := os.WriteFile(string(f), []byte(addr.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}
