package principal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DirectoryEntry is the per-email record in the customer directory.
type DirectoryEntry struct {
	CustomerID  string `json:"customer_id"`
	DisplayName string `json:"display_name"`
}

// Directory is the read-only, startup-loaded mapping of email to customer_id.
// It is refreshable (Reload) but never mutated by request handling.
type Directory struct {
	path string

	mu      sync.RWMutex
	entries map[string]DirectoryEntry
}

// LoadDirectory reads the customer directory JSON file at path.
func LoadDirectory(path string) (*Directory, error) {
	d := &Directory{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the directory file from disk. Safe to call concurrently
// with Lookup.
func (d *Directory) Reload() error {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("reading customer directory %s: %w", d.path, err)
	}

	var entries map[string]DirectoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parsing customer directory %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
	return nil
}

// Lookup returns the directory entry for email, or false if no customer is
// registered under that email.
func (d *Directory) Lookup(email string) (DirectoryEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[email]
	return e, ok
}
