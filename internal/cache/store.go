package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wisbric/tellerdesk/internal/telemetry"
)

// waitTimeout bounds the in-flight wait a reader performs when a populate is
// already running for its customer. Get waits on the populate's done channel
// rather than polling, so waitPollInterval is not used by it.
const (
	waitPollInterval = 500 * time.Millisecond
	waitTimeout      = 25 * time.Second
)

// PopulateFunc runs the Cache Populator (C3) for one customer, given the
// principal's email (needed to call the accounts service). Injected so the
// store has no compile-time dependency on the data-service clients.
type PopulateFunc func(ctx context.Context, customerID, email string) (Bundle, error)

// Store is the Cache Store (C2): a per-process, file-backed bundle cache
// with in-flight populate coalescing.
type Store struct {
	root     string
	logger   *slog.Logger
	populate PopulateFunc

	// inFlight is the process-wide mutual-exclusion marker set: membership-check and insertion happen under the same mutex
	// region so they are atomic with respect to each other.
	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

// NewStore creates a Store rooted at dir. Call Sweep once at startup to
// clear stale files before serving requests.
func NewStore(dir string, logger *slog.Logger, populate PopulateFunc) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root %s: %w", dir, err)
	}
	return &Store{
		root:     dir,
		logger:   logger,
		populate: populate,
		inFlight: make(map[string]chan struct{}),
	}, nil
}

func (s *Store) path(customerID string) string {
	return filepath.Join(s.root, customerID+".json")
}

// Sweep removes cache files older than one hour. Run once
// at startup, before the HTTP server starts accepting connections.
func (s *Store) Sweep() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("reading cache root %s: %w", s.root, err)
	}

	cutoff := time.Now().Add(-1 * time.Hour)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			full := filepath.Join(s.root, e.Name())
			if err := os.Remove(full); err != nil {
				s.logger.Warn("cache sweep: failed to remove stale file", "file", full, "error", err)
			}
		}
	}
	return nil
}

// Get returns a valid bundle for customerID, or (Bundle{}, false) if none
// exists or it has expired. If a populate is in flight, Get blocks until that
// populate finishes, up to waitTimeout, and then reads the stored bundle.
func (s *Store) Get(ctx context.Context, customerID string) (Bundle, bool) {
	if done, inFlight := s.waitChan(customerID); inFlight {
		select {
		case <-done:
		case <-time.After(waitTimeout):
			telemetry.CacheEventsTotal.WithLabelValues("miss").Inc()
			return Bundle{}, false
		case <-ctx.Done():
			return Bundle{}, false
		}
	}

	b, ok := s.read(customerID)
	if !ok {
		telemetry.CacheEventsTotal.WithLabelValues("miss").Inc()
		return Bundle{}, false
	}
	if !b.Valid(time.Now()) {
		telemetry.CacheEventsTotal.WithLabelValues("miss").Inc()
		return Bundle{}, false
	}
	telemetry.CacheEventsTotal.WithLabelValues("hit").Inc()
	return b, true
}

func (s *Store) waitChan(customerID string) (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.inFlight[customerID]
	return ch, ok
}

// read loads the bundle file from disk without regard to expiry.
func (s *Store) read(customerID string) (Bundle, bool) {
	raw, err := os.ReadFile(s.path(customerID))
	if err != nil {
		return Bundle{}, false
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		s.logger.Warn("cache store: corrupt bundle file, treating as absent", "customer_id", customerID, "error", err)
		return Bundle{}, false
	}
	return b, true
}

// Invalidate deletes any stored bundle for customerID. It does not remove an
// in-flight populate marker; a populate that is already running still writes
// its bundle when it finishes.
func (s *Store) Invalidate(customerID string) {
	_ = os.Remove(s.path(customerID))
	telemetry.CacheEventsTotal.WithLabelValues("invalidate").Inc()
}

// EnsurePopulated is an idempotent, non-blocking trigger: it guarantees
// either a valid bundle already exists, exactly one populate is in flight,
// or one has just been scheduled.
func (s *Store) EnsurePopulated(ctx context.Context, customerID, email string) {
	s.Initialize(ctx, customerID, email)
}

// InitializeStatus reports which of the three `POST /cache/initialize`
// outcomes occurred.
type InitializeStatus string

const (
	StatusValid    InitializeStatus = "valid"
	StatusInFlight InitializeStatus = "in_flight"
	StatusOK       InitializeStatus = "ok"
)

// Initialize is EnsurePopulated's tri-state form, used directly by the
// explicit warmup endpoint so it can report what happened.
func (s *Store) Initialize(ctx context.Context, customerID, email string) InitializeStatus {
	if b, ok := s.read(customerID); ok && b.Valid(time.Now()) {
		return StatusValid
	}

	done, started := s.startPopulate(customerID)
	if !started {
		return StatusInFlight
	}

	go s.runPopulate(ctx, customerID, email, done)
	return StatusOK
}

// startPopulate atomically checks for and inserts an in-flight marker,
// preserving the invariant that at most one populate runs per customer at a
// time.
func (s *Store) startPopulate(customerID string) (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inFlight[customerID]; ok {
		return nil, false
	}
	done := make(chan struct{})
	s.inFlight[customerID] = done
	return done, true
}

func (s *Store) finishPopulate(customerID string, done chan struct{}) {
	s.mu.Lock()
	delete(s.inFlight, customerID)
	s.mu.Unlock()
	close(done)
}

func (s *Store) runPopulate(ctx context.Context, customerID, email string, done chan struct{}) {
	defer s.finishPopulate(customerID, done)

	// Client disconnects never cancel an in-flight populate: run
	// against a detached context with its own deadline.
	popCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	bundle, err := s.populate(popCtx, customerID, email)
	if err != nil {
		s.logger.Warn("cache populate failed", "customer_id", customerID, "error", err)
		telemetry.CacheEventsTotal.WithLabelValues("populate_fail").Inc()
		return
	}

	if err := s.write(customerID, bundle); err != nil {
		s.logger.Error("cache populate: writing bundle failed", "customer_id", customerID, "error", err)
		telemetry.CacheEventsTotal.WithLabelValues("populate_fail").Inc()
		return
	}
	telemetry.CacheEventsTotal.WithLabelValues("populate_ok").Inc()
}

// write persists bundle atomically: write to a sibling temp file, then
// rename. No partially-populated bundle is ever visible to
// readers (invariant I1).
func (s *Store) write(customerID string, bundle Bundle) error {
	final := s.path(customerID)
	tmp := final + ".tmp"

	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshaling bundle: %w", err)
	}

	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing temp bundle file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("renaming bundle file: %w", err)
	}
	return nil
}
