package killswitch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// FlagState is the tri-state answer from the flag store. An unreadable store
// reports Unknown, never Inactive, so callers can distinguish "stop is off"
// from "we cannot tell".
type FlagState int

const (
	FlagInactive FlagState = iota
	FlagActive
	FlagUnknown
)

func (s FlagState) String() string {
	switch s {
	case FlagInactive:
		return "inactive"
	case FlagActive:
		return "active"
	case FlagUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Flag is the persisted emergency-stop record.
type Flag struct {
	Active        bool      `json:"active"`
	Reason        string    `json:"reason"`
	ActivatedAt   time.Time `json:"activated_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// FlagStore keeps the emergency flag in a small JSON file guarded by a
// sibling flock lock. It deliberately avoids the relational datastore so the
// fast path keeps working when sqlite is degraded.
type FlagStore struct {
	path     string
	lock     *flock.Flock
	ttl      time.Duration
	cooldown time.Duration
	now      func() time.Time
}

// FlagStoreOption customizes a FlagStore.
type FlagStoreOption func(*FlagStore)

// WithFlagClock overrides the time source (useful for tests).
func WithFlagClock(now func() time.Time) FlagStoreOption {
	return func(s *FlagStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFlagStore creates a flag store backed by the given file path.
func NewFlagStore(path string, ttl, cooldown time.Duration, opts ...FlagStoreOption) (*FlagStore, error) {
	if path == "" {
		return nil, errors.New("killswitch: flag path required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if cooldown < 0 {
		cooldown = 0
	}
	store := &FlagStore{
		path:     path,
		lock:     flock.New(path + ".lock"),
		ttl:      ttl,
		cooldown: cooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("killswitch: create flag dir: %w", err)
	}
	return store, nil
}

// Path returns the flag file location.
func (s *FlagStore) Path() string {
	return s.path
}

// Set activates the flag with the store's TTL.
func (s *FlagStore) Set(reason string) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("killswitch: acquire flag lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	now := s.now()
	flag := Flag{
		Active:      true,
		Reason:      reason,
		ActivatedAt: now,
		ExpiresAt:   now.Add(s.ttl),
	}
	return s.writeLocked(flag)
}

// Clear deactivates the flag and starts the cooldown window.
func (s *FlagStore) Clear() error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("killswitch: acquire flag lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	flag, err := s.readLocked()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	now := s.now()
	flag.Active = false
	flag.ExpiresAt = time.Time{}
	if s.cooldown > 0 {
		flag.CooldownUntil = now.Add(s.cooldown)
	}
	return s.writeLocked(flag)
}

// State reads the current flag, applying TTL expiry. Read failures other
// than a missing file yield FlagUnknown.
func (s *FlagStore) State() (FlagState, Flag, error) {
	if err := s.lock.Lock(); err != nil {
		return FlagUnknown, Flag{}, fmt.Errorf("killswitch: acquire flag lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	flag, err := s.readLocked()
	if errors.Is(err, os.ErrNotExist) {
		return FlagInactive, Flag{}, nil
	}
	if err != nil {
		return FlagUnknown, Flag{}, err
	}
	if flag.Active && !flag.ExpiresAt.IsZero() && !s.now().Before(flag.ExpiresAt) {
		flag.Active = false
	}
	if flag.Active {
		return FlagActive, flag, nil
	}
	return FlagInactive, flag, nil
}

// InCooldown reports whether a cleared flag is still inside its cooldown
// window.
func (s *FlagStore) InCooldown() (bool, time.Time, error) {
	state, flag, err := s.State()
	if err != nil || state == FlagActive {
		return false, time.Time{}, err
	}
	if !flag.CooldownUntil.IsZero() && s.now().Before(flag.CooldownUntil) {
		return true, flag.CooldownUntil, nil
	}
	return false, time.Time{}, nil
}

func (s *FlagStore) readLocked() (Flag, error) {
	var flag Flag
	data, err := os.ReadFile(s.path)
	if err != nil {
		return flag, err
	}
	if len(data) == 0 {
		return flag, nil
	}
	if err := json.Unmarshal(data, &flag); err != nil {
		return Flag{}, fmt.Errorf("killswitch: decode flag file: %w", err)
	}
	return flag, nil
}

func (s *FlagStore) writeLocked(flag Flag) error {
	data, err := json.MarshalIndent(flag, "", "  ")
	if err != nil {
		return fmt.Errorf("killswitch: encode flag: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("killswitch: write flag file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("killswitch: replace flag file: %w", err)
	}
	return nil
}
