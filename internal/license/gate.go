// Package license implements the time-bounded license gate that guards every
// send and batch.
package license

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/memory"
)

var (
	// ErrInvalidLicense is returned for keys missing from the key table.
	ErrInvalidLicense = errors.New("invalid license key")
	// ErrUnauthorized is returned when no license is valid at call time.
	ErrUnauthorized = errors.New("license missing or expired")
)

// DefaultKeys is the built-in key table: key to validity in days.
var DefaultKeys = map[string]int{
	"THEMITO":   30,
	"THEMITO10": 90,
}

// Status is the license state as shown to the operator.
type Status struct {
	Key        string    `json:"key"`
	Expiry     time.Time `json:"expiry"`
	Authorized bool      `json:"authorized"`
}

// Gate validates keys and answers authorization checks against the license
// stored in field memory.
type Gate struct {
	store  *memory.Store
	keys   map[string]int
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a gate over store. Table keys are matched case-insensitively;
// a nil table means DefaultKeys.
func NewGate(store *memory.Store, keys map[string]int, logger *zap.Logger, opts ...Option) *Gate {
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	normalized := make(map[string]int, len(keys))
	for k, days := range keys {
		normalized[normalize(k)] = days
	}
	g := &Gate{
		store:  store,
		keys:   normalized,
		now:    time.Now,
		logger: logger.Named("license"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Validate looks up rawKey and, on a hit, stores key and expiry. A miss leaves
// the stored license untouched.
func (g *Gate) Validate(rawKey string) (time.Time, error) {
	key := normalize(rawKey)
	days, ok := g.keys[key]
	if !ok || key == "" {
		g.logger.Info("Rejected license key.")
		return time.Time{}, ErrInvalidLicense
	}

	expiry := g.now().Add(time.Duration(days) * 24 * time.Hour)
	if err := g.store.SetLicense(key, expiry); err != nil {
		return time.Time{}, fmt.Errorf("failed to store license: %w", err)
	}
	g.logger.Info("License activated.", zap.String("key", key), zap.Time("expiry", expiry))
	return expiry, nil
}

// IsAuthorized reports whether the stored license is valid now. A missing or
// unparsable expiry is never authorized.
func (g *Gate) IsAuthorized() bool {
	return g.Status().Authorized
}

// Authorize returns ErrUnauthorized unless IsAuthorized.
func (g *Gate) Authorize() error {
	if !g.IsAuthorized() {
		return ErrUnauthorized
	}
	return nil
}

// Status reads the stored license without modifying it.
func (g *Gate) Status() Status {
	rec := g.store.Load()
	st := Status{Key: rec.LicenseKey}
	if rec.LicenseExpiry == "" {
		return st
	}
	expiry, err := time.Parse(time.RFC3339Nano, rec.LicenseExpiry)
	if err != nil {
		g.logger.Warn("Stored license expiry is unparsable.", zap.String("expiry", rec.LicenseExpiry))
		return st
	}
	st.Expiry = expiry
	st.Authorized = !g.now().After(expiry)
	return st
}
