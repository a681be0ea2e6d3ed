package memory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/submission"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownField is returned for fields that have no known-list.
var ErrUnknownField = errors.New("field has no remembered values")

// Store is the single serialization point for field-memory mutations. Every
// mutation is a locked read-modify-write of the whole file.
type Store struct {
	path     string
	log      *zap.Logger
	defaults Defaults

	mu sync.Mutex
}

// Open resolves dir (expanding "~"), creates it if needed and returns a store
// backed by dir/file.
func Open(dir, file string, defaults Defaults, logger *zap.Logger) (*Store, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to expand store dir %q: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	return New(filepath.Join(expanded, file), defaults, logger), nil
}

// New returns a store for the file at path.
func New(path string, defaults Defaults, logger *zap.Logger) *Store {
	if defaults.Now == nil {
		defaults.Now = time.Now
	}
	return &Store{
		path:     path,
		log:      logger.Named("memory"),
		defaults: defaults,
	}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load returns a copy of the current record, with defaults for missing keys.
func (s *Store) Load() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load reads the file. Unreadable or corrupt files fall back to the default
// record; the next save overwrites them.
func (s *Store) load() *Record {
	rec := &Record{}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		s.log.Warn("Field memory unreadable, using defaults.", zap.String("path", s.path), zap.Error(err))
	default:
		if err := json.Unmarshal(data, rec); err != nil {
			s.log.Warn("Field memory corrupt, using defaults.", zap.String("path", s.path), zap.Error(err))
			rec = &Record{}
		}
	}
	s.defaults.fill(rec)
	return rec
}

// Save replaces the persisted record.
func (s *Store) Save(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(rec)
}

// save writes to a temp file in the same directory and renames it over the
// target so readers never observe a torn record.
func (s *Store) save(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode field memory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".saved_fields-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write field memory: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync field memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close field memory: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace field memory: %w", err)
	}
	return nil
}

// Update runs fn against the current record and persists the result. If fn
// returns an error nothing is written.
func (s *Store) Update(fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.load()
	if err := fn(rec); err != nil {
		return nil, err
	}
	if err := s.save(rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Remember appends value to the field's known-list if it is not there yet.
func (s *Store) Remember(field submission.Field, value string) error {
	_, err := s.Update(func(r *Record) error {
		list, ok := r.list(field)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		*list = appendUnique(*list, value)
		return nil
	})
	return err
}

// Forget removes value from the field's known-list. Forgetting an intervention
// also drops its CS and count in the same write.
func (s *Store) Forget(field submission.Field, value string) error {
	_, err := s.Update(func(r *Record) error {
		list, ok := r.list(field)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		*list = slices.DeleteFunc(*list, func(v string) bool { return v == value })
		if field == submission.FieldIntervention {
			delete(r.InterventionCS, value)
			delete(r.InterventionCounts, value)
		}
		return nil
	})
	return err
}

// RecordSubmission merges one successful submission into the record.
func (s *Store) RecordSubmission(p submission.Payload) (*Record, error) {
	return s.Update(func(r *Record) error {
		r.applySubmission(p)
		return nil
	})
}

// SetLicense stores a validated license.
func (s *Store) SetLicense(key string, expiry time.Time) error {
	_, err := s.Update(func(r *Record) error {
		r.LicenseKey = key
		r.LicenseExpiry = expiry.Format(time.RFC3339Nano)
		return nil
	})
	return err
}
