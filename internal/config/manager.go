package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/dhawalhost/wardgate/internal/audit"
)

// Manager owns the live configuration.
type Manager struct {
	mu       sync.RWMutex
	current  Config
	store    Store
	recorder audit.Recorder
	logger   *zap.Logger
	// updateMu serializes Update so read-modify-write cycles never interleave.
	updateMu sync.Mutex
}

// NewManager loads the configuration from store. recorder may be nil until
// the audit service exists; see SetRecorder.
func NewManager(ctx context.Context, store Store, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		store = &MemoryStore{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{current: cfg, store: store, logger: logger}, nil
}

// SetRecorder attaches the audit recorder used by Update.
func (m *Manager) SetRecorder(r audit.Recorder) {
	m.mu.Lock()
	m.recorder = r
	m.mu.Unlock()
}

// Get returns a copy of the live configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// AuditPolicy returns the live audit section; suitable for audit.Options.Policy.
func (m *Manager) AuditPolicy() audit.Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.AuditPolicy()
}

// Update applies fn to a copy of the configuration, validates and persists
// the result, then swaps it in. Every attempt is audited as config_updated.
func (m *Manager) Update(ctx context.Context, actorID string, fn func(*Config) error) (Config, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	before := m.Get()
	next := before.Clone()
	if err := fn(&next); err != nil {
		m.record(ctx, actorID, nil, err)
		return Config{}, err
	}
	if err := next.Validate(); err != nil {
		m.record(ctx, actorID, nil, err)
		return Config{}, err
	}
	if err := m.store.Save(ctx, next); err != nil {
		err = fmt.Errorf("failed to persist config: %w", err)
		m.record(ctx, actorID, nil, err)
		return Config{}, err
	}

	m.mu.Lock()
	m.current = next.Clone()
	m.mu.Unlock()

	changed := changedSections(before, next)
	m.logger.Info("Configuration updated", zap.String("actor_id", actorID), zap.Strings("sections", changed))
	m.record(ctx, actorID, changed, nil)
	return next, nil
}

func (m *Manager) record(ctx context.Context, actorID string, changed []string, failure error) {
	m.mu.RLock()
	r := m.recorder
	m.mu.RUnlock()
	if r == nil {
		return
	}
	e := audit.Entry{
		UserID:   actorID,
		Action:   audit.ActionConfigUpdated,
		Resource: "config",
		Success:  failure == nil,
	}
	if failure != nil {
		e.FailureReason = failure.Error()
	} else {
		e.Metadata = map[string]any{"sections": changed}
	}
	if _, err := r.Log(context.WithoutCancel(ctx), e); err != nil {
		m.logger.Error("Failed to audit config update", zap.Error(err))
	}
}

// changedSections lists the top-level yaml keys whose values differ.
func changedSections(a, b Config) []string {
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	t := av.Type()
	var out []string
	for i := 0; i < t.NumField(); i++ {
		if !reflect.DeepEqual(av.Field(i).Interface(), bv.Field(i).Interface()) {
			out = append(out, yamlName(t.Field(i)))
		}
	}
	return out
}

func yamlName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i]
		}
	}
	if tag == "" {
		return f.Name
	}
	return tag
}
