// Package settings holds operator preferences and the export/import bundle
// that carries them together with the device history.
package settings

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/srg/rcdrive/internal/store"
)

// MaxCommandDelay bounds the inter-command throttle.
const MaxCommandDelay = 1000

// Settings are the persisted operator preferences. CommandDelay is in
// milliseconds.
type Settings struct {
	DarkMode      bool   `json:"darkMode" yaml:"darkMode" mapstructure:"darkMode" default:"true"`
	ThemeColor    string `json:"themeColor" yaml:"themeColor" mapstructure:"themeColor" default:"cyan"`
	DeviceName    string `json:"deviceName" yaml:"deviceName" mapstructure:"deviceName"`
	AutoReconnect bool   `json:"autoReconnect" yaml:"autoReconnect" mapstructure:"autoReconnect" default:"true"`
	CommandDelay  int    `json:"commandDelay" yaml:"commandDelay" mapstructure:"commandDelay" default:"100"`
	Vibration     bool   `json:"vibrationFeedback" yaml:"vibrationFeedback" mapstructure:"vibrationFeedback" default:"true"`
	SoundEffects  bool   `json:"soundEffects" yaml:"soundEffects" mapstructure:"soundEffects"`
	Sensitivity   string `json:"sensitivity" yaml:"sensitivity" mapstructure:"sensitivity" default:"medium"`
	SaveHistory   bool   `json:"saveHistory" yaml:"saveHistory" mapstructure:"saveHistory" default:"true"`
}

// Defaults returns the factory settings.
func Defaults() Settings {
	var s Settings
	defaults.SetDefaults(&s)
	return s
}

// CommandDelayDuration returns CommandDelay as a duration.
func (s Settings) CommandDelayDuration() time.Duration {
	return time.Duration(s.CommandDelay) * time.Millisecond
}

// Validate rejects values the controller cannot honor.
func (s Settings) Validate() error {
	if s.CommandDelay < 0 || s.CommandDelay > MaxCommandDelay {
		return fmt.Errorf("commandDelay must be between 0 and %d ms, got %d", MaxCommandDelay, s.CommandDelay)
	}
	switch s.Sensitivity {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("sensitivity must be low, medium or high, got %q", s.Sensitivity)
	}
	return nil
}

// Keys lists the setting names accepted by Set, in declaration order.
func Keys() []string {
	t := reflect.TypeOf(Settings{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		keys = append(keys, t.Field(i).Tag.Get("mapstructure"))
	}
	return keys
}

// merge decodes the fields present in values over base. Unknown fields are
// reported as an error so typos do not silently vanish.
func merge(base Settings, values map[string]any) (Settings, error) {
	out := base
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		Metadata:         &md,
	})
	if err != nil {
		return base, err
	}
	if err := dec.Decode(values); err != nil {
		return base, err
	}
	if len(md.Unused) > 0 {
		return base, fmt.Errorf("unknown setting(s): %s", strings.Join(md.Unused, ", "))
	}
	if err := out.Validate(); err != nil {
		return base, err
	}
	return out, nil
}

// Manager owns the current settings and persists them.
type Manager struct {
	mu      sync.RWMutex
	current Settings
	store   store.Store
	logger  *logrus.Logger
}

// NewManager starts from Defaults. s may be nil for an unpersisted manager.
func NewManager(s store.Store, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{current: Defaults(), store: s, logger: logger}
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Load reads stored settings over the defaults. Missing keys keep defaults.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	var stored map[string]any
	if err := m.store.Load(ctx, store.KeySettings, &stored); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load settings: %w", err)
	}

	merged, err := merge(Defaults(), stored)
	if err != nil {
		m.logger.WithError(err).Warn("Stored settings are invalid, using defaults")
		merged = Defaults()
	}

	m.mu.Lock()
	m.current = merged
	m.mu.Unlock()
	return nil
}

// Save persists the current settings.
func (m *Manager) Save(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(ctx, store.KeySettings, m.Get()); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Set assigns one setting from its textual form and persists the result.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	return m.Apply(ctx, map[string]any{key: value})
}

// Apply merges values over the current settings and persists the result.
// Nothing changes when any value is invalid.
func (m *Manager) Apply(ctx context.Context, values map[string]any) error {
	m.mu.Lock()
	merged, err := merge(m.current, values)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.current = merged
	m.mu.Unlock()

	m.logger.WithField("settings", values).Debug("Settings updated")
	return m.Save(ctx)
}

// Reset restores the defaults and persists them.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.current = Defaults()
	m.mu.Unlock()
	return m.Save(ctx)
}
