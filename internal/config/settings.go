package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultBackendURL is where the backend listens unless configured otherwise.
const DefaultBackendURL = "http://localhost:8000"

// Settings are the user-editable options persisted in YAML.
type Settings struct {
	AutoInject bool   `yaml:"auto_inject" json:"auto_inject"`
	BackendURL string `yaml:"backend_url" json:"backend_url"`
}

// SettingsPatch changes the fields that are set.
type SettingsPatch struct {
	AutoInject *bool
	BackendURL *string
}

// SettingsStore holds the current settings and writes every change back to
// its file.
type SettingsStore struct {
	path string

	mu  sync.RWMutex
	cur Settings
}

// LoadSettings reads the settings file. A missing file yields defaults with
// the given backend URL; it is created on the first Update.
func LoadSettings(path, backendURL string) (*SettingsStore, error) {
	if backendURL == "" {
		backendURL = DefaultBackendURL
	}
	s := &SettingsStore{
		path: path,
		cur:  Settings{AutoInject: true, BackendURL: backendURL},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("settings file not found, using defaults", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	// Fields absent from the file keep their defaults.
	loaded := s.cur
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	loaded.BackendURL = strings.TrimRight(strings.TrimSpace(loaded.BackendURL), "/")
	if err := validateBackendURL(loaded.BackendURL); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	s.cur = loaded
	return s, nil
}

func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *SettingsStore) AutoInject() bool {
	return s.Get().AutoInject
}

func (s *SettingsStore) BackendURL() string {
	return s.Get().BackendURL
}

// Update applies patch, persists the result and returns it. Nothing changes
// when validation or the write fails.
func (s *SettingsStore) Update(patch SettingsPatch) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	if patch.AutoInject != nil {
		next.AutoInject = *patch.AutoInject
	}
	if patch.BackendURL != nil {
		next.BackendURL = strings.TrimRight(strings.TrimSpace(*patch.BackendURL), "/")
		if err := validateBackendURL(next.BackendURL); err != nil {
			return s.cur, err
		}
	}
	if err := s.save(next); err != nil {
		return s.cur, err
	}
	s.cur = next
	slog.Info("settings updated", "auto_inject", next.AutoInject, "backend_url", next.BackendURL)
	return next, nil
}

func (s *SettingsStore) save(v Settings) error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

// ErrInvalidBackendURL reports a backend URL that is not absolute http(s).
var ErrInvalidBackendURL = errors.New("backend_url must be an absolute http or https URL")

func validateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBackendURL, raw)
	}
	return nil
}
