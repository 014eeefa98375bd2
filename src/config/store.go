package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings is the user-facing configuration, mutated at runtime and persisted
// on every change.
type Settings struct {
	TranslateHotkey string `json:"translateHotkey"`
	OCRHotkey       string `json:"ocrHotkey"`

	ClipboardMode   ClipboardMode   `json:"clipboardMode"`
	RoutingStrategy RoutingStrategy `json:"routingStrategy"`

	DefaultLanguage     string `json:"defaultLanguage"`
	SecondaryLanguage   string `json:"secondaryLanguage"`
	FixedTargetLanguage string `json:"fixedTargetLanguage,omitempty"`
	LastUsedTarget      string `json:"lastUsedTarget,omitempty"`
	ExplanationLanguage string `json:"explanationLanguage,omitempty"`
	TranslationMode     string `json:"translationMode,omitempty"`

	PopupFocusOnOpen bool `json:"popupFocusOnOpen"`

	OCRLanguage   string `json:"ocrLanguage,omitempty"`
	OCREnginePath string `json:"ocrEnginePath,omitempty"`
}

// DefaultSettings returns the settings used on first run.
func DefaultSettings() Settings {
	return Settings{
		TranslateHotkey:   DefaultTranslateHotkey,
		OCRHotkey:         DefaultOCRHotkey,
		ClipboardMode:     ClipboardDisplayAndCopy,
		RoutingStrategy:   StrategyDefaultBased,
		DefaultLanguage:   "Japanese",
		SecondaryLanguage: "English (US)",
		TranslationMode:   "standard",
		OCRLanguage:       "jpn+eng",
	}
}

// Store owns the settings file. All mutation goes through Update so the file
// on disk never lags the in-memory state.
type Store struct {
	mu       sync.Mutex
	path     string
	settings Settings
}

// OpenStore loads settings from path, falling back to defaults when the file
// does not exist yet. An empty path resolves to the per-user config dir.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve settings dir: %w", err)
		}
		path = filepath.Join(dir, "erudaite", "settings.json")
	}

	s := &Store{path: path, settings: DefaultSettings()}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.normalize()
	return s, nil
}

func (s *Store) normalize() {
	s.settings.ClipboardMode = ParseClipboardMode(string(s.settings.ClipboardMode))
	s.settings.RoutingStrategy = ParseRoutingStrategy(string(s.settings.RoutingStrategy))
	if s.settings.TranslateHotkey == "" {
		s.settings.TranslateHotkey = DefaultTranslateHotkey
	}
	if s.settings.OCRHotkey == "" {
		s.settings.OCRHotkey = DefaultOCRHotkey
	}
	if s.settings.DefaultLanguage == "" {
		s.settings.DefaultLanguage = DefaultSettings().DefaultLanguage
	}
	if s.settings.SecondaryLanguage == "" {
		s.settings.SecondaryLanguage = DefaultSettings().SecondaryLanguage
	}
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Update applies fn to the settings and persists the result atomically
// (temp file + rename).
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
