// Package settings persists the user-editable key-value configuration read at
// every activation.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/dgnsrekt/idlocator/internal/editor"
	"github.com/dgnsrekt/idlocator/internal/locator"
	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure returned by Update.
var ErrInvalid = errors.New("invalid settings")

// Settings mirrors the stored keys. RegexPatterns are exclusion patterns and
// CombineRegex are grouping patterns in priority order.
type Settings struct {
	PreferredEditor string   `yaml:"preferredEditor" json:"preferredEditor"`
	RegexPatterns   []string `yaml:"regexPatterns" json:"regexPatterns"`
	CombineRegex    []string `yaml:"combineRegex" json:"combineRegex"`
	FileTypes       []string `yaml:"fileTypes" json:"fileTypes"`
}

// Defaults returns the values used for keys that are not stored.
func Defaults() Settings {
	return Settings{
		PreferredEditor: editor.DefaultEditor,
		RegexPatterns:   []string{},
		CombineRegex:    []string{},
		FileTypes:       []string{"js", "jsx", "ts", "tsx"},
	}
}

func (s Settings) clone() Settings {
	return Settings{
		PreferredEditor: s.PreferredEditor,
		RegexPatterns:   slices.Clone(s.RegexPatterns),
		CombineRegex:    slices.Clone(s.CombineRegex),
		FileTypes:       slices.Clone(s.FileTypes),
	}
}

// withDefaults fills keys absent from the file.
func (s Settings) withDefaults() Settings {
	d := Defaults()
	if strings.TrimSpace(s.PreferredEditor) == "" {
		s.PreferredEditor = d.PreferredEditor
	}
	if s.RegexPatterns == nil {
		s.RegexPatterns = d.RegexPatterns
	}
	if s.CombineRegex == nil {
		s.CombineRegex = d.CombineRegex
	}
	if s.FileTypes == nil {
		s.FileTypes = d.FileTypes
	}
	return s
}

// Store is a YAML-file backed settings store. Reads are served from memory.
type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
}

// Open loads path. A missing file yields defaults and is created on the first
// Update.
func Open(path string) (*Store, error) {
	s := &Store{path: path, current: Defaults()}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("settings store: read %s: %w", path, err)
	}
	var loaded Settings
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("settings store: parse %s: %w", path, err)
	}
	s.current = loaded.withDefaults()
	return s, nil
}

// Get returns a copy of the stored settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Snapshot returns the activation view of the settings. The result shares no
// memory with the store.
func (s *Store) Snapshot() locator.Snapshot {
	cur := s.Get()
	return locator.Snapshot{
		Patterns: locator.PatternSet{
			Exclusion: cur.RegexPatterns,
			Grouping:  cur.CombineRegex,
			FileTypes: cur.FileTypes,
		},
		PreferredEditor: cur.PreferredEditor,
	}
}

// Update validates next, writes it atomically and makes it current.
func (s *Store) Update(next Settings) (Settings, error) {
	next = normalize(next).withDefaults()
	if err := Validate(next); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(next); err != nil {
		return Settings{}, err
	}
	s.current = next.clone()
	return next.clone(), nil
}

func (s *Store) write(v Settings) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings store: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("settings store: mkdir %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("settings store: rename: %w", err)
	}
	return nil
}

func normalize(s Settings) Settings {
	s.PreferredEditor = strings.TrimSpace(s.PreferredEditor)
	s.RegexPatterns = compact(s.RegexPatterns)
	s.CombineRegex = compact(s.CombineRegex)
	if s.FileTypes != nil {
		types := make([]string, 0, len(s.FileTypes))
		for _, ft := range s.FileTypes {
			ft = strings.TrimPrefix(strings.TrimSpace(ft), ".")
			if ft != "" && !slices.Contains(types, ft) {
				types = append(types, ft)
			}
		}
		s.FileTypes = types
	}
	return s
}

func compact(patterns []string) []string {
	if patterns == nil {
		return nil
	}
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects patterns that do not compile and empty file type lists.
func Validate(s Settings) error {
	var errs []error
	for i, p := range s.RegexPatterns {
		if _, err := regexp2.Compile(p, regexp2.ECMAScript); err != nil {
			errs = append(errs, fmt.Errorf("regexPatterns[%d] %q: %v", i, p, err))
		}
	}
	for i, p := range s.CombineRegex {
		if _, err := regexp2.Compile(p, regexp2.ECMAScript); err != nil {
			errs = append(errs, fmt.Errorf("combineRegex[%d] %q: %v", i, p, err))
		}
	}
	if len(s.FileTypes) == 0 {
		errs = append(errs, errors.New("fileTypes must not be empty"))
	}
	for i, ft := range s.FileTypes {
		if strings.ContainsAny(ft, `/\ `) {
			errs = append(errs, fmt.Errorf("fileTypes[%d] %q: not an extension", i, ft))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
