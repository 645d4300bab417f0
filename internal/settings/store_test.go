package settings

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got := s.Get()
	if got.PreferredEditor != "vscode" {
		t.Fatalf("PreferredEditor = %q; want vscode", got.PreferredEditor)
	}
	if !slices.Equal(got.FileTypes, []string{"js", "jsx", "ts", "tsx"}) {
		t.Fatalf("FileTypes = %v", got.FileTypes)
	}
	if len(got.RegexPatterns) != 0 || len(got.CombineRegex) != 0 {
		t.Fatalf("patterns = %v %v; want empty", got.RegexPatterns, got.CombineRegex)
	}
}

func TestOpenFillsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "preferredEditor: cursor\ncombineRegex:\n  - '\\d+$'\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	snap := s.Snapshot()
	if snap.PreferredEditor != "cursor" {
		t.Fatalf("PreferredEditor = %q; want cursor", snap.PreferredEditor)
	}
	if !slices.Equal(snap.Patterns.Grouping, []string{`\d+$`}) {
		t.Fatalf("Grouping = %v", snap.Patterns.Grouping)
	}
	if !slices.Equal(snap.Patterns.FileTypes, []string{"js", "jsx", "ts", "tsx"}) {
		t.Fatalf("FileTypes = %v", snap.Patterns.FileTypes)
	}
}

func TestOpenRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("fileTypes: [unterminated"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open() error = nil; want parse error")
	}
}

func TestUpdatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, err := s.Update(Settings{
		PreferredEditor: " windsurf ",
		RegexPatterns:   []string{`tmp-\d+`, "  "},
		CombineRegex:    []string{`\d+$`},
		FileTypes:       []string{".vue", "ts", "ts"},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.PreferredEditor != "windsurf" {
		t.Fatalf("PreferredEditor = %q; want windsurf", got.PreferredEditor)
	}
	if !slices.Equal(got.RegexPatterns, []string{`tmp-\d+`}) {
		t.Fatalf("RegexPatterns = %v", got.RegexPatterns)
	}
	if !slices.Equal(got.FileTypes, []string{"vue", "ts"}) {
		t.Fatalf("FileTypes = %v", got.FileTypes)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if r := reopened.Get(); r.PreferredEditor != "windsurf" || !slices.Equal(r.CombineRegex, []string{`\d+$`}) {
		t.Fatalf("reopened settings = %+v", r)
	}
}

func TestUpdateRejectsInvalid(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	tests := []struct {
		name string
		in   Settings
	}{
		{"bad exclusion", Settings{RegexPatterns: []string{"("}}},
		{"bad grouping", Settings{CombineRegex: []string{"["}}},
		{"empty file types", Settings{FileTypes: []string{" "}}},
		{"path in file type", Settings{FileTypes: []string{"src/ts"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Update(tt.in); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Update() error = %v; want ErrInvalid", err)
			}
		})
	}
	if got := s.Get(); got.PreferredEditor != "vscode" {
		t.Fatalf("rejected update changed settings: %+v", got)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	snap := s.Snapshot()
	snap.Patterns.FileTypes[0] = "py"
	if got := s.Get().FileTypes[0]; got != "js" {
		t.Fatalf("store FileTypes[0] = %q after snapshot edit; want js", got)
	}
}
