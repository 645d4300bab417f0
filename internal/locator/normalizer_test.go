package locator

import (
	"errors"
	"testing"
)

const uuidPattern = `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`

func TestNormalizeIsDeterministic(t *testing.T) {
	exclusion := []string{`^tmp-.*`}
	grouping := []string{`\d+$`, uuidPattern}
	ids := []string{
		"login-btn",
		"user-catalog-item-f52-928e-44e2-b909-6364fdbc46a6",
		"row-7",
		"tmp-123",
		"",
	}
	for _, id := range ids {
		first := Normalize(id, exclusion, grouping)
		second := Normalize(id, exclusion, grouping)
		if first != second {
			t.Fatalf("Normalize(%q) not deterministic: %+v vs %+v", id, first, second)
		}
	}
}

func TestNormalizeFirstGroupingPatternWins(t *testing.T) {
	tests := []struct {
		name        string
		id          string
		grouping    []string
		wantKey     GroupKey
		wantPattern string
	}{
		{
			name:        "digit suffix before uuid",
			id:          "user-catalog-item-f52-928e-44e2-b909-6364fdbc46a6",
			grouping:    []string{`\d+$`, uuidPattern},
			wantKey:     "user-catalog-item-*",
			wantPattern: "user-catalog-item-f52-928e-44e2-b909-6364fdbc46a.*",
		},
		{
			name:        "narrow pattern listed first",
			id:          "row-item-card-42",
			grouping:    []string{`\d+$`, `card-\d+$`},
			wantKey:     "row-item-card-*",
			wantPattern: "row-item-card-.*",
		},
		{
			name:        "wide pattern listed first",
			id:          "row-item-card-42",
			grouping:    []string{`card-\d+$`, `\d+$`},
			wantKey:     "row-item-card-*",
			wantPattern: "row-item-.*",
		},
		{
			name:        "short identifier replaces matched span",
			id:          "item-12",
			grouping:    []string{`\d+$`},
			wantKey:     "item-*",
			wantPattern: "item-.*",
		},
		{
			name:        "multibyte prefix",
			id:          "élément-carte-ligne-7",
			grouping:    []string{`\d+$`},
			wantKey:     "élément-carte-ligne-*",
			wantPattern: "élément-carte-ligne-.*",
		},
		{
			name:        "no pattern matches",
			id:          "login-btn",
			grouping:    []string{`\d+$`},
			wantKey:     "login-btn",
			wantPattern: "login-btn",
		},
		{
			name:        "metacharacters are quoted",
			id:          "nav.item(1)",
			grouping:    nil,
			wantKey:     "nav.item(1)",
			wantPattern: `nav\.item\(1\)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.id, nil, tt.grouping)
			if got.Excluded {
				t.Fatalf("Normalize(%q) excluded; want grouped", tt.id)
			}
			if got.GroupKey != tt.wantKey {
				t.Fatalf("GroupKey = %q; want %q", got.GroupKey, tt.wantKey)
			}
			if got.SearchPattern != tt.wantPattern {
				t.Fatalf("SearchPattern = %q; want %q", got.SearchPattern, tt.wantPattern)
			}
		})
	}
}

func TestNormalizeExclusionMatchesWholeIdentifier(t *testing.T) {
	exclusion := []string{`tmp-\d+`, `debug`}
	tests := []struct {
		id   string
		want bool
	}{
		{"tmp-1", true},
		{"tmp-123", true},
		{"tmp-1-wrapper", false},
		{"debug", true},
		{"debug-panel", false},
		{"login-btn", false},
	}
	for _, tt := range tests {
		got := Normalize(tt.id, exclusion, []string{`\d+$`})
		if got.Excluded != tt.want {
			t.Fatalf("Normalize(%q).Excluded = %v; want %v", tt.id, got.Excluded, tt.want)
		}
		if got.Excluded && (got.GroupKey != "" || got.SearchPattern != "") {
			t.Fatalf("excluded result carries key %q pattern %q", got.GroupKey, got.SearchPattern)
		}
	}
}

func TestNewNormalizerSkipsMalformedPatterns(t *testing.T) {
	n, err := NewNormalizer([]string{"(", `skip-.*`, "a)(b"}, []string{"[", `\d+$`})
	if err == nil {
		t.Fatal("NewNormalizer() error = nil; want pattern compile errors")
	}
	var pce *PatternCompileError
	if !errors.As(err, &pce) {
		t.Fatalf("error type = %T; want *PatternCompileError", err)
	}

	if got := n.Normalize("skip-me"); !got.Excluded {
		t.Fatalf("Normalize(skip-me) = %+v; want excluded", got)
	}
	if got := n.Normalize("a)(b"); got.Excluded {
		t.Fatalf("Normalize(a)(b) excluded by a pattern that should have been skipped")
	}
	got := n.Normalize("card-list-entry-12")
	if got.GroupKey != "card-list-entry-*" {
		t.Fatalf("GroupKey = %q; want %q", got.GroupKey, "card-list-entry-*")
	}
}

func TestNormalizerMemoizesResults(t *testing.T) {
	n, err := NewNormalizer(nil, []string{`\d+$`})
	if err != nil {
		t.Fatalf("NewNormalizer() error = %v", err)
	}
	first := n.Normalize("list-row-entry-3")
	if _, ok := n.memo.Get("list-row-entry-3"); !ok {
		t.Fatal("result not memoized")
	}
	if second := n.Normalize("list-row-entry-3"); second != first {
		t.Fatalf("memoized result %+v differs from %+v", second, first)
	}
}

func TestResolutionRegex(t *testing.T) {
	if got, want := ResolutionRegex("login-btn"), `id=("|')login-btn("|')`; got != want {
		t.Fatalf("ResolutionRegex() = %q; want %q", got, want)
	}
}
