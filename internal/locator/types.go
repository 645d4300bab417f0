package locator

import "slices"

// State is the overlay lifecycle state of one tab.
type State int32

const (
	StateIdle State = iota
	StateEnumerating
	StateReady
	StateAwaitingResolution
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateReady:
		return "ready"
	case StateAwaitingResolution:
		return "awaiting_resolution"
	default:
		return "unknown"
	}
}

// Box is an element rectangle in viewport coordinates.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Viewport describes the visible page area at enumeration time.
type Viewport struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scroll_x"`
	ScrollY float64 `json:"scroll_y"`
}

// Candidate is an element carrying an identifier attribute. Node is an opaque
// handle owned by the surface that produced it.
type Candidate struct {
	Identifier string `json:"identifier"`
	Box        Box    `json:"box"`
	Node       int    `json:"node"`
}

// GroupKey names a class of equivalent elements.
type GroupKey string

// PatternSet governs exclusion, grouping and accepted file types for one
// activation.
type PatternSet struct {
	Exclusion []string `json:"exclusion"`
	Grouping  []string `json:"grouping"`
	FileTypes []string `json:"file_types"`
}

// Clone returns a deep copy so later edits to the source never reach an
// in-flight activation.
func (p PatternSet) Clone() PatternSet {
	return PatternSet{
		Exclusion: slices.Clone(p.Exclusion),
		Grouping:  slices.Clone(p.Grouping),
		FileTypes: slices.Clone(p.FileTypes),
	}
}

// Snapshot is the configuration captured when an activation starts.
type Snapshot struct {
	Patterns        PatternSet
	PreferredEditor string
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{Patterns: s.Patterns.Clone(), PreferredEditor: s.PreferredEditor}
}

// Query is built once per click and never modified afterwards. Identifier and
// GroupKey record where the pattern came from.
type Query struct {
	SearchPattern string   `json:"search_pattern"`
	FileTypes     []string `json:"file_types"`
	Identifier    string   `json:"identifier"`
	GroupKey      GroupKey `json:"group_key"`
}

// ResultKind tags a Result.
type ResultKind int

const (
	ResultNotFound ResultKind = iota
	ResultFound
	ResultTransportError
)

func (k ResultKind) String() string {
	switch k {
	case ResultFound:
		return "found"
	case ResultNotFound:
		return "not_found"
	case ResultTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one resolution. Path is set for ResultFound and
// Message for ResultTransportError.
type Result struct {
	Kind    ResultKind
	Path    string
	Message string
}

func Found(path string) Result { return Result{Kind: ResultFound, Path: path} }

func NotFound() Result { return Result{Kind: ResultNotFound} }

func TransportError(msg string) Result { return Result{Kind: ResultTransportError, Message: msg} }
