package locator

import "context"

// Region is one interactive overlay drawn over a single element.
type Region struct {
	ID            int      `json:"id"`
	Node          int      `json:"node"`
	Box           Box      `json:"box"`
	Identifier    string   `json:"identifier"`
	GroupKey      GroupKey `json:"group_key"`
	SearchPattern string   `json:"search_pattern"`
	Fill          string   `json:"fill"`
	Highlight     string   `json:"highlight"`
}

// NoticeKind distinguishes user-facing notices.
type NoticeKind string

const (
	NoticeNotFound NoticeKind = "not_found"
	NoticeError    NoticeKind = "error"
)

// Notice is a user-visible message shown after a resolution.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// Surface is the page capability the engine draws on. Implementations must
// tolerate RemoveAllRegions and UnblockInteraction when nothing is rendered.
type Surface interface {
	EnumerateCandidates(ctx context.Context) ([]Candidate, Viewport, error)
	RenderRegions(ctx context.Context, regions []Region) error
	RemoveAllRegions(ctx context.Context) error
	// BlockInteraction adds the full-viewport layer and suspends scrolling.
	BlockInteraction(ctx context.Context) error
	// UnblockInteraction removes the layer and restores scrolling.
	UnblockInteraction(ctx context.Context) error
	// SetBusy shows or clears the busy indicator and disables region
	// activation while set.
	SetBusy(ctx context.Context, busy bool) error
	ShowLabel(ctx context.Context, regionID int, label Label) error
	HideLabel(ctx context.Context, regionID int) error
	Notify(ctx context.Context, n Notice) error
	// Open hands a URI to the host environment.
	Open(ctx context.Context, uri string) error
}
