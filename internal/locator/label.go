package locator

// Placement selects where a hover label is drawn relative to its region.
type Placement string

const (
	PlacementAbove  Placement = "above"
	PlacementInside Placement = "inside"
)

const (
	// DefaultTallThreshold is the region height above which labels are always
	// centered inside the region.
	DefaultTallThreshold = 200.0

	labelHeight    = 20.0
	labelCharWidth = 7.0
	labelPadding   = 8.0
)

// Label is the hover affordance for one region.
type Label struct {
	Text      string    `json:"text"`
	Placement Placement `json:"placement"`
}

// PlaceLabel prefers drawing above the region and falls back to centering
// inside it when the label would leave the viewport or the region is taller
// than tallThreshold.
func PlaceLabel(text string, box Box, vp Viewport, tallThreshold float64) Placement {
	if box.H > tallThreshold {
		return PlacementInside
	}
	width := float64(len([]rune(text)))*labelCharWidth + labelPadding
	top := box.Y - labelHeight
	switch {
	case top < 0:
		return PlacementInside
	case box.X < 0:
		return PlacementInside
	case vp.Width > 0 && box.X+width > vp.Width:
		return PlacementInside
	case vp.Height > 0 && top > vp.Height:
		return PlacementInside
	}
	return PlacementAbove
}
