package locator

import (
	"fmt"
	"math"
	"unicode/utf16"

	lru "github.com/hashicorp/golang-lru/v2"
)

const colorCacheSize = 4096

// Color is a group highlight hue.
type Color struct {
	Hue int `json:"hue"`
}

// Fill is the resting overlay color.
func (c Color) Fill() string { return fmt.Sprintf("hsla(%d, 70%%, 60%%, 0.3)", c.Hue) }

// Highlight is the hovered overlay color.
func (c Color) Highlight() string { return fmt.Sprintf("hsla(%d, 70%%, 60%%, 0.5)", c.Hue) }

// ColorFor derives the hue from the key with the string hash browsers
// commonly use (h = c + (h<<5) - h over UTF-16 code units, int32 shift).
func ColorFor(key GroupKey) Color {
	var hash float64
	for _, unit := range utf16.Encode([]rune(string(key))) {
		shifted := float64(toInt32(hash) << 5)
		hash = float64(unit) + (shifted - hash)
	}
	return Color{Hue: int(int64(math.Abs(hash)) % 360)}
}

func toInt32(f float64) int32 {
	return int32(uint32(int64(math.Trunc(f))))
}

// ColorCache memoizes group colors for one page.
type ColorCache struct {
	entries *lru.Cache[GroupKey, Color]
}

func NewColorCache() *ColorCache {
	entries, err := lru.New[GroupKey, Color](colorCacheSize)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &ColorCache{entries: entries}
}

func (c *ColorCache) Get(key GroupKey) Color {
	if col, ok := c.entries.Get(key); ok {
		return col
	}
	col := ColorFor(key)
	c.entries.Add(key, col)
	return col
}

func (c *ColorCache) Len() int { return c.entries.Len() }

func (c *ColorCache) Purge() { c.entries.Purge() }
