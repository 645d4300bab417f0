package storage

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/idlocator/internal/locator"
)

const (
	historyFileBase   = "lookups"
	historyBufferSize = 256
	unknownSegment    = "unknown"
)

// LookupRecord is one line of the lookup audit log.
type LookupRecord struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	TabID      string    `json:"tab_id"`
	Identifier string    `json:"identifier"`
	GroupKey   string    `json:"group_key"`
	Regex      string    `json:"regex"`
	FileTypes  []string  `json:"file_types"`
	Outcome    string    `json:"outcome"`
	Path       string    `json:"path,omitempty"`
	Message    string    `json:"message,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms"`
}

// HistoryWriter is an audit sink: every lookup is appended as a JSON line under
// the page's path segment and rotated by size. Nothing reads it back.
type HistoryWriter struct {
	registry   *WriterRegistry
	segmentFor func(tabID string) (string, bool)
	now        func() time.Time
}

// NewHistoryWriter writes under baseDir. segmentFor maps a tab to its page
// path segment and may be nil.
func NewHistoryWriter(baseDir string, maxSizeMB int, segmentFor func(tabID string) (string, bool)) *HistoryWriter {
	return &HistoryWriter{
		registry:   NewWriterRegistry(baseDir, historyFileBase, historyBufferSize, maxSizeMB),
		segmentFor: segmentFor,
		now:        time.Now,
	}
}

func (h *HistoryWriter) RecordLookup(tabID string, q locator.Query, r locator.Result, elapsed time.Duration) {
	rec := LookupRecord{
		ID:         uuid.NewString(),
		Time:       h.now().UTC(),
		TabID:      tabID,
		Identifier: q.Identifier,
		GroupKey:   string(q.GroupKey),
		Regex:      q.SearchPattern,
		FileTypes:  q.FileTypes,
		Outcome:    r.Kind.String(),
		Path:       r.Path,
		Message:    r.Message,
		ElapsedMS:  elapsed.Milliseconds(),
	}
	seg := h.segment(tabID)
	if err := h.registry.GetWriter(seg).Write(rec); err != nil {
		slog.Warn("lookup audit record dropped", "tab_id", tabID, "path_segment", seg, "error", err)
	}
}

func (h *HistoryWriter) segment(tabID string) string {
	if h.segmentFor != nil {
		if seg, ok := h.segmentFor(tabID); ok && seg != "" {
			return seg
		}
	}
	return unknownSegment
}

// Close flushes and closes all history files.
func (h *HistoryWriter) Close() error {
	return h.registry.Close()
}
