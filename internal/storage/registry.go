package storage

import (
	"errors"
	"log/slog"
	"sync"
)

// WriterRegistry keeps one JSONLWriter per page path segment so each page's
// records land in their own directory.
type WriterRegistry struct {
	baseDir    string
	fileBase   string
	maxSizeMB  int
	bufferSize int

	writers map[string]*JSONLWriter
	mu      sync.RWMutex
}

func NewWriterRegistry(baseDir, fileBase string, bufferSize, maxSizeMB int) *WriterRegistry {
	return &WriterRegistry{
		baseDir:    baseDir,
		fileBase:   fileBase,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]*JSONLWriter),
	}
}

// GetWriter returns (or creates) the writer for pathSegment.
func (r *WriterRegistry) GetWriter(pathSegment string) *JSONLWriter {
	r.mu.RLock()
	writer, ok := r.writers[pathSegment]
	r.mu.RUnlock()
	if ok {
		return writer
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if writer, ok := r.writers[pathSegment]; ok {
		return writer
	}

	writer = NewJSONLWriter(r.baseDir, pathSegment, r.fileBase, r.bufferSize, r.maxSizeMB)
	r.writers[pathSegment] = writer
	slog.Info("Created new JSONL writer", "path_segment", pathSegment)
	return writer
}

// Close closes all managed writers.
func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for pathSeg, writer := range r.writers {
		if err := writer.Close(); err != nil {
			slog.Error("Failed to close writer", "path_segment", pathSeg, "error", err)
			errs = append(errs, err)
		}
	}
	r.writers = make(map[string]*JSONLWriter)
	return errors.Join(errs...)
}
