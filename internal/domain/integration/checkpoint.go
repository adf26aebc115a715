package integration

import (
	"fmt"
	"maps"
)

// CursorMap holds the opaque pagination cursor per module
type CursorMap map[ModuleID]string

// Clone returns an independent copy of the map
func (c CursorMap) Clone() CursorMap {
	if c == nil {
		return CursorMap{}
	}
	return maps.Clone(c)
}

// Checkpoint is the resumable state of a run: the module in progress and the
// last committed cursor of every module touched so far. Nothing else is read
// when a run resumes.
type Checkpoint struct {
	ModuleIndex int
	Cursor      CursorMap
}

// Clone returns an independent copy of the checkpoint
func (c Checkpoint) Clone() Checkpoint {
	return Checkpoint{ModuleIndex: c.ModuleIndex, Cursor: c.Cursor.Clone()}
}

// CursorFor returns the committed cursor for a module, if any
func (c Checkpoint) CursorFor(module ModuleID) (string, bool) {
	cur, ok := c.Cursor[module]
	return cur, ok
}

// Validate checks the checkpoint against a module list of the given length
func (c Checkpoint) Validate(total int) error {
	if c.ModuleIndex < 0 || c.ModuleIndex > total {
		return fmt.Errorf("%w: module index %d out of range [0,%d]", ErrModuleConfig, c.ModuleIndex, total)
	}
	return nil
}

// ModuleProgress carries per-module counters. It is informational only.
type ModuleProgress struct {
	Pages     int64  `json:"pages"`
	Fetched   int64  `json:"fetched"`
	Upserted  int64  `json:"upserted"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// Add returns p with the counters of delta added. A non-empty LastError in
// delta replaces the previous sample.
func (p ModuleProgress) Add(delta ModuleProgress) ModuleProgress {
	p.Pages += delta.Pages
	p.Fetched += delta.Fetched
	p.Upserted += delta.Upserted
	p.Skipped += delta.Skipped
	p.Failed += delta.Failed
	if delta.LastError != "" {
		p.LastError = delta.LastError
	}
	return p
}

// ProgressMap holds counters per module
type ProgressMap map[ModuleID]ModuleProgress

// Clone returns an independent copy of the map
func (p ProgressMap) Clone() ProgressMap {
	if p == nil {
		return ProgressMap{}
	}
	return maps.Clone(p)
}
