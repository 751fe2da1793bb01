// Package stuck implements the repetition-based loop breaker described in
// spec.md §4.4: a bounded FIFO of recent tool-call fingerprints that detects
// when an agent has invoked the same tool with identical arguments too many
// times in a row.
package stuck

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/restflow/engine/pkg/models"
)

// Action configures what the executor does when the detector fires.
type Action string

const (
	// ActionNudge injects the StuckInfo message as a system message and lets
	// the loop continue.
	ActionNudge Action = "nudge"
	// ActionStop terminates the run with Failed{"stuck"} immediately.
	ActionStop Action = "stop"
)

// StuckInfo describes a detected repetition.
type StuckInfo struct {
	ToolName string
	Repeats  int
	Message  string
}

// Detector holds a bounded FIFO of recent (tool_name, args_hash)
// fingerprints. It is a pure in-memory component: never persisted to
// checkpoints, never shared across executions.
type Detector struct {
	windowSize      int
	repeatThreshold int
	recent          []models.StuckFingerprint
}

// NewDetector creates a Detector with the given window size (FIFO capacity)
// and repeat threshold (consecutive identical calls that trigger stuck).
func NewDetector(windowSize, repeatThreshold int) *Detector {
	if windowSize <= 0 {
		windowSize = 10
	}
	if repeatThreshold <= 0 {
		repeatThreshold = 3
	}
	return &Detector{windowSize: windowSize, repeatThreshold: repeatThreshold}
}

// HashArgs hashes a tool call's argument JSON text. Identical JSON bytes
// always hash identically; the hash is order-sensitive on the string
// representation, not on semantic JSON equality.
func HashArgs(argsJSON []byte) string {
	sum := sha256.Sum256(argsJSON)
	return hex.EncodeToString(sum[:])
}

// Record pushes a new fingerprint, evicting the oldest entry once the
// window is at capacity.
func (d *Detector) Record(toolName string, argsJSON []byte) {
	fp := models.StuckFingerprint{ToolName: toolName, ArgsHash: HashArgs(argsJSON)}
	d.recent = append(d.recent, fp)
	if len(d.recent) > d.windowSize {
		d.recent = d.recent[len(d.recent)-d.windowSize:]
	}
}

// IsStuck reports whether the last RepeatThreshold fingerprints are all
// identical (same tool name and same args hash).
func (d *Detector) IsStuck() *StuckInfo {
	if len(d.recent) < d.repeatThreshold {
		return nil
	}
	tail := d.recent[len(d.recent)-d.repeatThreshold:]
	first := tail[0]
	for _, fp := range tail[1:] {
		if fp != first {
			return nil
		}
	}
	return &StuckInfo{
		ToolName: first.ToolName,
		Repeats:  d.repeatThreshold,
		Message: fmt.Sprintf(
			"You appear to be stuck: you have called '%s' %d times consecutively with the same arguments. Please try a different approach or tool.",
			first.ToolName, d.repeatThreshold,
		),
	}
}

// Reset clears the FIFO, e.g. after a nudge is acted on successfully.
func (d *Detector) Reset() {
	d.recent = nil
}
