package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// LoopKind names the repetition that was detected.
type LoopKind string

const (
	LoopToolCalls LoopKind = "consecutive_identical_tool_calls"
	LoopContent   LoopKind = "chanting_identical_sentences"
)

const (
	toolCallLoopThreshold = 5
	contentLoopThreshold  = 10
)

// LoopDetector watches a prompt's events for a model stuck repeating itself.
type LoopDetector struct {
	lastToolKey  string
	toolRepeats  int
	lastContent  string
	contentCount int
	detected     LoopKind
}

// NewLoopDetector creates a detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{}
}

// Reset forgets everything seen. Call it at the start of each prompt.
func (d *LoopDetector) Reset() {
	*d = LoopDetector{}
}

// Check records ev and reports whether a loop has been detected.
func (d *LoopDetector) Check(ev Event) (LoopKind, bool) {
	if d.detected != "" {
		return d.detected, true
	}
	switch e := ev.(type) {
	case ToolCallRequestEvent:
		d.resetContent()
		key := toolCallKey(e.Request)
		if key == d.lastToolKey {
			d.toolRepeats++
		} else {
			d.lastToolKey = key
			d.toolRepeats = 1
		}
		if d.toolRepeats >= toolCallLoopThreshold {
			d.detected = LoopToolCalls
		}
	case ContentEvent:
		chunk := strings.TrimSpace(e.Text)
		if chunk == "" {
			break
		}
		if chunk == d.lastContent {
			d.contentCount++
		} else {
			d.lastContent = chunk
			d.contentCount = 1
		}
		if d.contentCount >= contentLoopThreshold {
			d.detected = LoopContent
		}
	}
	return d.detected, d.detected != ""
}

func (d *LoopDetector) resetContent() {
	d.lastContent = ""
	d.contentCount = 0
}

// toolCallKey hashes name and args; json.Marshal sorts map keys.
func toolCallKey(req ToolCallRequestInfo) string {
	args, _ := json.Marshal(req.Args)
	h := sha256.New()
	h.Write([]byte(req.Name))
	h.Write([]byte{0})
	h.Write(args)
	return hex.EncodeToString(h.Sum(nil))
}
