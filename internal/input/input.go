// Package input carries button gestures from the input driver to the
// control loop.
package input

import (
	"fmt"

	"airsense/internal/schema"
)

// Gesture is a decoded button action.
type Gesture int

const (
	GestureError Gesture = iota
	Hold
	Release
	Single
	Double
	Triple
	Quad
	Penta
)

var gestureNames = [...]string{
	GestureError: "error",
	Hold:         "hold",
	Release:      "release",
	Single:       "single",
	Double:       "double",
	Triple:       "triple",
	Quad:         "quad",
	Penta:        "penta",
}

func (g Gesture) String() string {
	if g < 0 || int(g) >= len(gestureNames) {
		return gestureNames[GestureError]
	}
	return gestureNames[g]
}

// Clicks maps a multi-click count to its gesture. Counts outside 1..5
// are an error gesture.
func Clicks(n int) Gesture {
	if n < 1 || n > 5 {
		return GestureError
	}
	return Single + Gesture(n-1)
}

// ParseGesture accepts the names used in status documents.
func ParseGesture(s string) (Gesture, error) {
	for g, name := range gestureNames {
		if name == s {
			return Gesture(g), nil
		}
	}
	return GestureError, fmt.Errorf("unknown gesture %q", s)
}

// Mode decides who consumes single presses.
type Mode string

const (
	// ModeLocal turns a single press into a screen advance.
	ModeLocal Mode = "local"
	// ModeMQTT publishes every gesture as a status document.
	ModeMQTT Mode = "mqtt"
)

// ParseMode accepts "local" or "mqtt".
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeLocal, ModeMQTT:
		return Mode(s), true
	}
	return "", false
}

// Event is one gesture on a 1-based input index.
type Event struct {
	Index   uint8
	Gesture Gesture
}

// Local reports whether mode handles e on the device instead of
// publishing it.
func (e Event) Local(mode Mode) bool {
	return mode == ModeLocal && e.Gesture == Single
}

// StatusDocument is the payload published for e.
func (e Event) StatusDocument() schema.Document {
	return schema.Document{
		"index": e.Index,
		"type":  "button",
		"event": e.Gesture.String(),
	}
}

// Source yields pending events without blocking.
type Source interface {
	Poll() (Event, bool)
}

// Queue is a bounded Source fed from other goroutines.
type Queue struct {
	ch chan Event
}

// NewQueue creates a queue holding up to size events.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Event, size)}
}

// Push enqueues e and reports false when the queue is full.
func (q *Queue) Push(e Event) bool {
	select {
	case q.ch <- e:
		return true
	default:
		return false
	}
}

// Poll dequeues the oldest event.
func (q *Queue) Poll() (Event, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return Event{}, false
	}
}
