// Package extension loads extension manifests and reports their lifecycle as
// events. Extensions contribute tool servers.
package extension

import "github.com/moqimoqidea/gemini-cli/pkg/types"

// EventType is the kind of lifecycle change.
type EventType string

const (
	EventLoaded   EventType = "loaded"
	EventEnabled  EventType = "enabled"
	EventDisabled EventType = "disabled"
	EventUnloaded EventType = "unloaded"
)

// Event reports one extension lifecycle change. Extension is a snapshot and is
// not modified after the event is sent.
type Event struct {
	Type      EventType
	Extension *types.Extension
}

// Starts reports whether the event should bring the extension's servers up.
func (e Event) Starts() bool {
	return e.Type == EventLoaded || e.Type == EventEnabled
}
