package service

import "pastemine/pkg/types"

// ChangeType identifies what happened to the history.
type ChangeType string

const (
	EntryAdded     ChangeType = "entry_added"
	EntryPasted    ChangeType = "entry_pasted"
	EntryDeleted   ChangeType = "entry_deleted"
	EntryUpdated   ChangeType = "entry_updated"
	EntriesCleared ChangeType = "entries_cleared"
	WindowHidden   ChangeType = "hide_window"
)

// Change is delivered to every registered ChangeHandler.
type Change struct {
	Type  ChangeType   `json:"type"`
	Entry *types.Entry `json:"entry,omitempty"`
}

// ChangeHandler is implemented by components that need to be notified of history changes
type ChangeHandler interface {
	HandleChange(c Change)
}

// ChangeHandlerFunc adapts a function to ChangeHandler.
type ChangeHandlerFunc func(Change)

func (f ChangeHandlerFunc) HandleChange(c Change) { f(c) }
