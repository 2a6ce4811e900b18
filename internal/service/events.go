package service

import (
	"context"

	"pastemine/internal/paste"
)

// event is anything the loop processes.
type event interface {
	isEvent()
}

// Tick asks the loop to poll the pasteboard.
type Tick struct{}

// PermissionKind names an OS permission the app depends on.
type PermissionKind string

const (
	PermissionAccessibility PermissionKind = "accessibility"
	PermissionNotifications PermissionKind = "notifications"
)

// PermissionResult carries the user's answer to a permission prompt. An
// accessibility denial stops pastes at the pasteboard until a grant is
// reported; a notification denial silences notifications.
type PermissionResult struct {
	Kind    PermissionKind
	Granted bool
}

// PasteRequested asks the loop to paste an entry.
type PasteRequested struct {
	ID string

	ctx   context.Context
	reply chan<- pasteReply
}

type pasteReply struct {
	outcome paste.Outcome
	err     error
}

// call runs an arbitrary store operation on the loop.
type call struct {
	fn   func(ctx context.Context)
	done chan struct{}
}

func (Tick) isEvent()             {}
func (PermissionResult) isEvent() {}
func (PasteRequested) isEvent()   {}
func (call) isEvent()             {}
