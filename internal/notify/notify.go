// Package notify posts desktop notifications for captures and pastes.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gen2brain/beeep"

	"pastemine/pkg/types"
)

// MaxBodyRunes is the body length beyond which text is cut and "..." added.
const MaxBodyRunes = 50

// Notification is a single desktop notification.
type Notification struct {
	Title string
	Body  string
	Sound bool
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Truncate shortens s to MaxBodyRunes runes plus an ellipsis.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxBodyRunes {
		return s
	}
	return string(r[:MaxBodyRunes]) + "..."
}

// ForCapture builds the notification shown after a new entry is stored.
func ForCapture(e *types.Entry) Notification {
	title := "Clipboard updated"
	if e.Kind == types.KindImage {
		title = "Copied image"
	}
	return Notification{Title: title, Body: Truncate(e.Preview())}
}

// ForPaste builds the notification shown after an entry is pasted.
func ForPaste(e *types.Entry) Notification {
	title := "Pasted text"
	if e.Kind == types.KindImage {
		title = "Pasted image"
	}
	return Notification{Title: title, Body: Truncate(e.Preview())}
}

// DesktopNotifier posts through the OS notification center. Notifications
// with Sound set are sent as alerts, which play the system sound.
type DesktopNotifier struct {
	notify func(title, message string) error
	alert  func(title, message string) error
}

// NewDesktopNotifier returns a notifier backed by beeep.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		notify: func(title, message string) error { return beeep.Notify(title, message, "") },
		alert:  func(title, message string) error { return beeep.Alert(title, message, "") },
	}
}

func (d *DesktopNotifier) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	send := d.notify
	if n.Sound {
		send = d.alert
	}
	if err := send(n.Title, n.Body); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the log. It is used when desktop
// notifications are turned off.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	slog.Info("notification", "title", n.Title, "body", n.Body)
	return nil
}
