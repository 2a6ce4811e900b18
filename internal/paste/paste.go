// Package paste puts a history entry back on the pasteboard and, when the
// process is trusted for accessibility, types Cmd+V into the app the user
// came from.
package paste

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"pastemine/pkg/types"
)

// Delays between hiding the history window and the synthetic keystroke.
const (
	SettleDelay   = 150 * time.Millisecond
	ActivateDelay = 100 * time.Millisecond
)

// ErrEmptyPayload is returned for a payload with nothing to write.
var ErrEmptyPayload = errors.New("paste: empty payload")

// Outcome says how far a paste got.
type Outcome int

const (
	// OutcomePasted: content written and Cmd+V delivered.
	OutcomePasted Outcome = iota
	// OutcomeClipboardOnly: content written; the user has to paste by hand.
	OutcomeClipboardOnly
)

func (o Outcome) String() string {
	if o == OutcomePasted {
		return "pasted"
	}
	return "clipboard_only"
}

// Payload is what gets written to the pasteboard.
type Payload struct {
	Kind types.Kind
	Text string
	// PNG holds the canonical image encoding for image payloads.
	PNG []byte
}

// Writer replaces the pasteboard contents.
type Writer interface {
	Write(p Payload) error
}

// Hider dismisses the history window.
type Hider interface {
	HideWindow()
}

// Focus remembers the app that was in front when the history window opened.
type Focus interface {
	Remember()
	// Restore reactivates the remembered app. It reports false when there
	// was nothing to restore.
	Restore() (bool, error)
}

// Authorizer reports whether synthetic key events will be delivered.
type Authorizer interface {
	Trusted() bool
	// Request asks the OS to prompt the user and returns the current state.
	Request() bool
}

// Keystroker sends the platform paste shortcut.
type Keystroker interface {
	PasteKeystroke() error
}

// Dispatcher runs the paste sequence.
type Dispatcher struct {
	writer Writer
	hider  Hider
	focus  Focus
	auth   Authorizer
	keys   Keystroker

	// denied is set when the user reported refusing accessibility access.
	denied atomic.Bool

	settle   time.Duration
	activate time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithHider(h Hider) Option           { return func(d *Dispatcher) { d.hider = h } }
func WithFocus(f Focus) Option           { return func(d *Dispatcher) { d.focus = f } }
func WithAuthorizer(a Authorizer) Option { return func(d *Dispatcher) { d.auth = a } }
func WithKeystroker(k Keystroker) Option { return func(d *Dispatcher) { d.keys = k } }

// WithDelays overrides SettleDelay and ActivateDelay.
func WithDelays(settle, activate time.Duration) Option {
	return func(d *Dispatcher) {
		d.settle = settle
		d.activate = activate
	}
}

// New creates a Dispatcher. Missing collaborators fall back to the
// platform defaults.
func New(w Writer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		writer:   w,
		settle:   SettleDelay,
		activate: ActivateDelay,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.hider == nil {
		d.hider = noopHider{}
	}
	if d.focus == nil {
		d.focus = NewFocus()
	}
	if d.auth == nil {
		d.auth = NewAuthorizer()
	}
	if d.keys == nil {
		d.keys = NewKeystroker()
	}
	return d
}

// Remember records the frontmost app. Call it when the history window is
// about to be shown.
func (d *Dispatcher) Remember() {
	d.focus.Remember()
}

// Trusted reports the accessibility state: the OS must trust the process
// and the user must not have reported a denial since the last grant.
func (d *Dispatcher) Trusted() bool {
	return !d.denied.Load() && d.auth.Trusted()
}

// ReportPermission records the answer the user gave to an accessibility
// prompt. A denial keeps Paste from sending keystrokes until a grant is
// reported.
func (d *Dispatcher) ReportPermission(granted bool) {
	d.denied.Store(!granted)
}

// RequestPermission prompts for accessibility access.
func (d *Dispatcher) RequestPermission() bool {
	return d.auth.Request()
}

// Paste writes p to the pasteboard, hides the window and, if trusted,
// returns focus to the previous app and sends the paste shortcut.
func (d *Dispatcher) Paste(ctx context.Context, p Payload) (Outcome, error) {
	if p.Text == "" && len(p.PNG) == 0 {
		return OutcomeClipboardOnly, ErrEmptyPayload
	}
	if err := d.writer.Write(p); err != nil {
		return OutcomeClipboardOnly, fmt.Errorf("write pasteboard: %w", err)
	}
	d.hider.HideWindow()

	if err := d.sleep(ctx, d.settle); err != nil {
		return OutcomeClipboardOnly, err
	}
	restored, err := d.focus.Restore()
	if err != nil {
		slog.Warn("failed to reactivate previous app", "err", err)
	}
	if restored {
		if err := d.sleep(ctx, d.activate); err != nil {
			return OutcomeClipboardOnly, err
		}
	}

	if !d.Trusted() {
		slog.Warn("accessibility permission missing, content left on the pasteboard")
		return OutcomeClipboardOnly, nil
	}
	if err := d.keys.PasteKeystroke(); err != nil {
		return OutcomeClipboardOnly, fmt.Errorf("send paste keystroke: %w", err)
	}
	slog.Debug("sent paste keystroke", "kind", p.Kind)
	return OutcomePasted, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noopHider struct{}

func (noopHider) HideWindow() {}
