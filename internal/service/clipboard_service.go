// Package service runs the capture loop and exposes the history to the UI.
//
// All pasteboard polling, paste requests, permission results and history
// mutations are handled one at a time on a single goroutine, so the store
// never sees two writers racing against the retention sweep.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pastemine/internal/clipboard"
	"pastemine/internal/notify"
	"pastemine/internal/paste"
	"pastemine/internal/settings"
	"pastemine/internal/storage"
	"pastemine/pkg/types"
)

// ErrStopped is returned for requests made after Stop.
var ErrStopped = errors.New("service stopped")

// Custom error types for better error handling
type ClipboardError struct {
	Op      string // Operation that failed
	ID      string // Entry involved (if applicable)
	Message string // Error message
	Err     error  // Underlying error
}

func (e *ClipboardError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.ID != "" {
		return fmt.Sprintf("%s failed for %s: %s", e.Op, e.ID, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *ClipboardError) Unwrap() error {
	return e.Err
}

// Config wires the service's collaborators.
type Config struct {
	Store      storage.Storage
	Pasteboard clipboard.Pasteboard
	Settings   settings.Provider
	Notifier   notify.Notifier

	// Writer puts pasted entries back on the pasteboard.
	Writer       paste.Writer
	PasteOptions []paste.Option

	// Interval between pasteboard polls. Defaults to clipboard.DefaultInterval.
	Interval time.Duration
}

// ClipboardService owns the event loop.
type ClipboardService struct {
	store    storage.Storage
	poller   *clipboard.Poller
	paster   *paste.Dispatcher
	notifier notify.Notifier
	settings settings.Provider
	interval time.Duration

	events   chan event
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool
	stopOnce sync.Once

	accessibility       atomic.Bool
	notificationsDenied atomic.Bool

	handlers []ChangeHandler
	mu       sync.RWMutex
}

// New creates a new ClipboardService
func New(cfg Config) *ClipboardService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ClipboardService{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		settings: cfg.Settings,
		interval: cfg.Interval,
		events:   make(chan event, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
	if s.interval <= 0 {
		s.interval = clipboard.DefaultInterval
	}
	if s.notifier == nil {
		s.notifier = notify.LogNotifier{}
	}

	s.poller = clipboard.NewPoller(cfg.Pasteboard, cfg.Store, cfg.Settings)
	s.poller.OnChange(s.announceCapture)

	opts := append([]paste.Option{paste.WithHider(s)}, cfg.PasteOptions...)
	s.paster = paste.New(cfg.Writer, opts...)
	s.accessibility.Store(s.paster.Trusted())
	return s
}

// RegisterHandler adds a new change handler
func (s *ClipboardService) RegisterHandler(handler ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *ClipboardService) publish(c Change) {
	s.mu.RLock()
	handlers := s.handlers // Copy to avoid holding lock during callbacks
	s.mu.RUnlock()

	for _, handler := range handlers {
		handler.HandleChange(c)
	}
}

// Start seeds the poller with the current pasteboard contents and starts
// the loop.
func (s *ClipboardService) Start() error {
	if s.ctx.Err() != nil {
		return &ClipboardError{Op: "Start", Message: "service already stopped", Err: ErrStopped}
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	s.poller.Seed()

	s.wg.Add(1)
	go s.run()

	slog.Info("clipboard service started", "interval", s.interval, "accessibility", s.accessibility.Load())
	return nil
}

// Stop gracefully shuts down the service. It is safe to call more than once.
func (s *ClipboardService) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		// Signal shutdown
		s.cancel()

		// Wait for the loop and in-flight notifications
		s.wg.Wait()
		s.running.Store(false)

		if s.settings.Current().ClearOnQuit {
			slog.Info("clearing history on quit")
			if cerr := s.store.ClearAll(context.Background()); cerr != nil {
				err = &ClipboardError{Op: "Stop", Message: "failed to clear history on quit", Err: cerr}
			}
		}
	})
	return err
}

func (s *ClipboardService) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.handle(Tick{})
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *ClipboardService) handle(ev event) {
	switch e := ev.(type) {
	case Tick:
		s.poller.Poll(s.ctx)
	case PermissionResult:
		s.applyPermission(e)
	case PasteRequested:
		outcome, err := s.paste(e.ctx, e.ID)
		e.reply <- pasteReply{outcome: outcome, err: err}
	case call:
		e.fn(s.ctx)
		close(e.done)
	default:
		slog.Warn("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// send queues ev for the loop.
func (s *ClipboardService) send(ctx context.Context, ev event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do runs fn on the loop and waits for it. Before Start, fn runs inline so
// one-shot CLI commands can use the same API.
func (s *ClipboardService) do(ctx context.Context, fn func(ctx context.Context)) error {
	if !s.running.Load() {
		if s.ctx.Err() != nil {
			return ErrStopped
		}
		fn(ctx)
		return nil
	}

	c := call{fn: fn, done: make(chan struct{})}
	if err := s.send(ctx, c); err != nil {
		return err
	}
	select {
	case <-c.done:
		return nil
	case <-s.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollNow runs one poll on the loop and returns its result.
func (s *ClipboardService) PollNow(ctx context.Context) (clipboard.Result, error) {
	var res clipboard.Result
	err := s.do(ctx, func(loopCtx context.Context) {
		res = s.poller.Poll(loopCtx)
	})
	return res, err
}

func (s *ClipboardService) announceCapture(entry *types.Entry) {
	s.publish(Change{Type: EntryAdded, Entry: entry})
	s.sendNotification(notify.ForCapture(entry))
}

func (s *ClipboardService) sendNotification(n notify.Notification) {
	prefs := s.settings.Current()
	if !prefs.NotificationsEnabled || s.notificationsDenied.Load() {
		return
	}
	n.Sound = prefs.SoundEnabled

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, n); err != nil {
			slog.Warn("failed to send notification", "title", n.Title, "err", err)
		}
	}()
}

// HideWindow tells the UI to dismiss the history window.
func (s *ClipboardService) HideWindow() {
	s.publish(Change{Type: WindowHidden})
}

// ShowRequested records the frontmost app before the history window takes
// focus, so a later paste can return to it.
func (s *ClipboardService) ShowRequested() {
	s.paster.Remember()
}

// Paste writes the entry to the pasteboard and pastes it into the previous
// app when accessibility permission allows.
func (s *ClipboardService) Paste(ctx context.Context, id string) (paste.Outcome, error) {
	if !s.running.Load() {
		return s.paste(ctx, id)
	}

	reply := make(chan pasteReply, 1)
	if err := s.send(ctx, PasteRequested{ID: id, ctx: ctx, reply: reply}); err != nil {
		return paste.OutcomeClipboardOnly, err
	}
	select {
	case r := <-reply:
		return r.outcome, r.err
	case <-s.ctx.Done():
		return paste.OutcomeClipboardOnly, ErrStopped
	case <-ctx.Done():
		return paste.OutcomeClipboardOnly, ctx.Err()
	}
}

func (s *ClipboardService) paste(ctx context.Context, id string) (paste.Outcome, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return paste.OutcomeClipboardOnly, &ClipboardError{Op: "Paste", ID: id, Message: "failed to retrieve entry", Err: err}
	}

	payload := paste.Payload{Kind: entry.Kind, Text: entry.Content}
	if entry.Kind == types.KindImage {
		payload.PNG, err = s.store.LoadImage(ctx, entry)
		if err != nil {
			return paste.OutcomeClipboardOnly, &ClipboardError{Op: "Paste", ID: id, Message: "failed to load image", Err: err}
		}
	}

	// Our own write must not come back as a new capture.
	s.poller.Acknowledge(entry.ContentHash)

	outcome, err := s.paster.Paste(ctx, payload)
	if err != nil {
		return outcome, &ClipboardError{Op: "Paste", ID: id, Message: "failed to paste entry", Err: err}
	}
	if outcome == paste.OutcomeClipboardOnly {
		s.accessibility.Store(false)
	}

	slog.Info("pasted entry", "id", id, "kind", entry.Kind, "outcome", outcome)
	s.publish(Change{Type: EntryPasted, Entry: entry})
	s.sendNotification(notify.ForPaste(entry))
	return outcome, nil
}

// ReportPermission records the result of a permission prompt.
func (s *ClipboardService) ReportPermission(ctx context.Context, kind PermissionKind, granted bool) error {
	ev := PermissionResult{Kind: kind, Granted: granted}
	if !s.running.Load() {
		s.applyPermission(ev)
		return nil
	}
	return s.send(ctx, ev)
}

// RequestAccessibility prompts the OS for accessibility access and records
// the answer.
func (s *ClipboardService) RequestAccessibility(ctx context.Context) (bool, error) {
	granted := s.paster.RequestPermission()
	return granted, s.ReportPermission(ctx, PermissionAccessibility, granted)
}

func (s *ClipboardService) applyPermission(p PermissionResult) {
	switch p.Kind {
	case PermissionAccessibility:
		s.paster.ReportPermission(p.Granted)
		s.accessibility.Store(s.paster.Trusted())
	case PermissionNotifications:
		s.notificationsDenied.Store(!p.Granted)
	}
	slog.Info("permission result", "kind", p.Kind, "granted", p.Granted)
}

// Status is a snapshot for the UI.
type Status struct {
	Running             bool `json:"running"`
	Accessibility       bool `json:"accessibility"`
	NotificationsDenied bool `json:"notifications_denied"`
}

func (s *ClipboardService) Status() Status {
	return Status{
		Running:             s.running.Load(),
		Accessibility:       s.accessibility.Load(),
		NotificationsDenied: s.notificationsDenied.Load(),
	}
}

// Entries returns the full history, newest first.
func (s *ClipboardService) Entries(ctx context.Context) ([]*types.Entry, error) {
	entries, err := s.store.FetchAll(ctx)
	if err != nil {
		return nil, &ClipboardError{Op: "Entries", Message: "failed to list entries", Err: err}
	}
	return entries, nil
}

// Entry returns one entry.
func (s *ClipboardService) Entry(ctx context.Context, id string) (*types.Entry, error) {
	entry, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, &ClipboardError{Op: "Entry", ID: id, Message: "failed to retrieve entry", Err: err}
	}
	return entry, nil
}

// Image returns the canonical PNG for an image entry.
func (s *ClipboardService) Image(ctx context.Context, id string) ([]byte, error) {
	entry, err := s.Entry(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.store.LoadImage(ctx, entry)
	if err != nil {
		return nil, &ClipboardError{Op: "Image", ID: id, Message: "failed to load image", Err: err}
	}
	return data, nil
}

// List returns the entries matching filter, newest first.
func (s *ClipboardService) List(ctx context.Context, filter storage.Filter) ([]*types.Entry, error) {
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, &ClipboardError{Op: "List", Message: "failed to list entries", Err: err}
	}
	return entries, nil
}

// SourceApps counts entries per source app for the app filter.
func (s *ClipboardService) SourceApps(ctx context.Context) ([]storage.AppCount, error) {
	apps, err := s.store.SourceApps(ctx)
	if err != nil {
		return nil, &ClipboardError{Op: "SourceApps", Message: "failed to count source apps", Err: err}
	}
	return apps, nil
}

// ImagesSize returns the disk space used by stored images.
func (s *ClipboardService) ImagesSize(ctx context.Context) (int64, error) {
	n, err := s.store.ImagesSize(ctx)
	if err != nil {
		return 0, &ClipboardError{Op: "ImagesSize", Message: "failed to measure image storage", Err: err}
	}
	return n, nil
}

// Search filters the history by keyword.
func (s *ClipboardService) Search(ctx context.Context, keyword string) ([]*types.Entry, error) {
	entries, err := s.store.Search(ctx, keyword)
	if err != nil {
		return nil, &ClipboardError{Op: "Search", Message: "failed to search entries", Err: err}
	}
	return entries, nil
}

// Delete removes an entry.
func (s *ClipboardService) Delete(ctx context.Context, id string) error {
	var opErr error
	err := s.do(ctx, func(context.Context) {
		opErr = s.store.Delete(ctx, id)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return &ClipboardError{Op: "Delete", ID: id, Message: "failed to delete entry", Err: err}
	}
	s.publish(Change{Type: EntryDeleted, Entry: &types.Entry{ID: id}})
	return nil
}

// SetPinned pins or unpins an entry.
func (s *ClipboardService) SetPinned(ctx context.Context, id string, pinned bool) (*types.Entry, error) {
	var (
		entry *types.Entry
		opErr error
	)
	err := s.do(ctx, func(context.Context) {
		if opErr = s.store.SetPinned(ctx, id, pinned); opErr != nil {
			return
		}
		entry, opErr = s.store.Get(ctx, id)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return nil, &ClipboardError{Op: "SetPinned", ID: id, Message: "failed to update entry", Err: err}
	}
	s.publish(Change{Type: EntryUpdated, Entry: entry})
	return entry, nil
}

// ClearAll deletes every entry and image.
func (s *ClipboardService) ClearAll(ctx context.Context) error {
	var opErr error
	err := s.do(ctx, func(context.Context) {
		opErr = s.store.ClearAll(ctx)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return &ClipboardError{Op: "ClearAll", Message: "failed to clear history", Err: err}
	}
	s.publish(Change{Type: EntriesCleared})
	return nil
}

// SweepOrphans removes image files no entry references.
func (s *ClipboardService) SweepOrphans(ctx context.Context) (int, error) {
	var (
		removed int
		opErr   error
	)
	err := s.do(ctx, func(context.Context) {
		removed, opErr = s.store.SweepOrphans(ctx)
	})
	if err == nil {
		err = opErr
	}
	if err != nil {
		return removed, &ClipboardError{Op: "SweepOrphans", Message: "failed to sweep image directory", Err: err}
	}
	return removed, nil
}
