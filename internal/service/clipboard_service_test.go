package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pastemine/internal/blobstore"
	"pastemine/internal/clipboard"
	"pastemine/internal/notify"
	"pastemine/internal/paste"
	"pastemine/internal/settings"
	"pastemine/internal/storage"
	"pastemine/internal/storage/sqlite"
	"pastemine/pkg/types"
)

type fakePasteboard struct {
	mu    sync.Mutex
	count int
	text  string
	app   string
}

func (f *fakePasteboard) ChangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakePasteboard) Types() []string { return []string{clipboard.TypeUTF8Text} }
func (f *fakePasteboard) Image() []byte   { return nil }

func (f *fakePasteboard) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text
}

func (f *fakePasteboard) FrontmostApp() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.app
}

func (f *fakePasteboard) copy(text, app string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	f.text, f.app = text, app
}

// fakeWriter puts pasted text back on the fake pasteboard, like the real
// clipboard would.
type fakeWriter struct {
	pb      *fakePasteboard
	written []paste.Payload
}

func (w *fakeWriter) Write(p paste.Payload) error {
	w.written = append(w.written, p)
	if p.Kind == types.KindText {
		w.pb.copy(p.Text, "pastemine")
	}
	return nil
}

type fakeAuth struct{ trusted bool }

func (a fakeAuth) Trusted() bool { return a.trusted }
func (a fakeAuth) Request() bool { return a.trusted }

type fakeKeys struct{ sent *int }

func (k fakeKeys) PasteKeystroke() error {
	*k.sent++
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *fakeNotifier) Notify(ctx context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *fakeNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, note := range n.sent {
		out = append(out, note.Title)
	}
	return out
}

type testEnv struct {
	svc       *ClipboardService
	store     *sqlite.SQLiteStorage
	pb        *fakePasteboard
	writer    *fakeWriter
	notifier  *fakeNotifier
	prefs     *settings.Static
	keystroke int
	changes   []Change
	changesMu sync.Mutex
}

func setupTestService(t *testing.T, trusted bool) (*testEnv, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "pastemine-service-*")
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		pb:       &fakePasteboard{},
		notifier: &fakeNotifier{},
		prefs:    settings.NewStatic(settings.Default()),
	}
	env.writer = &fakeWriter{pb: env.pb}

	env.store, err = sqlite.New(storage.Config{
		DBPath: filepath.Join(dir, "history.db"),
		FSPath: filepath.Join(dir, "images"),
	}, env.prefs, sqlite.WithBlobStore(blobstore.NewMemoryStore()))
	if err != nil {
		t.Fatal(err)
	}

	env.svc = New(Config{
		Store:      env.store,
		Pasteboard: env.pb,
		Settings:   env.prefs,
		Notifier:   env.notifier,
		Writer:     env.writer,
		PasteOptions: []paste.Option{
			paste.WithAuthorizer(fakeAuth{trusted: trusted}),
			paste.WithKeystroker(fakeKeys{sent: &env.keystroke}),
			paste.WithDelays(0, 0),
		},
		Interval: time.Hour,
	})
	env.svc.RegisterHandler(ChangeHandlerFunc(func(c Change) {
		env.changesMu.Lock()
		env.changes = append(env.changes, c)
		env.changesMu.Unlock()
	}))

	cleanup := func() {
		env.svc.Stop()
		env.store.Close()
		os.RemoveAll(dir)
	}
	return env, cleanup
}

func (env *testEnv) changeTypes() []ChangeType {
	env.changesMu.Lock()
	defer env.changesMu.Unlock()
	var out []ChangeType
	for _, c := range env.changes {
		out = append(out, c.Type)
	}
	return out
}

func (env *testEnv) capture(t *testing.T, text string) clipboard.Result {
	t.Helper()
	env.pb.copy(text, "Notes")
	res, err := env.svc.PollNow(context.Background())
	if err != nil {
		t.Fatalf("PollNow failed: %v", err)
	}
	return res
}

// waitFor polls cond until it holds; notifications are sent asynchronously.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestService_CaptureAndList(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()
	ctx := context.Background()

	env.pb.copy("before start", "Terminal")
	if err := env.svc.Start(); err != nil {
		t.Fatal(err)
	}

	// Seeded content is not captured.
	if res, _ := env.svc.PollNow(ctx); res.Outcome != clipboard.Unchanged {
		t.Errorf("got %v, want unchanged", res.Outcome)
	}

	if res := env.capture(t, "hello"); res.Outcome != clipboard.Stored {
		t.Fatalf("got %v, want stored", res.Outcome)
	}
	if res := env.capture(t, "hello"); res.Outcome != clipboard.Same {
		t.Errorf("re-copy: got %v, want same", res.Outcome)
	}

	entries, err := env.svc.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Content != "hello" || entries[0].SourceApp != "Notes" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	waitFor(t, "capture notification", func() bool { return len(env.notifier.titles()) == 1 })
	if got := env.notifier.titles()[0]; got != "Clipboard updated" {
		t.Errorf("notification title = %q", got)
	}
	if changes := env.changeTypes(); len(changes) != 1 || changes[0] != EntryAdded {
		t.Errorf("changes = %v, want [entry_added]", changes)
	}
}

func TestService_Paste(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()
	ctx := context.Background()

	if err := env.svc.Start(); err != nil {
		t.Fatal(err)
	}
	res := env.capture(t, "snippet")
	env.capture(t, "newer")

	env.svc.ShowRequested()
	outcome, err := env.svc.Paste(ctx, res.Entry.ID)
	if err != nil {
		t.Fatalf("Paste failed: %v", err)
	}
	if outcome != paste.OutcomePasted {
		t.Errorf("outcome = %v, want pasted", outcome)
	}
	if env.keystroke != 1 {
		t.Errorf("keystrokes = %d, want 1", env.keystroke)
	}
	if len(env.writer.written) != 1 || env.writer.written[0].Text != "snippet" {
		t.Errorf("unexpected writes: %+v", env.writer.written)
	}

	// The pasted text is now on the pasteboard but must not be recaptured.
	if res, _ := env.svc.PollNow(ctx); res.Outcome != clipboard.Same {
		t.Errorf("after paste: got %v, want same", res.Outcome)
	}

	changes := env.changeTypes()
	want := []ChangeType{EntryAdded, EntryAdded, WindowHidden, EntryPasted}
	if fmt.Sprint(changes) != fmt.Sprint(want) {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func TestService_PasteWithoutAccessibility(t *testing.T) {
	env, cleanup := setupTestService(t, false)
	defer cleanup()

	if err := env.svc.Start(); err != nil {
		t.Fatal(err)
	}
	res := env.capture(t, "manual")

	outcome, err := env.svc.Paste(context.Background(), res.Entry.ID)
	if err != nil {
		t.Fatalf("Paste failed: %v", err)
	}
	if outcome != paste.OutcomeClipboardOnly {
		t.Errorf("outcome = %v, want clipboard_only", outcome)
	}
	if env.keystroke != 0 {
		t.Errorf("keystroke sent without permission")
	}
	if env.svc.Status().Accessibility {
		t.Errorf("status should report missing accessibility")
	}
}

func TestService_PasteUnknownEntry(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()

	env.svc.Start()
	_, err := env.svc.Paste(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	var cerr *ClipboardError
	if !errors.As(err, &cerr) || cerr.Op != "Paste" || cerr.ID != "missing" {
		t.Errorf("unexpected error shape: %#v", err)
	}
}

func TestService_Mutations(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()
	ctx := context.Background()

	env.svc.Start()
	a := env.capture(t, "alpha").Entry
	b := env.capture(t, "beta").Entry

	pinned, err := env.svc.SetPinned(ctx, a.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if !pinned.Pinned {
		t.Errorf("entry not pinned")
	}

	if err := env.svc.Delete(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	found, err := env.svc.Search(ctx, "ALPHA")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != a.ID {
		t.Errorf("search returned %+v", found)
	}

	if err := env.svc.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	entries, _ := env.svc.Entries(ctx)
	if len(entries) != 0 {
		t.Errorf("%d entries left after clear", len(entries))
	}

	if _, err := env.svc.SweepOrphans(ctx); err != nil {
		t.Fatal(err)
	}

	changes := env.changeTypes()
	if changes[len(changes)-1] != EntriesCleared {
		t.Errorf("last change = %v, want entries_cleared", changes[len(changes)-1])
	}
}

func TestService_NotificationGating(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()
	ctx := context.Background()
	env.svc.Start()

	if err := env.svc.ReportPermission(ctx, PermissionNotifications, false); err != nil {
		t.Fatal(err)
	}
	env.capture(t, "quiet")

	env.prefs.Update(func(s *settings.Settings) { s.NotificationsEnabled = false })
	env.svc.ReportPermission(ctx, PermissionNotifications, true)
	env.capture(t, "still quiet")

	env.prefs.Update(func(s *settings.Settings) { s.NotificationsEnabled = true })
	env.capture(t, "loud")

	waitFor(t, "notification", func() bool { return len(env.notifier.titles()) == 1 })
	env.svc.Stop()
	if n := len(env.notifier.titles()); n != 1 {
		t.Errorf("sent %d notifications, want 1", n)
	}
}

func TestService_StopIsIdempotent(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()

	env.svc.Start()
	if err := env.svc.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("restart after stop: got %v, want ErrStopped", err)
	}
	if err := env.svc.Delete(context.Background(), "x"); !errors.Is(err, ErrStopped) {
		t.Errorf("delete after stop: got %v, want ErrStopped", err)
	}
}

func TestService_ClearOnQuit(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()
	ctx := context.Background()

	env.prefs.Update(func(s *settings.Settings) { s.ClearOnQuit = true })
	env.svc.Start()
	env.capture(t, "ephemeral")

	if err := env.svc.Stop(); err != nil {
		t.Fatal(err)
	}
	entries, err := env.store.FetchAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("history not cleared on quit: %d entries", len(entries))
	}
}

func TestService_InlineBeforeStart(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()
	ctx := context.Background()

	res, err := env.store.InsertText(ctx, "from cli", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.svc.Delete(ctx, res.Entry.ID); err != nil {
		t.Fatalf("Delete before Start failed: %v", err)
	}
}

func TestClipboardError(t *testing.T) {
	err := &ClipboardError{Op: "Delete", ID: "abc", Message: "failed to delete entry", Err: storage.ErrNotFound}
	if got := err.Error(); got != "Delete failed for abc: failed to delete entry: entry not found" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ClipboardError should unwrap")
	}
}

// countingPasteboard records every change-count read, which is the first
// thing each tick does.
type countingPasteboard struct {
	fakePasteboard
	reads atomic.Int64
}

func (c *countingPasteboard) ChangeCount() int {
	c.reads.Add(1)
	return c.fakePasteboard.ChangeCount()
}

func TestService_NoTicksAfterStop(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()

	pb := &countingPasteboard{}
	svc := New(Config{
		Store:        env.store,
		Pasteboard:   pb,
		Settings:     env.prefs,
		Notifier:     env.notifier,
		Writer:       env.writer,
		PasteOptions: []paste.Option{paste.WithAuthorizer(fakeAuth{trusted: true}), paste.WithKeystroker(fakeKeys{sent: &env.keystroke})},
		Interval:     time.Millisecond,
	})
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "ticks", func() bool { return pb.reads.Load() >= 5 })

	if err := svc.Stop(); err != nil {
		t.Fatal(err)
	}
	after := pb.reads.Load()
	time.Sleep(50 * time.Millisecond)
	if n := pb.reads.Load(); n != after {
		t.Errorf("pasteboard polled %d more times after Stop returned", n-after)
	}
}

func TestService_ReportedAccessibilityDenial(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()
	ctx := context.Background()

	env.svc.Start()
	res := env.capture(t, "gated")

	if err := env.svc.ReportPermission(ctx, PermissionAccessibility, false); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "denial applied", func() bool { return !env.svc.Status().Accessibility })

	outcome, err := env.svc.Paste(ctx, res.Entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != paste.OutcomeClipboardOnly || env.keystroke != 0 {
		t.Errorf("denied paste: outcome %v, %d keystrokes", outcome, env.keystroke)
	}

	env.svc.ReportPermission(ctx, PermissionAccessibility, true)
	waitFor(t, "grant applied", func() bool { return env.svc.Status().Accessibility })

	outcome, err = env.svc.Paste(ctx, res.Entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != paste.OutcomePasted || env.keystroke != 1 {
		t.Errorf("granted paste: outcome %v, %d keystrokes", outcome, env.keystroke)
	}
}

func TestService_AppFilterAndImageSize(t *testing.T) {
	env, cleanup := setupTestService(t, true)
	defer cleanup()
	ctx := context.Background()

	env.svc.Start()
	env.capture(t, "from notes")
	env.pb.copy("from terminal", "Terminal")
	env.svc.PollNow(ctx)
	env.capture(t, "notes again")

	apps, err := env.svc.SourceApps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []storage.AppCount{{App: "Notes", Count: 2}, {App: "Terminal", Count: 1}}
	if fmt.Sprint(apps) != fmt.Sprint(want) {
		t.Errorf("SourceApps = %v, want %v", apps, want)
	}

	entries, err := env.svc.List(ctx, storage.Filter{SourceApp: "Terminal"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Content != "from terminal" {
		t.Errorf("List(Terminal) = %+v", entries)
	}

	if n, err := env.svc.ImagesSize(ctx); err != nil || n != 0 {
		t.Errorf("ImagesSize = %d, %v; want 0 with no images", n, err)
	}
}
