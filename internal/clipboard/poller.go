// Package clipboard detects pasteboard changes and hands new content to the
// history store.
package clipboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pastemine/internal/blobstore"
	"pastemine/internal/digest"
	"pastemine/internal/settings"
	"pastemine/internal/storage"
	"pastemine/pkg/types"
)

// DefaultInterval is how often the pasteboard change count is sampled.
const DefaultInterval = 500 * time.Millisecond

// Sink receives confirmed clipboard changes.
type Sink interface {
	InsertText(ctx context.Context, content, sourceApp string) (storage.InsertResult, error)
	InsertImage(ctx context.Context, pixelData []byte, sourceApp string) (storage.InsertResult, error)
}

// Outcome says what a single poll did.
type Outcome int

const (
	// Unchanged: the change count did not move.
	Unchanged Outcome = iota
	// Unsupported: the pasteboard holds nothing we record.
	Unsupported
	// Same: the content hash equals the last one seen.
	Same
	// Ignored: the source app or a pasteboard type is on the ignore list.
	Ignored
	// Stored: a new entry was created.
	Stored
	// Duplicate: the store already had this content.
	Duplicate
	// TooLarge: the image exceeded the size ceiling.
	TooLarge
	// Failed: the store returned an error.
	Failed
)

var outcomeNames = [...]string{"unchanged", "unsupported", "same", "ignored", "stored", "duplicate", "too_large", "failed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Result of one Poll.
type Result struct {
	Outcome Outcome
	Capture *types.Capture
	Entry   *types.Entry
	Err     error
}

// Poller samples a Pasteboard. It has no timer of its own; the owner calls
// Poll on every tick.
type Poller struct {
	pb       Pasteboard
	sink     Sink
	settings settings.Provider
	now      func() time.Time

	mu        sync.Mutex
	lastCount int
	lastHash  string
	handler   func(*types.Entry)
}

// NewPoller creates a poller.
func NewPoller(pb Pasteboard, sink Sink, prefs settings.Provider) *Poller {
	return &Poller{
		pb:       pb,
		sink:     sink,
		settings: prefs,
		now:      time.Now,
	}
}

// OnChange registers a callback for newly stored entries.
func (p *Poller) OnChange(handler func(*types.Entry)) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Seed records what is already on the pasteboard so it is not captured.
func (p *Poller) Seed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastCount = p.pb.ChangeCount()
	if c, ok := p.classify(); ok {
		p.lastHash = c.Hash
		slog.Debug("seeded clipboard state without saving", "kind", c.Kind)
	}
}

// Acknowledge marks hash as seen, so content the app itself writes to the
// pasteboard is not captured again.
func (p *Poller) Acknowledge(hash string) {
	p.mu.Lock()
	p.lastHash = hash
	p.mu.Unlock()
}

// LastHash returns the hash of the most recently classified content.
func (p *Poller) LastHash() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHash
}

// Poll runs one tick.
func (p *Poller) Poll(ctx context.Context) Result {
	p.mu.Lock()
	count := p.pb.ChangeCount()
	if count == p.lastCount {
		p.mu.Unlock()
		return Result{Outcome: Unchanged}
	}
	slog.Debug("clipboard change detected", "from", p.lastCount, "to", count)
	p.lastCount = count

	capture, ok := p.classify()
	if !ok {
		p.mu.Unlock()
		return Result{Outcome: Unsupported}
	}
	if capture.Hash == p.lastHash {
		p.mu.Unlock()
		return Result{Outcome: Same, Capture: capture}
	}
	p.lastHash = capture.Hash
	handler := p.handler
	p.mu.Unlock()

	capture.SourceApp = p.pb.FrontmostApp()

	prefs := p.settings.Current()
	if prefs.IsIgnoredApp(capture.SourceApp) {
		slog.Debug("ignoring copy from excluded app", "app", capture.SourceApp)
		return Result{Outcome: Ignored, Capture: capture}
	}
	if t, ignored := prefs.IgnoredType(capture.Types); ignored {
		slog.Debug("ignoring copy with excluded pasteboard type", "type", t)
		return Result{Outcome: Ignored, Capture: capture}
	}

	res := p.submit(ctx, capture)
	if res.Outcome == Stored && handler != nil {
		handler(res.Entry)
	}
	return res
}

func (p *Poller) submit(ctx context.Context, c *types.Capture) Result {
	var (
		ins storage.InsertResult
		err error
	)
	switch c.Kind {
	case types.KindImage:
		ins, err = p.sink.InsertImage(ctx, c.Image, c.SourceApp)
	default:
		ins, err = p.sink.InsertText(ctx, c.Text, c.SourceApp)
	}

	res := Result{Capture: c, Entry: ins.Entry, Err: err}
	switch {
	case errors.Is(err, blobstore.ErrSizeLimitExceeded):
		slog.Info("image too large to record", "bytes", len(c.Image), "source", c.SourceApp)
		res.Outcome = TooLarge
	case err != nil && ins.Entry == nil:
		slog.Error("failed to store clipboard content", "kind", c.Kind, "err", err)
		res.Outcome = Failed
	case ins.Status == storage.Duplicate:
		slog.Debug("clipboard content already in history", "id", ins.Entry.ID)
		res.Outcome = Duplicate
	default:
		if err != nil {
			slog.Warn("stored clipboard content but retention sweep failed", "id", ins.Entry.ID, "err", err)
		}
		slog.Info("stored new clipboard content", "kind", c.Kind, "source", c.SourceApp, "evicted", ins.Evicted)
		res.Outcome = Stored
	}
	return res
}

// classify reads the pasteboard, images before text. Callers hold p.mu.
func (p *Poller) classify() (*types.Capture, bool) {
	c := &types.Capture{Types: p.pb.Types(), At: p.now()}

	if raw := p.pb.Image(); len(raw) > 0 {
		maxSize := p.settings.Current().MaxImageSize
		if maxSize > 0 && int64(len(raw)) > maxSize {
			// Not worth decoding; the store will refuse it anyway.
			c.Kind, c.Image, c.Hash = types.KindImage, raw, digest.Bytes(raw)
			return c, true
		}
		hash, _, err := digest.Image(raw)
		if err == nil {
			c.Kind, c.Image, c.Hash = types.KindImage, raw, hash
			return c, true
		}
		slog.Debug("pasteboard image could not be decoded, trying text", "err", err)
	}

	if text := p.pb.Text(); text != "" {
		c.Kind, c.Text, c.Hash = types.KindText, text, digest.Text(text)
		return c, true
	}
	return nil, false
}
