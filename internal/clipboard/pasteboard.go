package clipboard

// Pasteboard type identifiers the poller inspects.
const (
	TypePNG       = "public.png"
	TypeTIFF      = "public.tiff"
	TypeUTF8Text  = "public.utf8-plain-text"
	TypeFileURL   = "public.file-url"
	TypeConcealed = "org.nspasteboard.ConcealedType"
)

// Pasteboard is the system clipboard as seen by the poller.
type Pasteboard interface {
	// ChangeCount is a token that changes whenever the clipboard contents
	// change. Reading it must be cheap.
	ChangeCount() int

	// Types lists the type identifiers currently on the pasteboard.
	Types() []string

	// Image returns raw image bytes, or nil when no image is present.
	Image() []byte

	// Text returns the plain text contents, or "".
	Text() string

	// FrontmostApp names the application in front right now.
	FrontmostApp() string
}

// Headless is a Pasteboard for environments without a display server. It
// never reports a change.
type Headless struct{}

func (Headless) ChangeCount() int     { return 0 }
func (Headless) Types() []string      { return nil }
func (Headless) Image() []byte        { return nil }
func (Headless) Text() string         { return "" }
func (Headless) FrontmostApp() string { return "" }
