package paste

import (
	"fmt"
	"sync"

	"golang.design/x/clipboard"

	"pastemine/pkg/types"
)

// SystemWriter writes to the OS clipboard.
type SystemWriter struct {
	once sync.Once
	err  error
}

// NewSystemWriter returns a writer. clipboard.Init runs on first use so
// that CLI sub-commands don't need a display.
func NewSystemWriter() *SystemWriter {
	return &SystemWriter{}
}

func (w *SystemWriter) Write(p Payload) error {
	w.once.Do(func() {
		w.err = clipboard.Init()
	})
	if w.err != nil {
		return fmt.Errorf("clipboard unavailable: %w", w.err)
	}

	switch p.Kind {
	case types.KindImage:
		clipboard.Write(clipboard.FmtImage, p.PNG)
	default:
		clipboard.Write(clipboard.FmtText, []byte(p.Text))
	}
	return nil
}
