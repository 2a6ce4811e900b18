package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/cobra"

	"pastemine/internal/storage"
	"pastemine/pkg/types"
)

type fakeSource struct {
	entries []*types.Entry
	filters []storage.Filter
}

func (f *fakeSource) List(ctx context.Context, filter storage.Filter) ([]*types.Entry, error) {
	f.filters = append(f.filters, filter)
	var out []*types.Entry
	for _, e := range f.entries {
		if filter.Keyword != "" && !strings.Contains(e.Content, filter.Keyword) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func newSimScreen(t *testing.T) tcell.SimulationScreen {
	t.Helper()
	s := tcell.NewSimulationScreen("UTF-8")
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	s.SetSize(80, 20)
	return s
}

func testEntries() []*types.Entry {
	return []*types.Entry{
		{ID: "e3", Kind: types.KindText, Content: "third foo"},
		{ID: "e2", Kind: types.KindText, Content: "second"},
		{ID: "e1", Kind: types.KindText, Content: "first foo", Pinned: true},
	}
}

// row returns the text drawn on line y.
func row(s tcell.SimulationScreen, y int) string {
	cells, w, _ := s.GetContents()
	var b strings.Builder
	for x := 0; x < w; x++ {
		if r := cells[y*w+x].Runes; len(r) > 0 {
			b.WriteRune(r[0])
		}
	}
	return b.String()
}

func TestPicker_Navigate(t *testing.T) {
	s := newSimScreen(t)
	src := &fakeSource{entries: testEntries()}

	s.InjectKey(tcell.KeyRune, 'j', tcell.ModNone)
	s.InjectKey(tcell.KeyRune, 'j', tcell.ModNone)
	s.InjectKey(tcell.KeyRune, 'k', tcell.ModNone)
	s.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)

	got, err := newPicker(src, s, "").Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "e2" {
		t.Errorf("picked %+v, want e2", got)
	}
}

func TestPicker_TopBottom(t *testing.T) {
	s := newSimScreen(t)
	src := &fakeSource{entries: testEntries()}

	s.InjectKey(tcell.KeyRune, 'G', tcell.ModNone)
	s.InjectKey(tcell.KeyDown, 0, tcell.ModNone)
	s.InjectKey(tcell.KeyCtrlV, 0, tcell.ModCtrl)

	got, err := newPicker(src, s, "").Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "e1" {
		t.Errorf("picked %+v, want e1", got)
	}
}

func TestPicker_Search(t *testing.T) {
	s := newSimScreen(t)
	src := &fakeSource{entries: testEntries()}

	s.InjectKey(tcell.KeyRune, '/', tcell.ModNone)
	for _, r := range "foo" {
		s.InjectKey(tcell.KeyRune, r, tcell.ModNone)
	}
	s.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)
	s.InjectKey(tcell.KeyRune, 'j', tcell.ModNone)
	s.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)

	got, err := newPicker(src, s, "Terminal").Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "e1" {
		t.Errorf("picked %+v, want e1", got)
	}
	last := src.filters[len(src.filters)-1]
	if last.Keyword != "foo" || last.SourceApp != "Terminal" {
		t.Errorf("last filter = %+v", last)
	}
}

func TestPicker_SearchBackspace(t *testing.T) {
	p := newPicker(&fakeSource{entries: testEntries()}, newSimScreen(t), "")
	ctx := context.Background()
	for _, r := range "fox" {
		p.searchKey(ctx, tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone))
	}
	p.searchKey(ctx, tcell.NewEventKey(tcell.KeyBackspace2, 0, tcell.ModNone))
	if string(p.searchText) != "fo" {
		t.Errorf("search text = %q", string(p.searchText))
	}
	if err := p.searchKey(ctx, tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)); err != nil {
		t.Fatal(err)
	}
	if p.searchMode || p.query != "" || len(p.entries) != 3 {
		t.Errorf("escape did not reset the search: mode=%v query=%q entries=%d", p.searchMode, p.query, len(p.entries))
	}
}

func TestPicker_Quit(t *testing.T) {
	for _, key := range []struct {
		key tcell.Key
		r   rune
	}{
		{tcell.KeyEscape, 0},
		{tcell.KeyRune, 'q'},
	} {
		s := newSimScreen(t)
		s.InjectKey(key.key, key.r, tcell.ModNone)

		got, err := newPicker(&fakeSource{entries: testEntries()}, s, "").Run(context.Background())
		if err != nil || got != nil {
			t.Errorf("quit with %v/%q = %+v, %v", key.key, key.r, got, err)
		}
	}
}

func TestPicker_EmptyHistory(t *testing.T) {
	s := newSimScreen(t)
	p := newPicker(&fakeSource{}, s, "")
	if err := p.load(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	p.draw()
	if !strings.Contains(row(s, 3), "No entries.") {
		t.Errorf("row 3 = %q", row(s, 3))
	}

	// Enter on an empty list does nothing; Esc still quits.
	s.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)
	s.InjectKey(tcell.KeyEscape, 0, tcell.ModNone)
	got, err := p.Run(context.Background())
	if err != nil || got != nil {
		t.Errorf("got %+v, %v", got, err)
	}
}

func TestPicker_Draw(t *testing.T) {
	s := newSimScreen(t)
	p := newPicker(&fakeSource{entries: testEntries()}, s, "")
	if err := p.load(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	p.move(2)
	p.draw()

	if !strings.Contains(row(s, 0), "Clipboard History") {
		t.Errorf("header = %q", row(s, 0))
	}
	if got := row(s, 5); !strings.HasPrefix(got, "* text") || !strings.Contains(got, "first foo") {
		t.Errorf("pinned row = %q", got)
	}
	if !strings.Contains(row(s, 19), "3/3") {
		t.Errorf("footer = %q", row(s, 19))
	}
}

func TestRunPick_PastesThroughDaemon(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/window/show":
			w.WriteHeader(http.StatusNoContent)
		case "/api/entries":
			json.NewEncoder(w).Encode(testEntries())
		case "/api/entries/e3/paste":
			json.NewEncoder(w).Encode(map[string]string{"outcome": "pasted"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	s := newSimScreen(t)
	s.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)

	cmd := &cobra.Command{}
	var out strings.Builder
	cmd.SetOut(&out)
	client := &apiClient{base: ts.URL, http: ts.Client()}
	if err := runPick(context.Background(), cmd, client, s, ""); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"POST /api/window/show", "GET /api/entries", "POST /api/entries/e3/paste"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if out.String() != "pasted e3\n" {
		t.Errorf("output = %q", out.String())
	}
}
