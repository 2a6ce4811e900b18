package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pastemine/internal/server"
	"pastemine/internal/storage"
	"pastemine/pkg/types"
)

// pickSource is the part of the daemon API the picker uses.
type pickSource interface {
	List(ctx context.Context, filter storage.Filter) ([]*types.Entry, error)
}

// picker is a full-screen history browser. Run returns the chosen entry.
type picker struct {
	src        pickSource
	screen     tcell.Screen
	app        string
	entries    []*types.Entry
	selected   int
	offset     int
	searchMode bool
	searchText []rune
	query      string
}

func newPicker(src pickSource, screen tcell.Screen, app string) *picker {
	screen.SetStyle(tcell.StyleDefault.
		Background(tcell.ColorReset).
		Foreground(tcell.ColorReset))
	return &picker{src: src, screen: screen, app: app}
}

// Run shows the history until the user picks an entry or quits. A nil
// entry means the user quit.
func (p *picker) Run(ctx context.Context) (*types.Entry, error) {
	defer p.screen.Fini()

	if err := p.load(ctx, ""); err != nil {
		return nil, err
	}

	for {
		p.draw()

		switch ev := p.screen.PollEvent().(type) {
		case nil:
			return nil, nil
		case *tcell.EventResize:
			p.screen.Sync()
		case *tcell.EventKey:
			if p.searchMode {
				if err := p.searchKey(ctx, ev); err != nil {
					return nil, err
				}
				continue
			}

			switch ev.Key() {
			case tcell.KeyEscape, tcell.KeyCtrlC:
				return nil, nil
			case tcell.KeyUp, tcell.KeyCtrlP:
				p.move(-1)
			case tcell.KeyDown, tcell.KeyCtrlN:
				p.move(1)
			case tcell.KeyHome, tcell.KeyCtrlA:
				p.jump(0)
			case tcell.KeyEnd, tcell.KeyCtrlE:
				p.jump(len(p.entries) - 1)
			case tcell.KeyPgUp:
				p.move(-10)
			case tcell.KeyPgDn:
				p.move(10)
			case tcell.KeyEnter, tcell.KeyCtrlV:
				if len(p.entries) > 0 {
					return p.entries[p.selected], nil
				}
			case tcell.KeyRune:
				switch ev.Rune() {
				case 'j':
					p.move(1)
				case 'k':
					p.move(-1)
				case 'g':
					p.jump(0)
				case 'G':
					p.jump(len(p.entries) - 1)
				case '/':
					p.searchMode = true
					p.searchText = []rune(p.query)
				case 'q':
					return nil, nil
				}
			}
		}
	}
}

func (p *picker) searchKey(ctx context.Context, ev *tcell.EventKey) error {
	switch ev.Key() {
	case tcell.KeyEscape:
		p.searchMode = false
		p.searchText = nil
		return p.load(ctx, "")
	case tcell.KeyEnter:
		p.searchMode = false
		return p.load(ctx, string(p.searchText))
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(p.searchText) > 0 {
			p.searchText = p.searchText[:len(p.searchText)-1]
		}
	case tcell.KeyRune:
		p.searchText = append(p.searchText, ev.Rune())
	}
	return nil
}

func (p *picker) load(ctx context.Context, query string) error {
	entries, err := p.src.List(ctx, storage.Filter{Keyword: query, SourceApp: p.app})
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	p.entries = entries
	p.query = query
	p.selected = 0
	p.offset = 0
	return nil
}

func (p *picker) jump(i int) {
	p.move(i - p.selected)
}

func (p *picker) move(delta int) {
	p.selected += delta
	if p.selected >= len(p.entries) {
		p.selected = len(p.entries) - 1
	}
	if p.selected < 0 {
		p.selected = 0
	}

	visible := p.visibleRows()
	if p.selected-p.offset >= visible {
		p.offset = p.selected - visible + 1
	} else if p.selected < p.offset {
		p.offset = p.selected
	}
}

// visibleRows excludes the header, help, search and footer lines.
func (p *picker) visibleRows() int {
	_, height := p.screen.Size()
	if rows := height - 5; rows > 0 {
		return rows
	}
	return 1
}

func (p *picker) draw() {
	p.screen.Clear()
	width, height := p.screen.Size()

	title := " Clipboard History "
	if p.app != "" {
		title = fmt.Sprintf(" Clipboard History: %s ", p.app)
	}
	drawStringCenter(p.screen, 0, title, tcell.StyleDefault.Reverse(true))

	help := "↑/k:Up  ↓/j:Down  Enter:Paste  g/G:Top/Bottom  /:Search  Esc/q:Quit"
	drawStringCenter(p.screen, 1, help, tcell.StyleDefault.Foreground(tcell.ColorYellow))

	switch {
	case p.searchMode:
		drawString(p.screen, 0, 2, fmt.Sprintf(" Search: %s█", string(p.searchText)), tcell.StyleDefault.Reverse(true))
	case p.query != "":
		drawString(p.screen, 0, 2, fmt.Sprintf(" Results for %q (/ to change, Esc in search to reset)", p.query), tcell.StyleDefault)
	default:
		drawString(p.screen, 0, 2, strings.Repeat("─", width), tcell.StyleDefault)
	}

	if len(p.entries) == 0 {
		drawString(p.screen, 1, 3, "No entries.", tcell.StyleDefault.Dim(true))
	}

	end := min(p.offset+p.visibleRows(), len(p.entries))
	for i, e := range p.entries[p.offset:end] {
		style := tcell.StyleDefault
		if i+p.offset == p.selected {
			style = style.Reverse(true)
		}
		marker := " "
		if e.Pinned {
			marker = "*"
		}
		line := fmt.Sprintf("%s %-5s  %s", marker, e.Kind, oneLine(e.Preview()))
		drawString(p.screen, 0, i+3, runewidth.Truncate(line, width, "..."), style)
	}

	if len(p.entries) > 0 {
		status := fmt.Sprintf(" %d/%d ", p.selected+1, len(p.entries))
		drawString(p.screen, width-runewidth.StringWidth(status), height-1, status, tcell.StyleDefault)
	}

	p.screen.Show()
}

func drawString(s tcell.Screen, x, y int, str string, style tcell.Style) {
	for _, r := range str {
		s.SetContent(x, y, r, nil, style)
		x += runewidth.RuneWidth(r)
	}
}

func drawStringCenter(s tcell.Screen, y int, str string, style tcell.Style) {
	w, _ := s.Size()
	drawString(s, max((w-runewidth.StringWidth(str))/2, 0), y, str, style)
}

func newPickCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Browse the history in the terminal and paste the chosen entry",
		Long: `Opens a full-screen picker over the running daemon's history.
Enter (or Ctrl-V) pastes the selected entry into the app that was in front
when the picker opened; / searches; Esc or q quits without pasting.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolveLogging(false, "auto", "warn")
			pid, err := server.RunningPID(pathsFrom(v).pid)
			if err != nil {
				return err
			}
			if pid == 0 {
				return errors.New(`pastemine is not running; start it with "pastemine serve"`)
			}

			screen, err := tcell.NewScreen()
			if err != nil {
				return fmt.Errorf("failed to create screen: %w", err)
			}
			if err := screen.Init(); err != nil {
				return fmt.Errorf("failed to initialize screen: %w", err)
			}
			return runPick(context.Background(), cmd, newAPIClient(v.GetInt("port")), screen, v.GetString("app"))
		},
	}
	cmd.Flags().String("app", "", "only entries copied from this app")
	addHistoryFlags(cmd)
	return cmd
}

// runPick shows the picker on an initialised screen and pastes the choice.
func runPick(ctx context.Context, cmd *cobra.Command, client *apiClient, screen tcell.Screen, app string) error {
	if err := client.ShowWindow(ctx); err != nil {
		slog.Warn("daemon did not record the frontmost app", "err", err)
	}

	entry, err := newPicker(client, screen, app).Run(ctx)
	if err != nil || entry == nil {
		return err
	}

	outcome, err := client.Paste(ctx, entry.ID)
	if err != nil {
		return fmt.Errorf("paste %s: %w", entry.ID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", outcome, entry.ID)
	return nil
}
