// Package progress prints image load progress as timestamped text lines.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/smileynet/fluffy/internal/imagecache"
	"github.com/smileynet/fluffy/internal/loader"
)

// Event is sent to a Display through a Bridge.
// Implemented by UpdateEvent, DoneEvent, and ErrorEvent.
type Event interface {
	isEvent()
}

// UpdateEvent carries one loader state change.
type UpdateEvent struct {
	Group  string
	Update loader.Update
}

// DoneEvent signals that every requested load has finished.
type DoneEvent struct{}

// ErrorEvent signals that loading was abandoned.
type ErrorEvent struct {
	Err error
}

func (UpdateEvent) isEvent() {}
func (DoneEvent) isEvent()   {}
func (ErrorEvent) isEvent()  {}

// Display renders load progress.
type Display interface {
	Run(ctx context.Context, events <-chan Event) error
}

// Options configures display creation.
type Options struct {
	Writer  io.Writer // Output destination (default: os.Stdout).
	NoColor bool      // Disable colors even on a TTY.
}

// NewDisplay returns a plain text display writing to opts.Writer. Failed
// lines are colored when the writer is a terminal.
func NewDisplay(opts Options) *PlainDisplay {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &PlainDisplay{
		w:     opts.Writer,
		color: !opts.NoColor && isTTY(opts.Writer),
		now:   time.Now,
	}
}

// isTTY reports whether w is connected to a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Bridge manages the channel between loader subscribers and a Display.
// Updates sent after Done or Error are dropped.
type Bridge struct {
	ch     chan Event
	closed chan struct{}
	once   sync.Once
}

// NewBridge creates a Bridge with a buffered event channel.
func NewBridge() *Bridge {
	return &Bridge{ch: make(chan Event, 16), closed: make(chan struct{})}
}

// Events returns the read-only channel for Display.Run to consume.
func (b *Bridge) Events() <-chan Event {
	return b.ch
}

// Send delivers an update to the display.
// It blocks if the channel buffer (16) is full.
func (b *Bridge) Send(group string, u loader.Update) {
	select {
	case <-b.closed:
		return
	default:
	}
	select {
	case b.ch <- UpdateEvent{Group: group, Update: u}:
	case <-b.closed:
	}
}

// Subscriber returns a loader subscription that forwards updates for group.
func (b *Bridge) Subscriber(group string) func(loader.Update) {
	return func(u loader.Update) { b.Send(group, u) }
}

// Done signals completion. Only the first Done or Error has an effect.
func (b *Bridge) Done() {
	b.finish(DoneEvent{})
}

// Error signals failure. Only the first Done or Error has an effect.
func (b *Bridge) Error(err error) {
	b.finish(ErrorEvent{Err: err})
}

func (b *Bridge) finish(ev Event) {
	b.once.Do(func() {
		b.ch <- ev
		close(b.closed)
	})
}

var failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

// PlainDisplay renders updates as timestamped text lines.
type PlainDisplay struct {
	w     io.Writer
	color bool
	now   func() time.Time
}

// Run loops over events, printing one line per update.
// Returns the error of an ErrorEvent, or the context error if cancelled.
func (d *PlainDisplay) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch msg := ev.(type) {
			case UpdateEvent:
				d.renderUpdate(msg)
			case DoneEvent:
				return nil
			case ErrorEvent:
				return msg.Err
			}
		}
	}
}

func (d *PlainDisplay) renderUpdate(ev UpdateEvent) {
	ts := d.now().Format("15:04:05")
	u := ev.Update
	line := fmt.Sprintf("[%s] [%s] %s %s", ts, ev.Group, u.State, u.Key.Path())

	switch u.State {
	case loader.Loaded:
		if u.Image != nil {
			size := u.Image.Bounds().Size()
			line += fmt.Sprintf(" %d×%d (%s)", size.X, size.Y, imagecache.FormatBytes(u.Image.ByteSize()))
		}
	case loader.Failed:
		if u.Err != nil {
			line += ": " + u.Err.Error()
		}
		if d.color {
			line = failedStyle.Render(line)
		}
	}
	_, _ = fmt.Fprintln(d.w, line)
}

// WriteSummary prints the occupancy of every group's cache.
func WriteSummary(w io.Writer, groups []*loader.Group) {
	for _, g := range groups {
		c := g.Cache()
		noun := "images"
		if c.Len() == 1 {
			noun = "image"
		}
		_, _ = fmt.Fprintf(w, "cache %s: %d %s, %s of %s\n",
			g.Name(), c.Len(), noun,
			imagecache.FormatBytes(c.ByteSize()), imagecache.FormatBytes(c.ByteCapacity()))
	}
}
