package browser

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/smileynet/fluffy/internal/config"
	"github.com/smileynet/fluffy/internal/decode"
	"github.com/smileynet/fluffy/internal/imagecache"
	"github.com/smileynet/fluffy/internal/loader"
	"github.com/smileynet/fluffy/internal/session"
)

var errUndecodable = errors.New("undecodable")

// solid returns an opaque w×h image of c.
func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// fakeDecoder decodes every key to a small image except keys ending in .bad.
type fakeDecoder struct {
	calls atomic.Int32
}

func (d *fakeDecoder) Decode(_ context.Context, key imagecache.Key) (*imagecache.Image, error) {
	d.calls.Add(1)
	if key.Ext() == ".bad" {
		return nil, errUndecodable
	}
	return imagecache.NewImage(solid(16, 8, color.NRGBA{R: 200, A: 255})), nil
}

func (d *fakeDecoder) Generate(ctx context.Context, key imagecache.Key, size image.Point) (*imagecache.Image, error) {
	return d.Decode(ctx, key)
}

// gate blocks every decode and thumbnail until released. It counts calls
// by requested size; full decodes count under the zero size.
type gate struct {
	started chan imagecache.Key
	release chan struct{}

	mu    sync.Mutex
	calls map[image.Point]int
}

func newGate() *gate {
	return &gate{
		started: make(chan imagecache.Key, 8),
		release: make(chan struct{}),
		calls:   make(map[image.Point]int),
	}
}

func (g *gate) Decode(ctx context.Context, key imagecache.Key) (*imagecache.Image, error) {
	return g.Generate(ctx, key, image.Point{})
}

func (g *gate) Generate(ctx context.Context, key imagecache.Key, size image.Point) (*imagecache.Image, error) {
	g.mu.Lock()
	g.calls[size]++
	g.mu.Unlock()
	select {
	case g.started <- key:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return imagecache.NewImage(solid(8, 8, color.NRGBA{G: 200, A: 255})), nil
}

func (g *gate) count(size image.Point) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[size]
}

// waitStarted waits until n calls have reached the gate.
func (g *gate) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-g.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d calls started", i, n)
		}
	}
}

// headerGate is a gate that reads real file headers.
type headerGate struct {
	*gate
}

func (headerGate) Config(key imagecache.Key) (image.Config, string, error) {
	return decode.File{}.Config(key)
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, solid(w, h, color.NRGBA{R: 10, A: 255})); err != nil {
		t.Fatal(err)
	}
}

type fakeIcons struct{}

func (fakeIcons) Icon(_ imagecache.Key, size image.Point) *imagecache.Image {
	return imagecache.NewImage(solid(size.X, size.Y, color.NRGBA{B: 200, A: 255}))
}

type testEnv struct {
	registry *loader.Registry
	decoder  *fakeDecoder
}

func fileKeys(names ...string) []imagecache.Key {
	keys := make([]imagecache.Key, len(names))
	for i, n := range names {
		keys[i] = imagecache.MustKey("/photos/" + n)
	}
	return keys
}

func numberedFiles(n int) []imagecache.Key {
	names := make([]string, n)
	for i := range names {
		names[i] = "img" + string(rune('a'+i/26)) + string(rune('a'+i%26)) + ".png"
	}
	return fileKeys(names...)
}

func newTestModel(t *testing.T, files []imagecache.Key, state session.State) (Model, *testEnv) {
	t.Helper()
	dec := &fakeDecoder{}
	m, env := newTestModelWith(t, files, state, dec, dec)
	env.decoder = dec
	return m, env
}

func newTestModelWith(t *testing.T, files []imagecache.Key, state session.State, dec loader.Decoder, gen loader.ThumbnailGenerator) (Model, *testEnv) {
	t.Helper()
	reg := loader.NewRegistry()
	t.Cleanup(reg.Close)

	m := NewModel(Options{
		Config:    config.DefaultConfig(),
		Registry:  reg,
		Files:     files,
		Decoder:   dec,
		Generator: gen,
		Icons:     fakeIcons{},
		Session:   state,
	})
	t.Cleanup(m.Close)
	return m, &testEnv{registry: reg}
}

func resize(m Model, w, h int) Model {
	updated, _ := m.Update(tea.WindowSizeMsg{Width: w, Height: h})
	return updated.(Model)
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "pgdown":
			msg = tea.KeyMsg{Type: tea.KeyPgDown}
		case "pgup":
			msg = tea.KeyMsg{Type: tea.KeyPgUp}
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		updated, _ := m.Update(msg)
		m = updated.(Model)
	}
	return m
}

// drain waits for every group queue to empty, then feeds the pending loader
// updates to the model.
func drain(t *testing.T, m Model) Model {
	t.Helper()
	for _, g := range m.registry.Groups() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := g.Sync(ctx)
		cancel()
		if err != nil {
			t.Fatalf("Sync(%s) error = %v", g.Name(), err)
		}
	}
	for {
		select {
		case u := <-m.pump.updates:
			updated, _ := m.Update(u)
			m = updated.(Model)
		default:
			return m
		}
	}
}

// stripANSI removes ANSI escape sequences from a string.
func stripANSI(s string) string {
	var out []byte
	i := 0
	for i < len(s) {
		if s[i] == '\x1b' && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 'A' || s[j] > 'Z') && (s[j] < 'a' || s[j] > 'z') {
				j++
			}
			if j < len(s) {
				j++
			}
			i = j
		} else {
			out = append(out, s[i])
			i++
		}
	}
	return string(out)
}

// containsPlainText checks if s contains sub after stripping ANSI escapes.
func containsPlainText(s, sub string) bool {
	return strings.Contains(stripANSI(s), sub)
}
