package browser

import (
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/smileynet/fluffy/internal/config"
	"github.com/smileynet/fluffy/internal/imagecache"
	"github.com/smileynet/fluffy/internal/loader"
	"github.com/smileynet/fluffy/internal/session"
)

// helpBarHeight is the number of lines reserved for the help bar at the bottom.
const helpBarHeight = 1

// borderChrome is the number of lines consumed by top + bottom borders.
const borderChrome = 2

// iconStep is the icon size change per +/- key press.
const iconStep = 20

// Options configures a browser Model.
type Options struct {
	Config    config.Config
	Registry  *loader.Registry
	Files     []imagecache.Key
	Decoder   loader.Decoder            // Full images for the inspector.
	Generator loader.ThumbnailGenerator // Collection thumbnails.
	Icons     loader.IconFallback       // Thumbnail fallback.
	Session   session.State             // Restored preferences; zero uses defaults.
	Logger    logrus.FieldLogger
}

// headerReader reads image dimensions and format without decoding pixels.
// decode.File implements it.
type headerReader interface {
	Config(key imagecache.Key) (image.Config, string, error)
}

// pump moves loader updates from group workers into the Bubble Tea loop.
type pump struct {
	updates chan updateMsg
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	seq int
}

func (p *pump) next() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return p.seq
}

// forward returns a subscriber that delivers updates tagged with seq.
// It gives up once the browser has shut down so workers never block on a
// dead UI.
func (p *pump) forward(seq int, group string) func(loader.Update) {
	return func(u loader.Update) {
		select {
		case p.updates <- updateMsg{seq: seq, group: group, update: u}:
		case <-p.done:
		}
	}
}

// wait returns a command that blocks until the next update.
func (p *pump) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-p.updates:
			return u
		case <-p.done:
			return closedMsg{}
		}
	}
}

func (p *pump) close() {
	p.once.Do(func() { close(p.done) })
}

// Model is the root Bubble Tea model for the image browser.
type Model struct {
	cfg       config.Config
	registry  *loader.Registry
	files     []imagecache.Key
	decoder   loader.Decoder
	generator loader.ThumbnailGenerator
	icons     loader.IconFallback
	log       logrus.FieldLogger

	mode     session.Mode
	iconSize int
	cursor   int
	offset   int // first visible line of the collection

	thumbs     map[imagecache.Key]*entry
	thumbGroup string
	detail     *entry
	header     string // dimensions and format of the detail file

	pump    *pump
	keys    keyMap
	spinner spinner.Model
	help    help.Model
	width   int
	height  int
}

// NewModel creates a browser over opts.Files. The session, when set,
// restores the layout, icon size and selected file.
func NewModel(opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	log := opts.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	m := Model{
		cfg:       opts.Config,
		registry:  opts.Registry,
		files:     append([]imagecache.Key(nil), opts.Files...),
		decoder:   opts.Decoder,
		generator: opts.Generator,
		icons:     opts.Icons,
		log:       log,
		mode:      session.ModeList,
		iconSize:  opts.Config.Thumbnails.IconSize,
		thumbs:    make(map[imagecache.Key]*entry),
		pump: &pump{
			updates: make(chan updateMsg, 64),
			done:    make(chan struct{}),
		},
		keys:    KeyMap(),
		spinner: s,
		help:    help.New(),
	}

	if opts.Session.Mode == session.ModeIcons {
		m.mode = session.ModeIcons
	}
	if opts.Session.IconSize > 0 {
		m.iconSize = opts.Config.ClampIconSize(opts.Session.IconSize)
	}
	if opts.Session.LastFile != "" {
		for i, k := range m.files {
			if k.Path() == opts.Session.LastFile {
				m.cursor = i
				break
			}
		}
	}
	return m
}

// Init starts the spinner and the update pump.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.pump.wait())
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.scrollToCursor()
		m.refresh()
		m.loadDetail()
		return m, nil

	case updateMsg:
		m.apply(msg)
		return m, m.pump.wait()

	case closedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	perRow, lines := m.grid()

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-perRow)
	case key.Matches(msg, m.keys.Down):
		m.moveCursor(perRow)
	case key.Matches(msg, m.keys.PageUp):
		m.moveCursor(-perRow * lines)
	case key.Matches(msg, m.keys.PageDown):
		m.moveCursor(perRow * lines)

	case key.Matches(msg, m.keys.Layout):
		if m.mode == session.ModeList {
			m.mode = session.ModeIcons
		} else {
			m.mode = session.ModeList
		}
		m.switchGroups()

	case key.Matches(msg, m.keys.Bigger):
		m.resizeIcons(m.iconSize + iconStep)
	case key.Matches(msg, m.keys.Smaller):
		m.resizeIcons(m.iconSize - iconStep)

	case key.Matches(msg, m.keys.Reload):
		m.registry.ClearAll()
		m.dropThumbs()
		m.refresh()
		m.closeDetail()
		m.loadDetail()
	}

	return m, nil
}

func (m *Model) moveCursor(delta int) {
	if len(m.files) == 0 {
		return
	}
	c := min(max(m.cursor+delta, 0), len(m.files)-1)
	if c == m.cursor {
		return
	}
	m.cursor = c
	m.scrollToCursor()
	m.refresh()
	m.loadDetail()
}

func (m *Model) resizeIcons(size int) {
	if m.mode != session.ModeIcons {
		return
	}
	size = m.cfg.ClampIconSize(size)
	if size == m.iconSize {
		return
	}
	m.iconSize = size
	m.switchGroups()
}

// switchGroups reloads the collection after a layout or icon size change.
// Every group but the new collection group and the detail group is
// cleared.
func (m *Model) switchGroups() {
	if m.registry == nil {
		return
	}
	g := m.collectionGroup()
	m.log.WithFields(logrus.Fields{"group": g.Name(), "mode": m.mode, "icon_size": m.iconSize}).Debug("switching collection group")
	m.registry.ClearAll(g, m.detailGroup())
	m.dropThumbs()
	m.scrollToCursor()
	m.refresh()
}

func (m *Model) collectionGroup() *loader.Group {
	if m.mode == session.ModeIcons {
		return m.registry.Named(m.cfg.IconGroupName(m.iconSize), imagecache.Megabytes(m.cfg.Groups.Icons.CapacityMB))
	}
	return m.registry.Named(m.cfg.Groups.List.Name, imagecache.Megabytes(m.cfg.Groups.List.CapacityMB))
}

func (m *Model) detailGroup() *loader.Group {
	return m.registry.Named(m.cfg.Groups.Detail.Name, imagecache.Megabytes(m.cfg.Groups.Detail.CapacityMB))
}

func (m Model) thumbSize() image.Point {
	if m.mode == session.ModeIcons {
		return image.Pt(m.iconSize, m.iconSize)
	}
	return image.Pt(m.cfg.Thumbnails.ListSize, m.cfg.Thumbnails.ListSize)
}

// refresh makes the thumbnail loaders match the visible files. When the
// visible set changed, the collection queue is cleared and every visible
// file without a finished loader is requested again.
func (m *Model) refresh() {
	if m.registry == nil || m.width == 0 || len(m.files) == 0 {
		return
	}

	start, end := m.visibleRange()
	visible := make(map[imagecache.Key]bool, end-start)
	for _, k := range m.files[start:end] {
		visible[k] = true
	}

	g := m.collectionGroup()
	if g.Name() == m.thumbGroup && sameKeys(visible, m.thumbs) {
		return
	}
	m.thumbGroup = g.Name()
	g.ClearQueue()

	for k, e := range m.thumbs {
		// Unfinished loaders were just skipped by the clear.
		if !visible[k] || !e.last.State.Terminal() {
			e.loader.Close()
			delete(m.thumbs, k)
		}
	}

	size := m.thumbSize()
	for _, k := range m.files[start:end] {
		if _, ok := m.thumbs[k]; ok {
			continue
		}
		l := loader.NewThumbnail(g, size, m.generator, m.icons)
		m.thumbs[k] = m.track(l.Loader, g.Name(), k)
	}
}

func (m *Model) dropThumbs() {
	for k, e := range m.thumbs {
		e.loader.Close()
		delete(m.thumbs, k)
	}
	m.thumbGroup = ""
}

// loadDetail requests the selected file in the detail group unless it is
// already loading there.
func (m *Model) loadDetail() {
	if m.registry == nil || len(m.files) == 0 {
		return
	}
	k := m.files[m.cursor]
	if m.detail != nil && m.detail.key == k {
		return
	}
	m.closeDetail()

	g := m.detailGroup()
	g.ClearQueue()
	m.detail = m.track(loader.New(g, m.decoder), g.Name(), k)
	m.header = m.readHeader(k)
}

// readHeader describes k from its file header, or returns "" when the
// decoder cannot read headers alone.
func (m *Model) readHeader(k imagecache.Key) string {
	hr, ok := m.decoder.(headerReader)
	if !ok {
		return ""
	}
	cfg, format, err := hr.Config(k)
	if err != nil {
		m.log.WithError(err).WithField("key", k.Path()).Debug("reading image header")
		return ""
	}
	return fmt.Sprintf("%s %d×%d", format, cfg.Width, cfg.Height)
}

func (m *Model) closeDetail() {
	if m.detail != nil {
		m.detail.loader.Close()
		m.detail = nil
	}
	m.header = ""
}

// track requests k on l and subscribes the model to its updates.
func (m *Model) track(l *loader.Loader, group string, k imagecache.Key) *entry {
	seq := m.pump.next()
	l.Request(k)
	l.Subscribe(m.pump.forward(seq, group))

	// Subscribing after the request misses a synchronous cache hit, so
	// start from the loader's current state.
	return &entry{
		seq:    seq,
		key:    k,
		loader: l,
		last:   loader.Update{Key: k, State: l.State(), Image: l.Result(), Err: l.Err()},
	}
}

func (m *Model) apply(msg updateMsg) {
	if m.detail != nil && m.detail.seq == msg.seq {
		m.detail.apply(msg.update)
		return
	}
	if e, ok := m.thumbs[msg.update.Key]; ok && e.seq == msg.seq {
		e.apply(msg.update)
	}
}

// Close detaches every loader and stops the update pump.
func (m Model) Close() {
	m.pump.close()
	for _, e := range m.thumbs {
		e.loader.Close()
	}
	if m.detail != nil {
		m.detail.loader.Close()
	}
}

// Session returns the preferences to persist.
func (m Model) Session() session.State {
	s := session.State{Mode: m.mode, IconSize: m.iconSize}
	if k := m.Selected(); k != "" {
		s.LastFile = k.Path()
	}
	return s
}

// Selected returns the file under the cursor, or "" if there are none.
func (m Model) Selected() imagecache.Key {
	if len(m.files) == 0 {
		return ""
	}
	return m.files[m.cursor]
}

// Mode returns the collection layout.
func (m Model) Mode() session.Mode { return m.mode }

// IconSize returns the icon size used by the icon layout.
func (m Model) IconSize() int { return m.iconSize }

// contentHeight returns the usable height for pane content,
// accounting for border chrome and the help bar.
func (m Model) contentHeight() int {
	h := m.height - borderChrome - helpBarHeight
	if h < 1 {
		return 1
	}
	return h
}

// tileSize returns the image block of an icon tile in cells. A name line
// is drawn below it.
func (m Model) tileSize() (cols, rows int) {
	cols = max(m.iconSize/8, 6)
	return cols, cols / 2
}

// grid returns how many files fit on one line of the collection and how
// many lines are visible.
func (m Model) grid() (perRow, lines int) {
	if m.mode != session.ModeIcons {
		return 1, m.contentHeight()
	}
	left, _ := PaneWidths(m.width)
	cols, rows := m.tileSize()
	perRow = max(1, (left-borderChrome+1)/(cols+1))
	lines = max(1, m.contentHeight()/(rows+1))
	return perRow, lines
}

func (m *Model) scrollToCursor() {
	perRow, lines := m.grid()
	line := m.cursor / perRow
	if line < m.offset {
		m.offset = line
	}
	if line >= m.offset+lines {
		m.offset = line - lines + 1
	}
}

// visibleRange returns the indexes of the files on screen.
func (m Model) visibleRange() (start, end int) {
	perRow, lines := m.grid()
	start = min(m.offset*perRow, len(m.files))
	end = min((m.offset+lines)*perRow, len(m.files))
	return start, end
}

func sameKeys(visible map[imagecache.Key]bool, thumbs map[imagecache.Key]*entry) bool {
	if len(visible) != len(thumbs) {
		return false
	}
	for k := range visible {
		if _, ok := thumbs[k]; !ok {
			return false
		}
	}
	return true
}

// View renders the two-pane layout with help bar.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	leftWidth, rightWidth := PaneWidths(m.width)
	contentHeight := m.contentHeight()

	leftStyle := FocusedBorder().
		Width(leftWidth - borderChrome).
		Height(contentHeight)
	rightStyle := UnfocusedBorder().
		Width(rightWidth - borderChrome).
		Height(contentHeight)

	leftPane := leftStyle.Render(m.viewCollection(leftWidth-borderChrome, contentHeight))
	rightPane := rightStyle.Render(m.viewInspector(rightWidth-borderChrome, contentHeight))
	panes := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, panes, m.help.View(m.keys))
}
