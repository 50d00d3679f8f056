package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/smileynet/fluffy"
	"github.com/smileynet/fluffy/internal/browser"
	"github.com/smileynet/fluffy/internal/config"
	"github.com/smileynet/fluffy/internal/decode"
	"github.com/smileynet/fluffy/internal/imagecache"
	"github.com/smileynet/fluffy/internal/loader"
	"github.com/smileynet/fluffy/internal/progress"
	"github.com/smileynet/fluffy/internal/session"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the top-level command structure for fluffy.
type CLI struct {
	Version kong.VersionFlag `help:"Show version." short:"V"`
	Browse  BrowseCmd        `cmd:"" help:"Browse images in an interactive terminal UI."`
	Load    LoadCmd          `cmd:"" help:"Load images and print progress as plain text."`
	Config  ConfigCmd        `cmd:"" help:"Print the effective configuration."`
}

// loadConfig loads layered config from user and project paths with env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadLayered(config.DefaultPaths()...)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds a logger from cfg. Output goes to the configured log
// file, or to fallback when none is set. The returned func closes the file.
func newLogger(cfg *config.Config, fallback io.Writer) (*logrus.Logger, func(), error) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(fallback)
	if cfg.Log.File == "" {
		return log, func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("log file: %w", err)
	}
	log.SetOutput(f)
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	return log, func() { _ = f.Close() }, nil
}

// collectKeys turns command-line paths into cache keys. A directory
// contributes its entries in name order; hidden entries are skipped.
func collectKeys(paths []string) ([]imagecache.Key, error) {
	var keys []imagecache.Key
	for _, p := range paths {
		k, err := imagecache.NewKey(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(k.Path())
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			keys = append(keys, k)
			continue
		}
		entries, err := os.ReadDir(k.Path())
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Name()[0] == '.' {
				continue
			}
			keys = append(keys, imagecache.Key(filepath.Join(k.Path(), e.Name())))
		}
	}
	return keys, nil
}

func newIcons(cfg *config.Config) *decode.Icons {
	return decode.NewIcons(fluffy.OverlayFS(cfg.Icons.Dir, fluffy.Icons))
}

// --- Browse command ---

// BrowseCmd opens the interactive image browser.
type BrowseCmd struct {
	Fresh bool     `help:"Discard the saved session and start with default preferences." default:"false"`
	Files []string `arg:"" name:"file" help:"Image files or directories to browse."`
}

// teaRunner abstracts Bubble Tea program execution for testing.
type teaRunner interface {
	Run() (tea.Model, error)
}

// sessionStore abstracts session persistence for testing.
type sessionStore interface {
	Load() (session.State, bool, error)
	Save(session.State) error
	Remove() error
}

// Run builds real dependencies and launches the browser.
func (b *BrowseCmd) Run() error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("browse: requires a terminal (TTY)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}
	keys, err := collectKeys(b.Files)
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}

	// The browser owns the terminal: logs go to the log file or nowhere.
	log, closeLog, err := newLogger(cfg, io.Discard)
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}
	defer closeLog()

	reg := loader.NewRegistry(loader.WithLogger(log))
	defer reg.Close()

	store := session.NewFileStore(cfg.Session.Path)
	restored := b.restore(store, log)

	m := browser.NewModel(browser.Options{
		Config:    *cfg,
		Registry:  reg,
		Files:     keys,
		Decoder:   decode.File{},
		Generator: decode.Scaler{},
		Icons:     newIcons(cfg),
		Session:   restored,
		Logger:    log,
	})
	defer m.Close()

	prog := tea.NewProgram(m, tea.WithAltScreen())
	return b.run(true, prog, store, log)
}

// restore returns the saved session. It is empty when the saved one is
// unreadable or --fresh discards it.
func (b *BrowseCmd) restore(store sessionStore, log logrus.FieldLogger) session.State {
	if b.Fresh {
		if err := store.Remove(); err != nil {
			log.WithError(err).Warn("removing session")
		}
		return session.State{}
	}
	restored, _, err := store.Load()
	if err != nil {
		log.WithError(err).Warn("ignoring unreadable session")
		return session.State{}
	}
	return restored
}

// run executes the tea program and saves the final session, enabling testable wiring.
func (b *BrowseCmd) run(isTTY bool, prog teaRunner, store sessionStore, log logrus.FieldLogger) error {
	if !isTTY {
		return fmt.Errorf("browse: requires a terminal (TTY)")
	}
	final, err := prog.Run()
	if err != nil {
		return fmt.Errorf("browse: %w", err)
	}

	m, ok := final.(browser.Model)
	if !ok {
		return nil
	}
	s := m.Session()
	s.SavedAt = time.Now()
	if err := store.Save(s); err != nil {
		log.WithError(err).Warn("saving session")
	}
	return nil
}

// --- Load command ---

// LoadCmd loads images without a UI and reports each state change.
type LoadCmd struct {
	Thumbnail int      `help:"Load thumbnails of this size in pixels instead of full images." placeholder:"N"`
	Group     string   `help:"Loader group to use (default: the list group for thumbnails, the detail group otherwise)."`
	NoColor   bool     `help:"Disable colored output." default:"false"`
	Files     []string `arg:"" name:"file" help:"Image files or directories to load."`
}

// ErrLoadFailed is returned when at least one full image failed to load.
var ErrLoadFailed = errors.New("some images failed to load")

// Run executes the load command.
func (l *LoadCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if l.Thumbnail < 0 {
		return fmt.Errorf("load: thumbnail size must not be negative")
	}
	keys, err := collectKeys(l.Files)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	log, closeLog, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	defer closeLog()

	reg := loader.NewRegistry(loader.WithLogger(log))
	defer reg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	display := progress.NewDisplay(progress.Options{Writer: os.Stdout, NoColor: l.NoColor})
	return l.run(ctx, os.Stdout, cfg, reg, keys, decode.File{}, decode.Scaler{}, newIcons(cfg), display)
}

// groupFor returns the group name and cache capacity for this run. A
// configured group keeps its configured capacity; any other name gets the
// capacity of the mode's default group.
func (l *LoadCmd) groupFor(cfg *config.Config) (string, int64) {
	def := cfg.Groups.Detail
	if l.Thumbnail > 0 {
		def = cfg.Groups.List
	}
	if l.Group == "" {
		return def.Name, imagecache.Megabytes(def.CapacityMB)
	}
	mb, ok := cfg.GroupCapacityMB(l.Group)
	if !ok {
		mb = def.CapacityMB
	}
	return l.Group, imagecache.Megabytes(mb)
}

// run requests every key, waits for the group to drain, and prints a cache
// summary, enabling testable wiring.
func (l *LoadCmd) run(
	ctx context.Context,
	w io.Writer,
	cfg *config.Config,
	reg *loader.Registry,
	keys []imagecache.Key,
	dec loader.Decoder,
	gen loader.ThumbnailGenerator,
	icons loader.IconFallback,
	display progress.Display,
) error {
	name, capacity := l.groupFor(cfg)
	group := reg.Named(name, capacity)

	bridge := progress.NewBridge()
	displayDone := make(chan error, 1)
	go func() {
		displayDone <- display.Run(context.Background(), bridge.Events())
	}()

	loaders := make([]*loader.Loader, 0, len(keys))
	for _, k := range keys {
		var ld *loader.Loader
		if l.Thumbnail > 0 {
			ld = loader.NewThumbnail(group, image.Pt(l.Thumbnail, l.Thumbnail), gen, icons).Loader
		} else {
			ld = loader.New(group, dec)
		}
		ld.Subscribe(bridge.Subscriber(ld.GroupName()))
		ld.Request(k)
		loaders = append(loaders, ld)
	}

	syncErr := group.Sync(ctx)
	if syncErr != nil {
		bridge.Error(syncErr)
	} else {
		bridge.Done()
	}
	<-displayDone

	if syncErr != nil {
		return fmt.Errorf("load: %w", syncErr)
	}

	progress.WriteSummary(w, reg.Groups())

	failed := 0
	for _, ld := range loaders {
		if ld.State() == loader.Failed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("load: %d of %d: %w", failed, len(loaders), ErrLoadFailed)
	}
	return nil
}

// --- Config command ---

// ConfigCmd prints the merged configuration.
type ConfigCmd struct{}

// Run executes the config command.
func (c *ConfigCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return c.run(os.Stdout, cfg)
}

func (c *ConfigCmd) run(w io.Writer, cfg *config.Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	_, err = w.Write(out)
	return err
}

const (
	exitSuccess = 0
	exitLoad    = 1
	exitSetup   = 2
)

// exitCode maps an error to the appropriate exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, ErrLoadFailed) {
		return exitLoad
	}
	return exitSetup
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Description("Load and browse images through byte-bounded caches."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	err := ctx.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
