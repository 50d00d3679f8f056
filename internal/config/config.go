// Package config handles layered YAML configuration with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all fluffy configuration.
type Config struct {
	Groups     Groups     `yaml:"groups"`
	Thumbnails Thumbnails `yaml:"thumbnails"`
	Icons      Icons      `yaml:"icons"`
	Log        Log        `yaml:"log"`
	Session    Session    `yaml:"session"`
}

// Groups names the loader groups used by each view and sizes their caches.
type Groups struct {
	List   Group `yaml:"list"`   // List thumbnails
	Detail Group `yaml:"detail"` // Full images in the inspector
	Icons  Group `yaml:"icons"`  // Icon view; Name is a prefix, one group per size band
}

// Group configures one loader group.
type Group struct {
	Name       string `yaml:"name"`
	CapacityMB int    `yaml:"capacity_mb"`
}

// Thumbnails holds thumbnail sizes in display pixels.
type Thumbnails struct {
	ListSize    int `yaml:"list_size"`
	IconSize    int `yaml:"icon_size"`
	MinIconSize int `yaml:"min_icon_size"`
	MaxIconSize int `yaml:"max_icon_size"`
}

// Icons holds generic file icon settings.
type Icons struct {
	Dir string `yaml:"dir"` // Local overrides; empty uses the embedded icons only
}

// Log holds logging settings.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Session holds browser session persistence settings.
type Session struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Groups: Groups{
			List:   Group{Name: "ListView", CapacityMB: 128},
			Detail: Group{Name: "DetailGroup", CapacityMB: 512},
			Icons:  Group{Name: "IconsView", CapacityMB: 512},
		},
		Thumbnails: Thumbnails{
			ListSize:    24,
			IconSize:    120,
			MinIconSize: 48,
			MaxIconSize: 200,
		},
		Log: Log{
			Level: "info",
		},
		Session: Session{
			Path: "~/.config/fluffy/session.json",
		},
	}
}

// DefaultPaths returns the config files read by LoadLayered, lowest
// priority first: the user config, then the project config.
func DefaultPaths() []string {
	var paths []string
	if user, err := homedir.Expand("~/.config/fluffy/config.yaml"); err == nil {
		paths = append(paths, user)
	}
	return append(paths, filepath.Join(".fluffy", "config.yaml"))
}

// IconGroupName returns the icon view group for iconSize. Sizes are banded
// by the binary logarithm of their scale relative to the default icon
// size, so nearby sizes share a cache.
func (c *Config) IconGroupName(iconSize int) string {
	scale := float64(iconSize) / float64(c.Thumbnails.IconSize)
	band := 1
	if scale > 0 {
		band = int(math.Log2(scale)) + 1
	}
	return c.Groups.Icons.Name + strconv.Itoa(band)
}

// GroupCapacityMB returns the configured capacity of the group called name.
// Icon view groups match by prefix followed by their band number.
func (c *Config) GroupCapacityMB(name string) (int, bool) {
	switch name {
	case c.Groups.List.Name:
		return c.Groups.List.CapacityMB, true
	case c.Groups.Detail.Name:
		return c.Groups.Detail.CapacityMB, true
	}
	if band, ok := strings.CutPrefix(name, c.Groups.Icons.Name); ok {
		if _, err := strconv.Atoi(band); err == nil {
			return c.Groups.Icons.CapacityMB, true
		}
	}
	return 0, false
}

// ClampIconSize bounds size to the configured icon size range.
func (c *Config) ClampIconSize(size int) int {
	return min(max(size, c.Thumbnails.MinIconSize), c.Thumbnails.MaxIconSize)
}

// Load reads a single YAML config file at path and returns a Config.
// For merging multiple config sources, use LoadLayered instead.
// If the file does not exist, defaults are returned without error.
// If the file contains invalid YAML or unknown fields, an error is returned.
func Load(path string) (*Config, error) {
	return LoadLayered(path)
}

// LoadLayered loads config from multiple paths with increasing priority.
// Later paths override earlier ones. Missing files are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}

	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	for _, g := range []struct {
		field string
		group Group
	}{
		{"groups.list", c.Groups.List},
		{"groups.detail", c.Groups.Detail},
		{"groups.icons", c.Groups.Icons},
	} {
		if g.group.Name == "" {
			return fmt.Errorf("config: %s.name cannot be empty", g.field)
		}
		if g.group.CapacityMB <= 0 {
			return fmt.Errorf("config: %s.capacity_mb must be positive, got %d", g.field, g.group.CapacityMB)
		}
	}
	if c.Groups.List.Name == c.Groups.Detail.Name {
		return fmt.Errorf("config: groups.list and groups.detail must differ, both are %q", c.Groups.List.Name)
	}

	t := c.Thumbnails
	if t.ListSize <= 0 {
		return fmt.Errorf("config: thumbnails.list_size must be positive, got %d", t.ListSize)
	}
	if t.MinIconSize <= 0 {
		return fmt.Errorf("config: thumbnails.min_icon_size must be positive, got %d", t.MinIconSize)
	}
	if t.MinIconSize > t.MaxIconSize {
		return fmt.Errorf("config: thumbnails.min_icon_size (%d) exceeds max_icon_size (%d)", t.MinIconSize, t.MaxIconSize)
	}
	if t.IconSize < t.MinIconSize || t.IconSize > t.MaxIconSize {
		return fmt.Errorf("config: thumbnails.icon_size must be within [%d, %d], got %d", t.MinIconSize, t.MaxIconSize, t.IconSize)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Session.Path == "" {
		return errors.New("config: session.path cannot be empty")
	}
	return nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: FLUFFY_LOG_LEVEL, FLUFFY_LOG_FILE, FLUFFY_ICONS_DIR.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("FLUFFY_LOG_LEVEL"); v != "" {
		if _, err := logrus.ParseLevel(v); err != nil {
			return fmt.Errorf("config: invalid FLUFFY_LOG_LEVEL %q: %w", v, err)
		}
		c.Log.Level = v
	}
	if v := os.Getenv("FLUFFY_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("FLUFFY_ICONS_DIR"); v != "" {
		c.Icons.Dir = v
	}
	return nil
}

// ExpandPaths resolves a leading ~ in every path setting.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Icons.Dir, &c.Log.File, &c.Session.Path} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("config: expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// rawConfig mirrors Config but uses pointers to distinguish set vs unset fields.
type rawConfig struct {
	Groups     *rawGroups     `yaml:"groups"`
	Thumbnails *rawThumbnails `yaml:"thumbnails"`
	Icons      *rawIcons      `yaml:"icons"`
	Log        *rawLog        `yaml:"log"`
	Session    *rawSession    `yaml:"session"`
}

type rawGroups struct {
	List   *rawGroup `yaml:"list"`
	Detail *rawGroup `yaml:"detail"`
	Icons  *rawGroup `yaml:"icons"`
}

type rawGroup struct {
	Name       *string `yaml:"name"`
	CapacityMB *int    `yaml:"capacity_mb"`
}

type rawThumbnails struct {
	ListSize    *int `yaml:"list_size"`
	IconSize    *int `yaml:"icon_size"`
	MinIconSize *int `yaml:"min_icon_size"`
	MaxIconSize *int `yaml:"max_icon_size"`
}

type rawIcons struct {
	Dir *string `yaml:"dir"`
}

type rawLog struct {
	Level *string `yaml:"level"`
	File  *string `yaml:"file"`
}

type rawSession struct {
	Path *string `yaml:"path"`
}

// loadLayer reads a single config file into a rawConfig for selective merging.
// Returns nil if the file does not exist. Rejects unknown fields.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &raw, nil
}

// merge applies non-nil fields from a rawConfig layer onto this Config.
func (c *Config) merge(layer *rawConfig) {
	if layer.Groups != nil {
		c.Groups.List.merge(layer.Groups.List)
		c.Groups.Detail.merge(layer.Groups.Detail)
		c.Groups.Icons.merge(layer.Groups.Icons)
	}
	if t := layer.Thumbnails; t != nil {
		setInt(&c.Thumbnails.ListSize, t.ListSize)
		setInt(&c.Thumbnails.IconSize, t.IconSize)
		setInt(&c.Thumbnails.MinIconSize, t.MinIconSize)
		setInt(&c.Thumbnails.MaxIconSize, t.MaxIconSize)
	}
	if layer.Icons != nil {
		setString(&c.Icons.Dir, layer.Icons.Dir)
	}
	if layer.Log != nil {
		setString(&c.Log.Level, layer.Log.Level)
		setString(&c.Log.File, layer.Log.File)
	}
	if layer.Session != nil {
		setString(&c.Session.Path, layer.Session.Path)
	}
}

func (g *Group) merge(layer *rawGroup) {
	if layer == nil {
		return
	}
	setString(&g.Name, layer.Name)
	setInt(&g.CapacityMB, layer.CapacityMB)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
