// Package imagecache implements a byte-bounded, insertion-ordered cache of
// decoded images keyed by file location.
package imagecache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// Key identifies a loadable image resource by its normalized absolute path.
// Two keys are equal when their normalized paths are equal.
type Key string

// NewKey normalizes path into a Key. A leading "~" is expanded to the
// user's home directory, relative paths are made absolute and the result
// is cleaned.
func NewKey(path string) (Key, error) {
	if path == "" {
		return "", fmt.Errorf("imagecache: empty path")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("imagecache: expanding %s: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("imagecache: resolving %s: %w", path, err)
	}
	return Key(filepath.Clean(abs)), nil
}

// MustKey is like NewKey but panics on error. Intended for tests and
// static paths.
func MustKey(path string) Key {
	k, err := NewKey(path)
	if err != nil {
		panic(err)
	}
	return k
}

// Path returns the file-system path the key refers to.
func (k Key) Path() string { return string(k) }

// Name returns the last element of the key's path.
func (k Key) Name() string { return filepath.Base(string(k)) }

// Ext returns the lower-cased file extension, including the dot.
func (k Key) Ext() string { return strings.ToLower(filepath.Ext(string(k))) }
