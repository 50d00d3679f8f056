// Package browser implements a two-pane TUI for browsing image files: a
// collection view (list or icons) on the left and an inspector with a full
// preview on the right. Images are loaded in the background through the
// loader package and drawn with half-block characters.
package browser

import (
	"github.com/smileynet/fluffy/internal/imagecache"
	"github.com/smileynet/fluffy/internal/loader"
)

// Placeholders shown while an image is not available.
const (
	QueuedMarker = "○"
	FailedMarker = "✗"
	CursorMarker = "▸ "
)

// updateMsg carries a loader update into the Bubble Tea loop. seq ties the
// update to the loader that produced it, so updates from loaders replaced
// since are dropped.
type updateMsg struct {
	seq    int
	group  string
	update loader.Update
}

// closedMsg is returned by the update pump once the browser shuts down.
type closedMsg struct{}

// entry is a loader owned by the model together with the last update it
// published.
type entry struct {
	seq    int
	key    imagecache.Key
	loader interface{ Close() }
	last   loader.Update
}

// apply records u unless the entry already reached a terminal state.
func (e *entry) apply(u loader.Update) {
	if e.last.State.Terminal() {
		return
	}
	if u.State < e.last.State && !u.State.Terminal() {
		return
	}
	e.last = u
}
