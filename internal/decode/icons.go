package decode

import (
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"sync"

	"github.com/smileynet/fluffy/internal/imagecache"
)

// Icon file names looked up in an icon filesystem.
const (
	IconImage  = "image.png"
	IconFile   = "file.png"
	IconFolder = "folder.png"
)

// imageExts lists the extensions the File decoder understands.
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// IsImage reports whether key has an extension File can decode.
func IsImage(key imagecache.Key) bool {
	return imageExts[key.Ext()]
}

// Icons renders generic file icons from PNG files in an fs.FS.
// Decoded icons are kept in memory; it is safe for concurrent use.
type Icons struct {
	fsys fs.FS

	mu    sync.Mutex
	bases map[string]image.Image
}

// NewIcons creates an icon source reading from fsys.
func NewIcons(fsys fs.FS) *Icons {
	return &Icons{fsys: fsys, bases: make(map[string]image.Image)}
}

// Icon returns the generic icon for key scaled up or down to fit size. It never
// returns nil: a placeholder is drawn when the icon cannot be read.
func (i *Icons) Icon(key imagecache.Key, size image.Point) *imagecache.Image {
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(1, 1)
	}

	base := i.base(IconName(key))
	if base == nil {
		return imagecache.NewImage(placeholder(size))
	}
	return imagecache.NewImage(Scale(base, size, nil))
}

// IconName picks the icon file for key.
func IconName(key imagecache.Key) string {
	if IsImage(key) {
		return IconImage
	}
	if info, err := os.Stat(key.Path()); err == nil && info.IsDir() {
		return IconFolder
	}
	return IconFile
}

func (i *Icons) base(name string) image.Image {
	i.mu.Lock()
	defer i.mu.Unlock()

	if img, ok := i.bases[name]; ok {
		return img
	}

	var img image.Image
	if i.fsys != nil {
		if f, err := i.fsys.Open(name); err == nil {
			img, _ = png.Decode(f)
			f.Close()
		}
	}
	// Failures are remembered too, so a missing icon is not re-read.
	i.bases[name] = img
	return img
}

// placeholder draws a light square with a darker frame.
func placeholder(size image.Point) image.Image {
	img := image.NewGray(image.Rectangle{Max: size})
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			c := color.Gray{Y: 0xd0}
			if x == 0 || y == 0 || x == size.X-1 || y == size.Y-1 {
				c = color.Gray{Y: 0x60}
			}
			img.SetGray(x, y, c)
		}
	}
	return img
}
