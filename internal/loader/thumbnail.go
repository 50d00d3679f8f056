package loader

import (
	"context"
	"image"

	"github.com/smileynet/fluffy/internal/imagecache"
)

// HiDPIScale is the factor applied to the requested thumbnail size before
// asking the generator, so thumbnails stay sharp on high-density displays.
const HiDPIScale = 2

// ThumbnailGenerator produces a thumbnail fitting within size pixels.
type ThumbnailGenerator interface {
	Generate(ctx context.Context, key imagecache.Key, size image.Point) (*imagecache.Image, error)
}

// IconFallback produces a generic icon for a resource. Icon must always
// return an image.
type IconFallback interface {
	Icon(key imagecache.Key, size image.Point) *imagecache.Image
}

// ThumbnailLoader is a Loader that decodes a thumbnail of a requested
// size. When the generator cannot produce one, the generic icon of the
// file is used instead, so a ThumbnailLoader never ends Failed.
type ThumbnailLoader struct {
	*Loader
	size image.Point
}

// NewThumbnail creates a thumbnail loader bound to group.
func NewThumbnail(group *Group, size image.Point, gen ThumbnailGenerator, fallback IconFallback) *ThumbnailLoader {
	dec := &thumbnailDecoder{size: size, gen: gen, fallback: fallback}
	return &ThumbnailLoader{
		Loader: New(group, dec),
		size:   size,
	}
}

// Size returns the requested thumbnail size in display pixels.
func (t *ThumbnailLoader) Size() image.Point { return t.size }

type thumbnailDecoder struct {
	size     image.Point
	gen      ThumbnailGenerator
	fallback IconFallback
}

func (d *thumbnailDecoder) Decode(ctx context.Context, key imagecache.Key) (*imagecache.Image, error) {
	if d.gen != nil {
		img, err := d.gen.Generate(ctx, key, d.size.Mul(HiDPIScale))
		if err == nil && img != nil {
			return img, nil
		}
	}

	if d.fallback != nil {
		if img := d.fallback.Icon(key, d.size); img != nil {
			return img, nil
		}
	}
	return blank(d.size), nil
}

// blank is the last-resort placeholder: a flat gray square.
func blank(size image.Point) *imagecache.Image {
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(1, 1)
	}
	img := image.NewGray(image.Rectangle{Max: size})
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return imagecache.NewImage(img)
}
