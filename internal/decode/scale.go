package decode

import (
	"context"
	"image"

	jmerrors "github.com/jmgilman/go/errors"
	"golang.org/x/image/draw"

	"github.com/smileynet/fluffy/internal/imagecache"
)

// Scaler generates thumbnails by decoding the file and scaling its primary
// frame to fit the requested box. Images are never scaled up.
type Scaler struct {
	// Interpolator defaults to draw.ApproxBiLinear.
	Interpolator draw.Interpolator
}

// Generate decodes key and returns a single-frame thumbnail fitting size.
func (s Scaler) Generate(ctx context.Context, key imagecache.Key, size image.Point) (*imagecache.Image, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, jmerrors.WithContext(
			jmerrors.Newf(jmerrors.CodeInvalidInput, "invalid thumbnail size %v", size), "path", key.Path())
	}

	full, err := File{}.Decode(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return imagecache.NewImage(Fit(full.Primary(), size, s.Interpolator)), nil
}

// Fit scales src to fit within box, preserving its aspect ratio. src is
// returned unchanged when it already fits.
func Fit(src image.Image, box image.Point, interp draw.Interpolator) image.Image {
	return resize(src, FitSize(src.Bounds().Size(), box), interp)
}

// Scale scales src up or down until it touches the edges of box, preserving
// its aspect ratio.
func Scale(src image.Image, box image.Point, interp draw.Interpolator) image.Image {
	return resize(src, ScaleSize(src.Bounds().Size(), box), interp)
}

func resize(src image.Image, target image.Point, interp draw.Interpolator) image.Image {
	b := src.Bounds()
	if target == b.Size() || target.X <= 0 || target.Y <= 0 {
		return src
	}
	if interp == nil {
		interp = draw.ApproxBiLinear
	}

	dst := image.NewNRGBA(image.Rectangle{Max: target})
	interp.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// FitSize returns the largest size with the aspect ratio of src that fits
// within box, never larger than src itself. Both sides are at least 1.
func FitSize(src, box image.Point) image.Point {
	if src.X <= 0 || src.Y <= 0 {
		return image.Point{}
	}
	if src.X <= box.X && src.Y <= box.Y {
		return src
	}
	return ScaleSize(src, box)
}

// ScaleSize is FitSize without the upper bound: small sources grow to box.
func ScaleSize(src, box image.Point) image.Point {
	if src.X <= 0 || src.Y <= 0 || box.X <= 0 || box.Y <= 0 {
		return image.Point{}
	}

	// Compare src.X/src.Y against box.X/box.Y without floats.
	var w, h int
	if src.X*box.Y >= src.Y*box.X {
		w = box.X
		h = src.Y * box.X / src.X
	} else {
		h = box.Y
		w = src.X * box.Y / src.Y
	}
	return image.Pt(max(w, 1), max(h, 1))
}
