package imagecache

import (
	"fmt"
	"image"
	"image/color"
)

// Representation describes one bitmap of an Image in the terms used for
// memory estimation.
type Representation struct {
	Width         int
	Height        int
	BitsPerSample int
	HasAlpha      bool
}

// ByteSize returns the estimated in-memory size of the bitmap:
// width × height × channels × bitsPerSample / 8, with 4 channels when the
// bitmap has alpha and 3 otherwise.
func (r Representation) ByteSize() int64 {
	channels := 3
	if r.HasAlpha {
		channels = 4
	}
	bits := int64(r.BitsPerSample * channels)
	return bits * int64(r.Width) * int64(r.Height) / 8
}

// Image is a decoded image together with its estimated memory footprint.
// An Image may carry several representations, such as the frames of an
// animated GIF or the pages of a TIFF; their sizes are summed.
//
// An Image is never mutated after construction.
type Image struct {
	frames   []image.Image
	reps     []Representation
	byteSize int64
}

// NewImage builds an Image from one or more decoded bitmaps. Nil bitmaps
// are dropped. It returns nil when no bitmap remains.
func NewImage(frames ...image.Image) *Image {
	img := &Image{}
	for _, f := range frames {
		if f == nil {
			continue
		}
		rep := Describe(f)
		img.frames = append(img.frames, f)
		img.reps = append(img.reps, rep)
		img.byteSize += rep.ByteSize()
	}
	if len(img.frames) == 0 {
		return nil
	}
	return img
}

// Primary returns the first representation.
func (i *Image) Primary() image.Image { return i.frames[0] }

// Frames returns every representation in decode order.
func (i *Image) Frames() []image.Image {
	return append([]image.Image(nil), i.frames...)
}

// Representations returns the size descriptors of every representation.
func (i *Image) Representations() []Representation {
	return append([]Representation(nil), i.reps...)
}

// Bounds returns the bounds of the primary representation.
func (i *Image) Bounds() image.Rectangle { return i.frames[0].Bounds() }

// ByteSize returns the estimated in-memory size of all representations.
func (i *Image) ByteSize() int64 { return i.byteSize }

// Describe derives the size descriptor of a decoded bitmap from its color
// model. Gray, YCbCr and CMYK bitmaps count as three-channel bitmaps.
func Describe(img image.Image) Representation {
	b := img.Bounds()
	rep := Representation{
		Width:         b.Dx(),
		Height:        b.Dy(),
		BitsPerSample: 8,
	}

	switch img.ColorModel() {
	case color.RGBA64Model, color.NRGBA64Model, color.Gray16Model, color.Alpha16Model:
		rep.BitsPerSample = 16
	}

	rep.HasAlpha = hasAlpha(img)
	return rep
}

type opaquer interface {
	Opaque() bool
}

func hasAlpha(img image.Image) bool {
	switch m := img.ColorModel().(type) {
	case color.Palette:
		for _, c := range m {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	default:
		switch m {
		case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model,
			color.AlphaModel, color.Alpha16Model:
		default:
			return false
		}
	}

	if o, ok := img.(opaquer); ok {
		return !o.Opaque()
	}
	return true
}

// FormatBytes formats n as a short binary size such as "1.5 KiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
