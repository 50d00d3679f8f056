// Package decode supplies the file-system backed decoders used by the
// loader package: full image decoding, thumbnail scaling and generic file
// icons.
package decode

import (
	"bufio"
	"context"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"

	jmerrors "github.com/jmgilman/go/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/smileynet/fluffy/internal/imagecache"
)

// File decodes images from the local file system. PNG, JPEG, GIF, BMP,
// TIFF and WebP are supported; every frame of an animated GIF becomes a
// representation of the result.
type File struct{}

// Decode opens the file behind key and decodes it.
func (File) Decode(ctx context.Context, key imagecache.Key) (*imagecache.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(key.Path())
	if err != nil {
		return nil, classify(err, key, "open image", jmerrors.CodeInternal)
	}
	defer f.Close()

	return decodeReader(bufio.NewReader(f), key)
}

// Config reads only the header of the file behind key.
func (File) Config(key imagecache.Key) (image.Config, string, error) {
	f, err := os.Open(key.Path())
	if err != nil {
		return image.Config{}, "", classify(err, key, "open image", jmerrors.CodeInternal)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return image.Config{}, "", classify(err, key, "read image header", jmerrors.CodeInvalidInput)
	}
	return cfg, format, nil
}

func decodeReader(r *bufio.Reader, key imagecache.Key) (*imagecache.Image, error) {
	if isGIF(r) {
		all, err := gif.DecodeAll(r)
		if err != nil {
			return nil, classify(err, key, "decode gif", jmerrors.CodeInvalidInput)
		}
		frames := make([]image.Image, len(all.Image))
		for i, p := range all.Image {
			frames[i] = p
		}
		return imagecache.NewImage(frames...), nil
	}

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, classify(err, key, "decode image", jmerrors.CodeInvalidInput)
	}
	return imagecache.NewImage(img), nil
}

func isGIF(r *bufio.Reader) bool {
	magic, err := r.Peek(6)
	if err != nil {
		return false
	}
	s := string(magic)
	return s == "GIF87a" || s == "GIF89a"
}

// classify wraps err with an error code describing why key could not be
// read. Errors that are not file-system errors get code.
func classify(err error, key imagecache.Key, msg string, code jmerrors.ErrorCode) error {
	switch {
	case jmerrors.Is(err, fs.ErrNotExist):
		code = jmerrors.CodeNotFound
	case jmerrors.Is(err, fs.ErrPermission):
		code = jmerrors.CodeForbidden
	}
	return jmerrors.WithContext(jmerrors.Wrap(err, code, msg), "path", key.Path())
}
