package assets

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrMissingAsset is returned when a derived asset path does not exist. It
// means the asset set of a session is incomplete.
var ErrMissingAsset = errors.New("missing asset")

// Loader decodes the image stored at path.
type Loader interface {
	Load(path string) (image.Image, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) (image.Image, error)

// Load calls f(path).
func (f LoaderFunc) Load(path string) (image.Image, error) { return f(path) }

// FileLoader decodes images from the local filesystem. Any format
// registered with the image package is accepted (PNG, JPEG, GIF, BMP, TIFF
// and WebP are linked in).
type FileLoader struct {
	// MaxWidth and MaxHeight downscale larger images to fit the display
	// panel, preserving the aspect ratio. Zero disables the bound.
	MaxWidth  int
	MaxHeight int
}

// Load opens and decodes path. A missing file is reported as
// ErrMissingAsset.
func (l FileLoader) Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingAsset, path)
		}
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return Fit(img, l.MaxWidth, l.MaxHeight), nil
}

// Fit scales img down so it fits within maxWidth x maxHeight. Images that
// already fit, or a zero bound, are returned unchanged.
func Fit(img image.Image, maxWidth, maxHeight int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return img
	}

	scale := 1.0
	if maxWidth > 0 && w > maxWidth {
		scale = min(scale, float64(maxWidth)/float64(w))
	}
	if maxHeight > 0 && h > maxHeight {
		scale = min(scale, float64(maxHeight)/float64(h))
	}
	if scale == 1.0 {
		return img
	}

	dw := max(1, int(float64(w)*scale))
	dh := max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
	return dst
}
