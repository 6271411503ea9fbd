package fingerprint

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	dhashWidth  = 9
	dhashHeight = 8
)

// DifferenceHash computes a 64-bit gradient hash: the image is reduced to a
// 9x8 grayscale thumbnail and each bit records whether a pixel is brighter
// than its right-hand neighbour.
func DifferenceHash(img image.Image) uint64 {
	small := imaging.Resize(imaging.Grayscale(img), dhashWidth, dhashHeight, imaging.Lanczos)

	var hash uint64
	for y := 0; y < dhashHeight; y++ {
		for x := 0; x < dhashWidth-1; x++ {
			left := small.NRGBAAt(x, y).R
			right := small.NRGBAAt(x+1, y).R
			hash <<= 1
			if left > right {
				hash |= 1
			}
		}
	}
	return hash
}

// ErrOutsideBook is returned for image references that resolve outside the
// book folder.
var ErrOutsideBook = errors.New("image is outside the book folder")

// FileHasher returns a HashFunc that loads images relative to dir. Absolute
// references and references that climb out of dir are rejected.
func FileHasher(dir string) HashFunc {
	return func(name string) (uint64, error) {
		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return 0, fmt.Errorf("%q: %w", name, ErrOutsideBook)
		}
		img, err := imaging.Open(filepath.Join(dir, rel), imaging.AutoOrientation(true))
		if err != nil {
			return 0, fmt.Errorf("failed to open image: %w", err)
		}
		return DifferenceHash(img), nil
	}
}
