package fingerprint

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"slices"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableHash(table map[string]uint64) HashFunc {
	return func(name string) (uint64, error) {
		h, ok := table[name]
		if !ok {
			return 0, errors.New("unknown image " + name)
		}
		return h, nil
	}
}

func TestSampleIndices(t *testing.T) {
	assert.Nil(t, SampleIndices(0))
	assert.Equal(t, []int{0}, SampleIndices(1))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, SampleIndices(5))
	assert.Equal(t, []int{0, 1, 3, 4, 5}, SampleIndices(6))
	assert.Equal(t, []int{0, 1, 50, 98, 99}, SampleIndices(100))
}

func TestCombineFoldsInOrder(t *testing.T) {
	hashes := map[string]uint64{"a": 0x1, "b": 0x2, "c": 0x4}
	res, err := Combine([]string{"a", "b", "c"}, tableHash(hashes))
	require.NoError(t, err)

	// ((1<<1)^2)<<1 ^ 4
	assert.Equal(t, uint64(4), res.Combined)
	assert.Equal(t, "3-0000000000000004", res.BookHash())
	assert.Equal(t, "0000000000000001", res.FirstImageHash())
}

func TestCombineSamplesLargeBooks(t *testing.T) {
	images := make([]string, 9)
	hashes := make(map[string]uint64)
	for i := range images {
		images[i] = string(rune('a' + i))
		hashes[images[i]] = uint64(i+1) * 0x1111
	}
	var hashed []string
	hash := func(name string) (uint64, error) {
		hashed = append(hashed, name)
		return hashes[name], nil
	}

	res, err := Combine(images, hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "e", "h", "i"}, hashed)
	assert.Equal(t, 9, res.Count)
	assert.Regexp(t, `^9-[0-9a-f]{16}$`, res.BookHash())
}

func TestCombineIsDeterministicAndOrderSensitive(t *testing.T) {
	hashes := map[string]uint64{"a": 0xdeadbeef, "b": 0x0badf00d, "c": 0x12345678, "d": 0xfeedface}
	images := []string{"a", "b", "c", "d"}

	first, err := Combine(images, tableHash(hashes))
	require.NoError(t, err)
	second, err := Combine(images, tableHash(hashes))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	reversed := slices.Clone(images)
	slices.Reverse(reversed)
	back, err := Combine(reversed, tableHash(hashes))
	require.NoError(t, err)
	assert.NotEqual(t, first.Combined, back.Combined)
}

func TestCombineErrors(t *testing.T) {
	_, err := Combine(nil, tableHash(nil))
	assert.ErrorIs(t, err, ErrNoImages)

	res, err := Combine([]string{"a", "missing"}, tableHash(map[string]uint64{"a": 1}))
	assert.Error(t, err)
	assert.Equal(t, Result{}, res)
}

func TestFileHasher(t *testing.T) {
	dir := t.TempDir()
	gradient := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := uint8(255 - x*4)
			gradient.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	require.NoError(t, imaging.Save(gradient, filepath.Join(dir, "gradient.png")))

	flat := imaging.New(64, 64, color.White)
	require.NoError(t, imaging.Save(flat, filepath.Join(dir, "flat.png")))

	hash := FileHasher(dir)
	g, err := hash("gradient.png")
	require.NoError(t, err)
	assert.NotZero(t, g)

	f, err := hash("flat.png")
	require.NoError(t, err)
	assert.Zero(t, f)

	_, err = hash("nope.png")
	assert.Error(t, err)
}

func TestFileHasherStaysInsideBook(t *testing.T) {
	root := t.TempDir()
	book := filepath.Join(root, "book")
	require.NoError(t, imaging.Save(imaging.New(16, 16, color.White), filepath.Join(root, "secret.png")))

	hash := FileHasher(book)
	for _, name := range []string{
		"../secret.png",
		"images/../../secret.png",
		filepath.ToSlash(filepath.Join(root, "secret.png")),
		"/etc/passwd",
		"",
	} {
		_, err := hash(name)
		assert.ErrorIs(t, err, ErrOutsideBook, name)
	}
}
