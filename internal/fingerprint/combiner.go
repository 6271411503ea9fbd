// Package fingerprint derives a stable multi-image content hash for a book.
package fingerprint

import (
	"errors"
	"fmt"
)

// MaxFullyHashed is the largest image count for which every image is hashed.
const MaxFullyHashed = 5

// ErrNoImages is returned when a book has no images to fingerprint.
var ErrNoImages = errors.New("no images to fingerprint")

// HashFunc computes a 64-bit perceptual hash of one image.
type HashFunc func(image string) (uint64, error)

// Result is the combined fingerprint of a book's images.
type Result struct {
	// Count is the total number of images, not the number sampled.
	Count     int
	FirstHash uint64
	Combined  uint64
}

// BookHash formats the combined hash as "{count}-{16 hex digits}".
func (r Result) BookHash() string {
	return fmt.Sprintf("%d-%016x", r.Count, r.Combined)
}

// FirstImageHash formats the hash of the first image as 16 hex digits.
func (r Result) FirstImageHash() string {
	return fmt.Sprintf("%016x", r.FirstHash)
}

// SampleIndices returns the image indices that contribute to the combined
// hash, in increasing order: all of them for up to five images, otherwise
// first, second, middle, second-to-last and last.
func SampleIndices(count int) []int {
	if count <= 0 {
		return nil
	}
	if count <= MaxFullyHashed {
		indices := make([]int, count)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	return []int{0, 1, count / 2, count - 2, count - 1}
}

// Combine hashes the sampled images in order and folds them with
// acc = (acc << 1) ^ hash. Any hashing error aborts the whole computation.
func Combine(images []string, hash HashFunc) (Result, error) {
	if len(images) == 0 {
		return Result{}, ErrNoImages
	}

	var res Result
	res.Count = len(images)
	for n, i := range SampleIndices(len(images)) {
		h, err := hash(images[i])
		if err != nil {
			return Result{}, fmt.Errorf("failed to hash image %q: %w", images[i], err)
		}
		if n == 0 {
			res.FirstHash = h
			res.Combined = h
			continue
		}
		res.Combined = (res.Combined << 1) ^ h
	}
	return res, nil
}
