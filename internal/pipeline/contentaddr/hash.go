// Package contentaddr deduplicates images by perceptual hash.
package contentaddr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/corona10/goimagehash"
)

// Hash returns the 64-bit perceptual hash of img as 16 hex digits.
func Hash(img image.Image) (string, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("perception hash: %w", err)
	}
	return fmt.Sprintf("%016x", h.GetHash()), nil
}

// HashBytes decodes an encoded image and hashes it.
func HashBytes(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	return Hash(img)
}

// Distance is the Hamming distance between two hashes produced by Hash.
func Distance(a, b string) (int, error) {
	var x, y uint64
	if _, err := fmt.Sscanf(a, "%016x", &x); err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", a, err)
	}
	if _, err := fmt.Sscanf(b, "%016x", &y); err != nil {
		return 0, fmt.Errorf("parse hash %q: %w", b, err)
	}
	return goimagehash.NewImageHash(x, goimagehash.PHash).Distance(goimagehash.NewImageHash(y, goimagehash.PHash))
}
