package imagepick

import (
	"image"
	"os"

	"github.com/corona10/goimagehash"
)

// dedupThreshold is the maximum Hamming distance between two dHash values
// below which images are considered perceptually identical.
const dedupThreshold = 10

// dedupFilter remembers the hashes of images seen so far for one keyword.
type dedupFilter struct {
	hashes []*goimagehash.ImageHash
}

// isDuplicate returns true if img is perceptually identical to a previously seen
// image. If hashing fails the image is accepted.
// When the image is accepted as unique, its hash is stored for future comparisons.
func (d *dedupFilter) isDuplicate(img image.Image) bool {
	hash, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return false
	}
	for _, h := range d.hashes {
		dist, err := hash.Distance(h)
		if err == nil && dist < dedupThreshold {
			return true
		}
	}
	d.hashes = append(d.hashes, hash)
	return false
}

// uniqueIndexes returns the indexes of paths that are not perceptual
// duplicates of an earlier path. Files that cannot be decoded are kept.
func uniqueIndexes(paths []string) []int {
	var d dedupFilter
	keep := make([]int, 0, len(paths))
	for i, p := range paths {
		img, err := decodeFile(p)
		if err != nil || !d.isDuplicate(img) {
			keep = append(keep, i)
		}
	}
	return keep
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
