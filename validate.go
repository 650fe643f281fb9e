package imagepick

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
)

// jpegMagic is the SOI marker every JPEG file starts with.
var jpegMagic = []byte{0xFF, 0xD8}

// ErrNotJPEG reports a file that does not start with the JPEG SOI marker.
var ErrNotJPEG = errors.New("missing JPEG header")

// CheckJPEGHeader is the cheap check used by Audit: the file exists, is at
// least MinImageBytes long and starts with the JPEG SOI marker.
func CheckJPEGHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < MinImageBytes {
		return fmt.Errorf("%w: %d bytes", ErrUndersized, info.Size())
	}

	head := make([]byte, len(jpegMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(head, jpegMagic) {
		return fmt.Errorf("%w (starts with %x)", ErrNotJPEG, head)
	}
	return nil
}

// ValidateCandidateFile fully decodes path as a JPEG after the header check.
// It is run on every freshly written candidate.
func ValidateCandidateFile(path string) error {
	if err := CheckJPEGHeader(path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := jpeg.Decode(f); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
