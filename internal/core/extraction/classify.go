package extraction

import (
	"errors"
	"strings"
)

var (
	ErrEncrypted        = errors.New("document is encrypted")
	ErrTextTooShort     = errors.New("extracted text below minimum length")
	ErrCorruptedHeader  = errors.New("missing %PDF- header")
	ErrOCRTimeout       = errors.New("ocr timed out")
	ErrImageBased       = errors.New("document has no extractable text layer")
	ErrUnsupportedInput = errors.New("unsupported file type")
)

// Failure classifications reported on graceful-fallback results.
const (
	ClassEncrypted        = "encrypted"
	ClassCorrupted        = "corrupted"
	ClassColorSpace       = "unsupported-color-space"
	ClassImageBased       = "image-based"
	ClassOCRTimeout       = "ocr-timeout"
	ClassUnsupportedInput = "unsupported-type"
	ClassUnknown          = "unknown"
)

// Classify names the most specific cause among errs. Earlier rules win, so a
// file that is both encrypted and short of text reports as encrypted.
func Classify(errs []error) string {
	has := func(match func(err error, msg string) bool) bool {
		for _, err := range errs {
			if err != nil && match(err, strings.ToLower(err.Error())) {
				return true
			}
		}
		return false
	}

	switch {
	case has(func(err error, m string) bool {
		return errors.Is(err, ErrEncrypted) || strings.Contains(m, "encrypt") || strings.Contains(m, "password")
	}):
		return ClassEncrypted
	case has(func(err error, m string) bool {
		return errors.Is(err, ErrCorruptedHeader) || strings.Contains(m, "malformed") ||
			strings.Contains(m, "xref") || strings.Contains(m, "not a pdf") ||
			strings.Contains(m, "damaged") || strings.Contains(m, "corrupt")
	}):
		return ClassCorrupted
	case has(func(_ error, m string) bool {
		return strings.Contains(m, "color space") || strings.Contains(m, "colorspace")
	}):
		return ClassColorSpace
	case has(func(err error, _ string) bool {
		// A parser that opens the file but finds almost no text means the
		// pages are scans.
		return errors.Is(err, ErrImageBased) || errors.Is(err, ErrTextTooShort)
	}):
		return ClassImageBased
	case has(func(err error, _ string) bool {
		return errors.Is(err, ErrOCRTimeout)
	}):
		return ClassOCRTimeout
	case has(func(err error, _ string) bool {
		return errors.Is(err, ErrUnsupportedInput)
	}):
		return ClassUnsupportedInput
	}
	return ClassUnknown
}
