package filter

import (
	"errors"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// ErrUndetermined is returned when no language can be identified
var ErrUndetermined = errors.New("language could not be determined")

// LanguageDetector identifies the natural language of a text
type LanguageDetector interface {
	// Detect returns the ISO 639-1 code of the text's language
	Detect(text string) (string, error)
}

// WhatlangDetector detects languages with trigram profiles
type WhatlangDetector struct {
	minConfidence float64
}

// NewWhatlangDetector creates a detector that rejects low-confidence guesses
func NewWhatlangDetector() *WhatlangDetector {
	return &WhatlangDetector{minConfidence: 0.1}
}

// Detect implements LanguageDetector
func (d *WhatlangDetector) Detect(text string) (string, error) {
	info := whatlanggo.Detect(text)
	if info.Lang < 0 || info.Confidence < d.minConfidence {
		return "", ErrUndetermined
	}
	code := strings.ToLower(info.Lang.Iso6391())
	if code == "" {
		return "", ErrUndetermined
	}
	return code, nil
}
