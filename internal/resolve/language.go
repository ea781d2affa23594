package resolve

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// Detector guesses the ISO 639-1 code of a text slice. ok is false when it could not tell.
type Detector interface {
	Detect(text string) (code string, ok bool)
}

// WhatlangDetector uses trigram detection from whatlanggo.
type WhatlangDetector struct {
	// MinLetters is the amount of letters below which the sample is considered too short.
	MinLetters int
}

func NewWhatlangDetector() *WhatlangDetector {
	return &WhatlangDetector{MinLetters: 12}
}

func (d *WhatlangDetector) Detect(text string) (string, bool) {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters < d.MinLetters {
		return "", false
	}

	info := whatlanggo.Detect(text)
	if info.Lang < 0 {
		return "", false
	}
	code := info.Lang.Iso6391()
	if code == "" {
		code = info.Lang.Iso6393()
	}
	code = strings.ToLower(strings.TrimSpace(code))
	return code, code != ""
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(text string) (string, bool)

func (f DetectorFunc) Detect(text string) (string, bool) { return f(text) }
