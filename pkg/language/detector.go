package language

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// Detector classifies text and returns a lowercase ISO 639-1 code.
type Detector interface {
	Detect(text string) (string, bool)
}

// LinguaDetector detects among all spoken languages with lingua's n-gram models.
type LinguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLinguaDetector builds a detector. lowAccuracy trades accuracy on short
// text for a much smaller memory footprint.
func NewLinguaDetector(lowAccuracy bool) *LinguaDetector {
	builder := lingua.NewLanguageDetectorBuilder().
		FromAllSpokenLanguages().
		WithMinimumRelativeDistance(0.05)
	if lowAccuracy {
		builder = builder.WithLowAccuracyMode()
	}
	return &LinguaDetector{detector: builder.Build()}
}

func (d *LinguaDetector) Detect(text string) (string, bool) {
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok || lang == lingua.Unknown {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// NormalizeCode reduces tags like "en-US", "EN_gb" or "eng" to a lowercase
// ISO 639-1 code. Unrecognized values are returned lowercased.
func NormalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if len(code) == 3 {
		if iso := lingua.GetIsoCode639_3FromValue(code); iso != lingua.UnknownIsoCode639_3 {
			if lang := lingua.GetLanguageFromIsoCode639_3(iso); lang != lingua.Unknown {
				return strings.ToLower(lang.IsoCode639_1().String())
			}
		}
	}
	return code
}
