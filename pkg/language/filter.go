package language

import (
	"strings"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Mode decides what happens to text whose language cannot be determined.
type Mode string

const (
	// ModeStrict rejects undetectable or too-short text.
	ModeStrict Mode = "strict"
	// ModeLenient admits undetectable or too-short text.
	ModeLenient Mode = "lenient"
)

// ParseMode defaults to lenient for anything other than "strict".
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeStrict)) {
		return ModeStrict
	}
	return ModeLenient
}

// Reason explains a filter decision.
type Reason string

const (
	ReasonDisabled     Reason = "disabled"
	ReasonAllowed      Reason = "allowed"
	ReasonNotAllowed   Reason = "language_not_allowed"
	ReasonTooShort     Reason = "too_short"
	ReasonUndetectable Reason = "undetectable"
)

// Decision is the outcome for one page.
type Decision struct {
	Admitted bool
	Language string
	Reason   Reason
}

type Config struct {
	Enabled       bool
	Allowed       []string
	Mode          Mode
	MinTextLength int
	// SampleSize caps the number of runes handed to the detector.
	SampleSize int
}

// Filter admits or rejects pages by language before extraction.
type Filter struct {
	config   Config
	allowed  map[string]bool
	detector Detector
	logger   ectologger.Logger
}

func NewFilter(config Config, detector Detector, logger ectologger.Logger) *Filter {
	if config.SampleSize <= 0 {
		config.SampleSize = 2000
	}
	allowed := make(map[string]bool, len(config.Allowed))
	for _, code := range config.Allowed {
		if c := NormalizeCode(code); c != "" {
			allowed[c] = true
		}
	}
	return &Filter{
		config:   config,
		allowed:  allowed,
		detector: detector,
		logger:   logger,
	}
}

// Enabled reports whether the filter rejects anything at all.
func (f *Filter) Enabled() bool {
	return f.config.Enabled
}

// Check classifies a page. A language supplied by the crawler is trusted;
// otherwise the text is detected.
func (f *Filter) Check(page models.Page) Decision {
	if !f.config.Enabled {
		return Decision{Admitted: true, Language: NormalizeCode(page.Language), Reason: ReasonDisabled}
	}

	lang := NormalizeCode(page.Language)
	if lang == "" {
		text := strings.TrimSpace(page.Text)
		if utf8.RuneCountInString(text) < f.config.MinTextLength {
			return f.undetermined(ReasonTooShort)
		}
		detected, ok := f.detect(text)
		if !ok {
			f.logger.WithField("source_url", page.SourceURL).Debug("language could not be detected")
			return f.undetermined(ReasonUndetectable)
		}
		lang = detected
	}

	if len(f.allowed) > 0 && !f.allowed[lang] {
		return Decision{Admitted: false, Language: lang, Reason: ReasonNotAllowed}
	}
	return Decision{Admitted: true, Language: lang, Reason: ReasonAllowed}
}

func (f *Filter) undetermined(reason Reason) Decision {
	return Decision{Admitted: f.config.Mode != ModeStrict, Reason: reason}
}

func (f *Filter) detect(text string) (string, bool) {
	if f.detector == nil {
		return "", false
	}
	if utf8.RuneCountInString(text) > f.config.SampleSize {
		text = string([]rune(text)[:f.config.SampleSize])
	}
	return f.detector.Detect(text)
}
