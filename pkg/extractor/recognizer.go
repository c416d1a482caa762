package extractor

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

// Mention is a raw recognizer hit. Start and End are rune offsets into the
// recognized text; Confidence is zero when the recognizer reports none.
type Mention struct {
	Text       string
	Label      string
	Start      int
	End        int
	Confidence float64
}

// Recognizer finds named-entity mentions in text. Implementations are
// CPU-bound and synchronous.
type Recognizer interface {
	Recognize(text string) ([]Mention, error)
}

// ProseRecognizer tags text with prose's averaged-perceptron NER model.
type ProseRecognizer struct {
	modelPath string
	once      sync.Once
	model     *prose.Model
}

// NewProseRecognizer uses the built-in model, or a model trained and saved
// with prose when modelPath is set.
func NewProseRecognizer(modelPath string) *ProseRecognizer {
	return &ProseRecognizer{modelPath: modelPath}
}

func (r *ProseRecognizer) Recognize(text string) ([]Mention, error) {
	opts := []prose.DocOpt{prose.WithSegmentation(false)}
	if r.modelPath != "" {
		r.once.Do(func() { r.model = prose.ModelFromDisk(r.modelPath) })
		opts = append(opts, prose.UsingModel(r.model))
	}

	doc, err := prose.NewDocument(text, opts...)
	if err != nil {
		return nil, err
	}

	locator := newLocator(text)
	mentions := make([]Mention, 0, len(doc.Entities()))
	for _, ent := range doc.Entities() {
		start, end, ok := locator.find(ent.Text)
		if !ok {
			continue
		}
		mentions = append(mentions, Mention{
			Text:  locator.slice(start, end),
			Label: ent.Label,
			Start: start,
			End:   end,
		})
	}
	return mentions, nil
}

// locator resolves recognizer output back to rune offsets. Mentions arrive
// in document order, so searching resumes after the previous hit.
type locator struct {
	text   string
	cursor int // byte offset
}

func newLocator(text string) *locator {
	return &locator{text: text}
}

func (l *locator) find(mention string) (int, int, bool) {
	mention = strings.TrimSpace(mention)
	if mention == "" {
		return 0, 0, false
	}

	if start, end, ok := l.search(mention, l.cursor); ok {
		l.cursor = end
		return l.runeOffset(start), l.runeOffset(end), true
	}
	if start, end, ok := l.search(mention, 0); ok {
		return l.runeOffset(start), l.runeOffset(end), true
	}
	return 0, 0, false
}

// search finds mention at or after from. Tokenizers join multi-token
// entities with single spaces, so token gaps match any whitespace run.
func (l *locator) search(mention string, from int) (int, int, bool) {
	if i := strings.Index(l.text[from:], mention); i >= 0 {
		return from + i, from + i + len(mention), true
	}

	tokens := strings.Fields(mention)
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = regexp.QuoteMeta(tok)
	}
	re, err := regexp.Compile(strings.Join(quoted, `\s*`))
	if err != nil {
		return 0, 0, false
	}
	loc := re.FindStringIndex(l.text[from:])
	if loc == nil {
		return 0, 0, false
	}
	return from + loc[0], from + loc[1], true
}

func (l *locator) runeOffset(byteOffset int) int {
	return utf8.RuneCountInString(l.text[:byteOffset])
}

func (l *locator) slice(start, end int) string {
	runes := []rune(l.text)
	return string(runes[start:end])
}
