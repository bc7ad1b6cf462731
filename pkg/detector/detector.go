package detector

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

// MinLetters is the shortest text the detector will judge. Anything shorter
// (a one-line tldr description, a bare command name) counts as English.
const MinLetters = 24

// DefaultMinConfidence is the English confidence below which a text is
// treated as non-English.
const DefaultMinConfidence = 0.5

// languages the man-page and tldr trees are known to contain
var languages = []lingua.Language{
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Portuguese,
	lingua.Italian,
	lingua.Russian,
	lingua.Chinese,
	lingua.Japanese,
	lingua.Korean,
}

// Result is what Detect reports about one text
type Result struct {
	Language   string  // e.g. "English", "" when undetermined
	ISOCode    string  // ISO 639-1, e.g. "EN"
	Confidence float64 // 0-1 confidence of Language
	English    float64 // 0-1 confidence the text is English
	Letters    int
}

// Detector wraps a lingua detector restricted to a small language set.
type Detector struct {
	lingua        lingua.LanguageDetector
	minConfidence float64
}

// New builds a detector. Building loads language models, so share one.
func New() *Detector {
	return &Detector{
		lingua: lingua.NewLanguageDetectorBuilder().
			FromLanguages(languages...).
			WithPreloadedLanguageModels().
			Build(),
		minConfidence: DefaultMinConfidence,
	}
}

// WithMinConfidence returns a copy using a different English threshold.
func (d *Detector) WithMinConfidence(c float64) *Detector {
	cp := *d
	cp.minConfidence = c
	return &cp
}

var (
	codeFence  = regexp.MustCompile("(?s)```.*?```")
	inlineCode = regexp.MustCompile("`[^`]*`")
	flagLike   = regexp.MustCompile(`(^|\s)-{1,2}[\w-]+`)
)

// prose strips code and option flags, which skew detection toward English
// on translated pages.
func prose(text string) string {
	text = codeFence.ReplaceAllString(text, " ")
	text = inlineCode.ReplaceAllString(text, " ")
	text = flagLike.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// Detect analyses text.
func (d *Detector) Detect(text string) Result {
	clean := prose(text)
	res := Result{Letters: countLetters(clean)}
	if res.Letters < MinLetters {
		res.English = 1
		return res
	}

	if lang, ok := d.lingua.DetectLanguageOf(clean); ok {
		res.Language = lang.String()
		res.ISOCode = lang.IsoCode639_1().String()
		res.Confidence = d.lingua.ComputeLanguageConfidence(clean, lang)
	}
	res.English = d.lingua.ComputeLanguageConfidence(clean, lingua.English)
	return res
}

// IsEnglish reports whether text reads as English. Short texts always do.
func (d *Detector) IsEnglish(text string) bool {
	res := d.Detect(text)
	if res.Letters < MinLetters {
		return true
	}
	return res.English >= d.minConfidence
}
