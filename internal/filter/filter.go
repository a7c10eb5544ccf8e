package filter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/forPelevin/gomoji"
	"go.uber.org/zap"
)

// Reason names the check that rejected a text
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonNotText   Reason = "not_text"
	ReasonURL       Reason = "url"
	ReasonMentions  Reason = "mentions"
	ReasonTooShort  Reason = "too_short"
	ReasonEmojiOnly Reason = "emoji_only"
	ReasonLanguage  Reason = "language"
	ReasonPanic     Reason = "panic"
)

// Reasons lists every rejection reason, in check order
var Reasons = []Reason{ReasonNotText, ReasonURL, ReasonMentions, ReasonTooShort, ReasonEmojiOnly, ReasonLanguage, ReasonPanic}

var (
	urlPattern     = regexp.MustCompile(`(?i)(https?://|www\.)\S+|\b(bit\.ly|t\.co|goo\.gl|tinyurl\.com|ow\.ly|buff\.ly|is\.gd|dlvr\.it|lnkd\.in)/\S+`)
	mentionPattern = regexp.MustCompile(`@\w+`)
)

// Options configures the quality checks
type Options struct {
	MinLength      int
	MaxMentions    int
	TargetLanguage string // ISO 639-1
}

// DefaultOptions returns the defaults used for English persona corpora
func DefaultOptions() Options {
	return Options{
		MinLength:      25,
		MaxMentions:    1,
		TargetLanguage: "en",
	}
}

// Verdict is the outcome of checking one text
type Verdict struct {
	Accepted bool
	Reason   Reason
}

// QualityFilter decides whether a message is usable as persona material.
// It holds no state between calls.
type QualityFilter struct {
	opts     Options
	detector LanguageDetector
	logger   *zap.Logger
}

// New creates a quality filter
func New(opts Options, detector LanguageDetector, logger *zap.Logger) *QualityFilter {
	if detector == nil {
		detector = NewWhatlangDetector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.TargetLanguage = strings.ToLower(strings.TrimSpace(opts.TargetLanguage))
	return &QualityFilter{
		opts:     opts,
		detector: detector,
		logger:   logger.With(zap.String("component", "quality-filter")),
	}
}

// Valid reports whether text passes every check
func (f *QualityFilter) Valid(text string) bool {
	return f.Check(text).Accepted
}

// Check runs the checks in order and stops at the first failure. A panic in
// any check rejects the text instead of propagating.
func (f *QualityFilter) Check(text string) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Quality check panicked", zap.String("panic", fmt.Sprint(r)))
			v = Verdict{Reason: ReasonPanic}
		}
	}()

	if strings.TrimSpace(text) == "" || !utf8.ValidString(text) {
		return reject(ReasonNotText)
	}
	if urlPattern.MatchString(text) {
		return reject(ReasonURL)
	}
	if len(mentionPattern.FindAllStringIndex(text, f.opts.MaxMentions+1)) > f.opts.MaxMentions {
		return reject(ReasonMentions)
	}

	clean := strings.TrimSpace(StripMentions(text))
	if utf8.RuneCountInString(clean) < f.opts.MinLength {
		return reject(ReasonTooShort)
	}
	if EmojiOnly(clean) {
		return reject(ReasonEmojiOnly)
	}

	lang, err := f.detector.Detect(clean)
	if err != nil {
		f.logger.Debug("Language detection failed", zap.Error(err))
		return reject(ReasonLanguage)
	}
	if lang != f.opts.TargetLanguage {
		return reject(ReasonLanguage)
	}

	return Verdict{Accepted: true}
}

func reject(reason Reason) Verdict {
	return Verdict{Reason: reason}
}

// StripMentions removes @mention tokens
func StripMentions(text string) string {
	return mentionPattern.ReplaceAllString(text, "")
}

// EmojiOnly reports whether text has nothing left once emoji, symbols,
// joiners and whitespace are removed
func EmojiOnly(text string) bool {
	for _, r := range gomoji.RemoveEmojis(text) {
		switch {
		case unicode.IsSpace(r):
		case unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
		case unicode.Is(unicode.Mn, r), unicode.Is(unicode.Me, r), unicode.Is(unicode.Cf, r):
		default:
			return false
		}
	}
	return true
}
