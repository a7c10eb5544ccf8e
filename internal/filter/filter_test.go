package filter

import (
	"errors"
	"testing"
)

type stubDetector struct {
	lang  string
	err   error
	panic bool
	calls int
}

func (s *stubDetector) Detect(text string) (string, error) {
	s.calls++
	if s.panic {
		panic("detector exploded")
	}
	return s.lang, s.err
}

func TestQualityFilterCheck(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		opts     Options
		detector *stubDetector
		expected Reason
	}{
		{"accepted", "Hello world this is long enough", Options{MinLength: 10, MaxMentions: 1, TargetLanguage: "en"}, &stubDetector{lang: "en"}, ReasonNone},
		{"empty", "", DefaultOptions(), &stubDetector{lang: "en"}, ReasonNotText},
		{"whitespace", "   \n\t", DefaultOptions(), &stubDetector{lang: "en"}, ReasonNotText},
		{"shortener url", "check this out http://bit.ly/xyz", DefaultOptions(), &stubDetector{lang: "en"}, ReasonURL},
		{"bare shortener", "check this out bit.ly/xyz it is really great", DefaultOptions(), &stubDetector{lang: "en"}, ReasonURL},
		{"www url", "read the full story at www.example.com today", DefaultOptions(), &stubDetector{lang: "en"}, ReasonURL},
		{"https upper case", "read the full story at HTTPS://EXAMPLE.COM/x", DefaultOptions(), &stubDetector{lang: "en"}, ReasonURL},
		{"two mentions", "@alice @bob yes indeed totally agree with you both", DefaultOptions(), &stubDetector{lang: "en"}, ReasonMentions},
		{"one mention", "@A yes indeed totally agree with you on this", DefaultOptions(), &stubDetector{lang: "en"}, ReasonNone},
		{"short after mention strip", "@someone_with_long_handle ok sure", DefaultOptions(), &stubDetector{lang: "en"}, ReasonTooShort},
		{"emoji only counts as short", "😀😀😀", DefaultOptions(), &stubDetector{lang: "en"}, ReasonTooShort},
		{"emoji only", "😀😀😀", Options{MinLength: 1, MaxMentions: 1, TargetLanguage: "en"}, &stubDetector{lang: "en"}, ReasonEmojiOnly},
		{"emoji with joiners", "👩‍👩‍👧 ❤️ 👍🏽", Options{MinLength: 1, MaxMentions: 1, TargetLanguage: "en"}, &stubDetector{lang: "en"}, ReasonEmojiOnly},
		{"wrong language", "Bonjour tout le monde, comment allez-vous aujourd'hui", DefaultOptions(), &stubDetector{lang: "fr"}, ReasonLanguage},
		{"detection failure", "zzzz qqqq xxxx vvvv wwww kkkk", DefaultOptions(), &stubDetector{err: ErrUndetermined}, ReasonLanguage},
		{"detector panic", "a perfectly normal sentence of text", DefaultOptions(), &stubDetector{panic: true}, ReasonPanic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts, tt.detector, nil)
			v := f.Check(tt.text)
			if v.Reason != tt.expected {
				t.Errorf("Check(%q).Reason = %q, want %q", tt.text, v.Reason, tt.expected)
			}
			if v.Accepted != (tt.expected == ReasonNone) {
				t.Errorf("Check(%q).Accepted = %v", tt.text, v.Accepted)
			}
		})
	}
}

func TestQualityFilterShortCircuits(t *testing.T) {
	det := &stubDetector{lang: "en"}
	f := New(DefaultOptions(), det, nil)

	f.Valid("see https://example.com/a/very/long/path for details")
	f.Valid("tiny")
	if det.calls != 0 {
		t.Errorf("language detector called %d times for texts rejected earlier", det.calls)
	}
}

func TestQualityFilterIdempotent(t *testing.T) {
	f := New(DefaultOptions(), &stubDetector{lang: "en"}, nil)
	texts := []string{
		"Hello world this is long enough for the filter",
		"😀😀😀",
		"check this out http://bit.ly/xyz",
		"@a @b two mentions are too many here",
	}
	for _, text := range texts {
		first := f.Check(text)
		second := f.Check(text)
		if first != second {
			t.Errorf("Check(%q) not idempotent: %+v then %+v", text, first, second)
		}
	}
}

func TestStripMentions(t *testing.T) {
	if got := StripMentions("@A yes @b_2 indeed"); got != " yes  indeed" {
		t.Errorf("StripMentions() = %q", got)
	}
}

func TestEmojiOnly(t *testing.T) {
	tests := []struct {
		text     string
		expected bool
	}{
		{"😀😀😀", true},
		{"  🔥  ", true},
		{"😀 hi", false},
		{"★☆", true},
		{"ok", false},
		{"", true},
	}
	for _, tt := range tests {
		if got := EmojiOnly(tt.text); got != tt.expected {
			t.Errorf("EmojiOnly(%q) = %v, want %v", tt.text, got, tt.expected)
		}
	}
}

func TestWhatlangDetector(t *testing.T) {
	d := NewWhatlangDetector()

	lang, err := d.Detect("I really think the new library release is a big improvement over the last one they shipped")
	if err != nil {
		t.Fatalf("Detect english: %v", err)
	}
	if lang != "en" {
		t.Errorf("Detect(english) = %q, want en", lang)
	}

	lang, err = d.Detect("Creo que la nueva versión de la biblioteca es una gran mejora sobre la anterior que publicaron")
	if err != nil {
		t.Fatalf("Detect spanish: %v", err)
	}
	if lang != "es" {
		t.Errorf("Detect(spanish) = %q, want es", lang)
	}

	if _, err := d.Detect("12345 67890"); !errors.Is(err, ErrUndetermined) {
		t.Errorf("Detect(digits) error = %v, want ErrUndetermined", err)
	}
}
