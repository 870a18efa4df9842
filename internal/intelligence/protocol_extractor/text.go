package protocol_extractor

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
)

// maxExcerpt caps the evidence text stored per match.
const maxExcerpt = 200

// pageText is a normalised view of one page.  Modules match against text;
// mark translates match offsets back to the raw page content through from
// and to.
type pageText struct {
	page *protocol.Page
	text string
	// from[i] is the raw offset where the span producing text[i] begins and
	// to[i] is the raw offset where the span producing text[i-1] ends.  Both
	// have len(text)+1 entries.
	from []int
	to   []int
}

func newPageText(p *protocol.Page) pageText {
	pt := pageText{page: p}
	pt.text, pt.from, pt.to = normalize(p.Content)
	return pt
}

// normalize applies NFKC (folding ligatures, full-width digits and non-breaking
// spaces left by PDF conversion) and replaces control and invalid bytes with
// spaces.  Each NFKC segment is normalised on its own so every output byte can
// be traced to the raw bytes it came from.
func normalize(s string) (string, []int, []int) {
	var b strings.Builder
	b.Grow(len(s))
	from := make([]int, 0, len(s)+1)
	to := make([]int, 1, len(s)+1)
	emit := func(out string, rawStart, rawEnd int) {
		for i := 0; i < len(out); i++ {
			from = append(from, rawStart)
			to = append(to, rawEnd)
		}
		b.WriteString(out)
	}

	for i := 0; i < len(s); {
		if r, size := utf8.DecodeRuneInString(s[i:]); r == utf8.RuneError && size <= 1 {
			emit(" ", i, i+1)
			i++
			continue
		}
		j := i
		for j < len(s) {
			r, size := utf8.DecodeRuneInString(s[j:])
			if r == utf8.RuneError && size <= 1 {
				break
			}
			j += size
		}
		for k := i; k < j; {
			n := norm.NFKC.NextBoundaryInString(s[k:j], true)
			if n <= 0 {
				n = j - k
			}
			emit(blankControls(norm.NFKC.String(s[k:k+n])), k, k+n)
			k += n
		}
		i = j
	}
	from = append(from, len(s))
	return b.String(), from, to
}

func blankControls(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return ' '
		}
		return r
	}, s)
}

// pagesOf returns normalised views of every non-nil page in doc.
func pagesOf(doc *protocol.Document) []pageText {
	if doc.IsEmpty() {
		return nil
	}
	out := make([]pageText, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		out = append(out, newPageText(p))
	}
	return out
}

// rawSpan maps a match in text onto the page content.
func (pt pageText) rawSpan(start, end int) (int, int) {
	return pt.from[start], pt.to[end]
}

// mark records a marker for module on the page and returns matching evidence.
// Offsets and text refer to the raw page content.
func (pt pageText) mark(module string, start, end int, score float64) Evidence {
	rawStart, rawEnd := pt.rawSpan(start, end)
	excerpt := truncate(pt.page.Content[rawStart:rawEnd], maxExcerpt)
	pt.page.AddMarker(protocol.Highlight{
		Module: module,
		Text:   excerpt,
		Start:  rawStart,
		End:    rawEnd,
	})
	return Evidence{PageNumber: pt.page.PageNumber, Text: excerpt, Score: score}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var negationRe = regexp.MustCompile(`(?i)\b(?:no|not|without|none|neither|nor)\b`)

// negated reports whether a negation word occurs within the few words before
// offset start.
func negated(text string, start int) bool {
	from := start - 40
	if from < 0 {
		from = 0
	}
	// Avoid splitting a multi-byte rune at the window edge.
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	window := text[from:start]
	if i := strings.LastIndexAny(window, ".;:"); i >= 0 {
		window = window[i+1:]
	}
	return negationRe.MatchString(window)
}

// parseNumber parses digits with optional thousands separators.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// Token is a whitespace-delimited span of text with byte offsets.
type Token struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Tokenize splits text on Unicode whitespace, keeping offsets into text.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Text: text[start:i], Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: text[start:], Start: start, End: len(text)})
	}
	return tokens
}
