// Package protocol holds the value objects shared by every extraction module:
// the paged Document a protocol is read into, the Highlight markers modules
// leave behind as evidence, and the Metadata catalog describing each derived
// feature.
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"

	"github.com/turtacn/TrialScope/pkg/errors"
)

// PageSeparator splits raw text into pages.  pdftotext emits a form feed
// between pages, so plain-text exports keep their page numbering.
const PageSeparator = "\f"

// Highlight is one evidence span found by a module on a page.
type Highlight struct {
	Module     string `json:"module"`
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// Page is a single page of plain text.  Markers are appended by modules while
// they process the enclosing Document.
type Page struct {
	Content    string      `json:"content"`
	PageNumber int         `json:"page_number"`
	Markers    []Highlight `json:"markers,omitempty"`

	mu sync.Mutex
}

// AddMarker appends h unless an identical span from the same module is
// already present.  It reports whether the marker was added.  AddMarker is
// safe for concurrent use, since modules running in parallel share the page.
func (p *Page) AddMarker(h Highlight) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	h.PageNumber = p.PageNumber
	for _, m := range p.Markers {
		if m == h {
			return false
		}
	}
	p.Markers = append(p.Markers, h)
	return true
}

// MarkersSnapshot returns a copy of the page's markers.
func (p *Page) MarkersSnapshot() []Highlight {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Highlight, len(p.Markers))
	copy(out, p.Markers)
	return out
}

// Document is an ordered sequence of pages.  Page content is never modified
// after construction; only markers grow.
type Document struct {
	ID    string  `json:"id,omitempty"`
	Pages []*Page `json:"pages"`
}

// NewDocument builds a Document from page texts, numbering pages from 1.
// Calling it with no arguments yields the empty Document.
func NewDocument(pages ...string) *Document {
	doc := &Document{Pages: make([]*Page, 0, len(pages))}
	for i, content := range pages {
		doc.Pages = append(doc.Pages, &Page{Content: content, PageNumber: i + 1})
	}
	return doc
}

// ParseDocument splits raw text on PageSeparator.  A single trailing empty
// page (from a terminating form feed) is dropped.
func ParseDocument(raw string) *Document {
	if raw == "" {
		return NewDocument()
	}
	parts := strings.Split(raw, PageSeparator)
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	return NewDocument(parts...)
}

// Validate checks that every page is present and numbered from 1.
func (d *Document) Validate() error {
	if d == nil {
		return errors.InvalidParam("document must not be nil")
	}
	for i, p := range d.Pages {
		if p == nil {
			return errors.InvalidParam("page must not be nil").WithDetail("index=" + strconv.Itoa(i))
		}
		if p.PageNumber < 1 {
			return errors.New(errors.ErrCodePageNumberInvalid, "page number must be >= 1").
				WithDetail("index=" + strconv.Itoa(i))
		}
	}
	return nil
}

// IsEmpty reports whether the document has zero pages.
func (d *Document) IsEmpty() bool {
	return d == nil || len(d.Pages) == 0
}

// Text joins all page contents with newlines.  Nil pages are skipped here
// and in Fingerprint and Markers; Validate rejects them.
func (d *Document) Text() string {
	if d.IsEmpty() {
		return ""
	}
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		if p != nil {
			parts = append(parts, p.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// Fingerprint returns a stable hex SHA-256 over page contents and numbers.
// Markers do not contribute, so processing a document leaves it unchanged.
func (d *Document) Fingerprint() string {
	h := sha256.New()
	if d != nil {
		for _, p := range d.Pages {
			if p == nil {
				continue
			}
			h.Write([]byte(strconv.Itoa(p.PageNumber)))
			h.Write([]byte{0})
			h.Write([]byte(p.Content))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Markers flattens the markers of every page, in page order, for the
// external highlighting collaborator.
func (d *Document) Markers() []Highlight {
	if d.IsEmpty() {
		return nil
	}
	var out []Highlight
	for _, p := range d.Pages {
		if p != nil {
			out = append(out, p.MarkersSnapshot()...)
		}
	}
	return out
}
