// Package fingerprint blocks bursts of identical message bodies.
//
// Bodies are normalized so that personalization (names, addresses, links,
// dates, long numbers) does not make otherwise identical content look
// unique, then hashed with FNV-1a. Sends of the same hash are counted in a
// sliding window held in process memory.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
)

// Defaults.
const (
	DefaultMaxIdentical = 5
	DefaultWindow       = time.Hour
)

// Verdict is the result of a fingerprint check.
type Verdict struct {
	Allowed    bool   `json:"allowed"`
	Hash       uint64 `json:"hash"`
	Count      int    `json:"count"`
	Warning    string `json:"warning,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Guard counts normalized body hashes over a sliding window.
type Guard struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	max     int
	entries map[uint64][]time.Time
}

// NewGuard creates a guard. Zero values select the defaults.
func NewGuard(max int, window time.Duration, c clock.Clock) *Guard {
	if max <= 0 {
		max = DefaultMaxIdentical
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{
		clock:   clock.OrReal(c),
		window:  window,
		max:     max,
		entries: make(map[uint64][]time.Time),
	}
}

// Check records a send of body and reports whether it may go out. The send
// that reaches the limit is allowed with a warning; any send past it is
// refused and not recorded.
func (g *Guard) Check(body string) Verdict {
	h := Hash(body)
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.evict(now)

	seen := len(g.entries[h])
	if seen >= g.max {
		return Verdict{
			Allowed: false,
			Hash:    h,
			Count:   seen,
			Suggestion: fmt.Sprintf("identical content sent %d times in the last %s; vary the body with spintax or personalization",
				seen, g.window),
		}
	}

	g.entries[h] = append(g.entries[h], now)
	v := Verdict{Allowed: true, Hash: h, Count: seen + 1}
	if v.Count == g.max {
		v.Warning = fmt.Sprintf("content limit reached (%d/%d); the next identical send will be blocked", v.Count, g.max)
	}
	return v
}

// Peek returns how many times body was sent in the current window without
// recording anything.
func (g *Guard) Peek(body string) int {
	h := Hash(body)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evict(g.clock.Now())
	return len(g.entries[h])
}

// Max returns the number of identical sends allowed per window.
func (g *Guard) Max() int { return g.max }

// Len returns the number of distinct hashes tracked.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *Guard) evict(now time.Time) {
	cutoff := now.Add(-g.window)
	for h, times := range g.entries {
		i := 0
		for i < len(times) && !times[i].After(cutoff) {
			i++
		}
		if i == len(times) {
			delete(g.entries, h)
			continue
		}
		if i > 0 {
			g.entries[h] = times[i:]
		}
	}
}

// Hash returns the FNV-1a 64 hash of the normalized body.
func Hash(body string) uint64 {
	f := fnv.New64a()
	f.Write([]byte(Normalize(body)))
	return f.Sum64()
}

var (
	emailRe = regexp.MustCompile(`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	urlRe   = regexp.MustCompile(`(?:https?://|www\.)[^\s"'<>]+`)
	dateRe  = regexp.MustCompile(`\b\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}\b|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s*\d{4})?\b`)
	timeRe  = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\s*(?:am|pm)?\b`)
	numRe   = regexp.MustCompile(`\d{4,}`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// Normalize reduces body to the content that identifies a template.
func Normalize(body string) string {
	text := body
	if strings.Contains(body, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
			doc.Find("script, style").Remove()
			doc.Find("img").Each(func(_ int, s *goquery.Selection) {
				if isTrackingPixel(s) {
					s.Remove()
				}
			})
			// keep link targets so they normalize to {url} instead of vanishing
			doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
				href, _ := s.Attr("href")
				s.AppendHtml(" " + href + " ")
			})
			doc.Find("br, p, div, li, tr, h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
				s.AppendHtml(" ")
			})
			text = doc.Text()
		}
	}
	text = strings.ToLower(text)
	text = emailRe.ReplaceAllString(text, "{email}")
	text = urlRe.ReplaceAllString(text, "{url}")
	text = dateRe.ReplaceAllString(text, "{date}")
	text = timeRe.ReplaceAllString(text, "{date}")
	text = numRe.ReplaceAllString(text, "{num}")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func isTrackingPixel(s *goquery.Selection) bool {
	w, _ := s.Attr("width")
	h, _ := s.Attr("height")
	if (w == "1" || w == "0") && (h == "1" || h == "0") {
		return true
	}
	style, _ := s.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") ||
		(strings.Contains(style, "width:1px") && strings.Contains(style, "height:1px"))
}
