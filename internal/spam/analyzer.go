// Package spam scores message content for spam-filter risk.
//
// The analysis is advisory: it never blocks a send on its own. Scores run
// from 0 (clean) to 100 (almost certainly filtered).
package spam

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Rating buckets a score.
type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingFair      Rating = "fair"
	RatingPoor      Rating = "poor"
	RatingCritical  Rating = "critical"
)

// RatingFor maps a score to its bucket.
func RatingFor(score int) Rating {
	switch {
	case score <= 10:
		return RatingExcellent
	case score <= 25:
		return RatingGood
	case score <= 45:
		return RatingFair
	case score <= 70:
		return RatingPoor
	}
	return RatingCritical
}

// Input is the content to analyze.
type Input struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Trigger is one matched rule.
type Trigger struct {
	Category Category `json:"category"`
	Rule     string   `json:"rule"`
	Weight   int      `json:"weight"`
}

// Stats are the structural measurements used by the heuristics.
type Stats struct {
	Words     int     `json:"words"`
	Links     int     `json:"links"`
	Images    int     `json:"images"`
	TextRatio float64 `json:"text_ratio"`
}

// Report is the analysis result.
type Report struct {
	Score    int       `json:"score"`
	Rating   Rating    `json:"rating"`
	Triggers []Trigger `json:"triggers"`
	Fixes    []string  `json:"fixes"`
	Stats    Stats     `json:"stats"`
}

var (
	personalizationRe = regexp.MustCompile(`\{\{\s*[\w.]+.*?\}\}|\{%.*?%\}`)
	fakeThreadRe      = regexp.MustCompile(`(?i)^\s*(re|fw|fwd)\s*:`)
	wordRe            = regexp.MustCompile(`[\p{L}\p{N}']+`)
)

// Analyze scores the content.
func Analyze(in Input) Report {
	r := Report{Triggers: []Trigger{}, Fixes: []string{}}
	fixes := map[string]bool{}
	add := func(c Category, rule string, w int, fix string) {
		r.Triggers = append(r.Triggers, Trigger{Category: c, Rule: rule, Weight: w})
		r.Score += w
		if fix != "" && !fixes[fix] {
			fixes[fix] = true
			r.Fixes = append(r.Fixes, fix)
		}
	}

	text := in.Text
	if in.HTML != "" {
		r.Stats = measureHTML(in.HTML)
		if text == "" {
			text = htmlText(in.HTML)
		}
	}
	if in.HTML == "" {
		r.Stats.Words = len(wordRe.FindAllString(text, -1))
		r.Stats.TextRatio = 1
	}
	lowerAll := strings.ToLower(in.Subject + "\n" + text)

	for _, c := range []Category{CategoryUrgency, CategoryMoney, CategorySales} {
		for _, p := range phraseTable[c] {
			if strings.Contains(lowerAll, p.text) {
				add(c, p.text, p.weight, categoryFix[c])
			}
		}
	}

	if in.HTML != "" {
		raw := strings.ReplaceAll(strings.ToLower(in.HTML), " ", "")
		for _, t := range technicalTable {
			if strings.Contains(raw, strings.ReplaceAll(t.marker, " ", "")) {
				add(CategoryTechnical, t.marker, t.weight, t.fix)
			}
		}
		s := r.Stats
		if len(in.HTML) > 200 && s.TextRatio < 0.2 {
			add(CategoryStructure, "low text-to-markup ratio", 10, "add more written text relative to markup")
		}
		if s.Images > 0 && s.Words < 20 {
			add(CategoryStructure, "image-only message", 15, "do not send image-only emails; add real text")
		} else if s.Images > 3 {
			add(CategoryStructure, "too many images", 8, "use at most 3 images")
		}
		if s.Links > 5 {
			add(CategoryStructure, "too many links", 8, "keep links to 5 or fewer")
		}
		if s.Links > 0 && s.Words > 0 && float64(s.Words)/float64(s.Links) < 15 {
			add(CategoryStructure, "high link density", 6, "keep at least 15 words per link")
		}
	}

	if !personalizationRe.MatchString(in.Subject + in.HTML + in.Text) {
		add(CategoryStructure, "no personalization", 5, "personalize with merge fields such as {{ first_name }}")
	}

	subj := strings.TrimSpace(in.Subject)
	if isShouting(subj) {
		add(CategoryFormatting, "subject in all caps", 10, "write the subject in sentence case")
	}
	if len([]rune(subj)) > 60 {
		add(CategoryFormatting, "long subject", 4, "keep the subject under 60 characters")
	}
	if fakeThreadRe.MatchString(subj) {
		add(CategoryFormatting, "fake reply/forward prefix", 10, "drop RE:/FW: prefixes on first-touch emails")
	}
	if strings.Count(subj, "!") > 1 || strings.Count(text, "!") > 3 {
		add(CategoryFormatting, "excessive exclamation marks", 5, "use at most one exclamation mark")
	}
	if strings.Count(in.Subject+text, "$") > 2 {
		add(CategoryFormatting, "excessive dollar signs", 5, "avoid repeated currency symbols")
	}

	if r.Score > 100 {
		r.Score = 100
	}
	r.Rating = RatingFor(r.Score)
	return r
}

func isShouting(s string) bool {
	letters, upper := 0, 0
	for _, c := range s {
		if c >= 'a' && c <= 'z' {
			letters++
		} else if c >= 'A' && c <= 'Z' {
			letters++
			upper++
		}
	}
	return letters >= 5 && upper == letters
}

func measureHTML(html string) Stats {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Stats{}
	}
	doc.Find("script, style").Remove()
	text := strings.TrimSpace(doc.Text())
	s := Stats{
		Words:  len(wordRe.FindAllString(text, -1)),
		Links:  doc.Find("a[href]").Length(),
		Images: doc.Find("img").Length(),
	}
	if len(html) > 0 {
		s.TextRatio = float64(len(text)) / float64(len(html))
	}
	return s
}

func htmlText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}

// Summary is a one-line description suitable for logs.
func (r Report) Summary() string {
	return fmt.Sprintf("score=%d rating=%s triggers=%d", r.Score, r.Rating, len(r.Triggers))
}
