package replies

import (
	"mime"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// PreviewLimit is the maximum preview length in characters.
const PreviewLimit = 500

// Message is one fetched mailbox message.
type Message struct {
	Seq           int
	From          string
	FromAddress   string
	To            string
	Subject       string
	MessageID     string
	InReplyTo     string
	AutoSubmitted string
	Date          time.Time
	Preview       string
}

var (
	fetchMarker = regexp.MustCompile(`(?m)^\* (\d+) FETCH`)
	foldRe      = regexp.MustCompile(`\n[ \t]+`)
	headerWords = new(mime.WordDecoder)
	headerRes   = map[string]*regexp.Regexp{}
)

func init() {
	for _, name := range []string{"From", "To", "Subject", "Message-ID", "In-Reply-To", "Auto-Submitted", "Date"} {
		headerRes[name] = regexp.MustCompile(`(?mi)^` + regexp.QuoteMeta(name) + `:[ \t]*(.*)$`)
	}
}

// ParseFetch splits raw untagged FETCH data into messages.
func ParseFetch(raw string) []Message {
	locs := fetchMarker.FindAllStringSubmatchIndex(raw, -1)
	out := make([]Message, 0, len(locs))
	for i, loc := range locs {
		end := len(raw)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		seq, _ := strconv.Atoi(raw[loc[2]:loc[3]])
		chunk := raw[loc[1]:end]
		// skip the rest of the FETCH line, up to and including the literal marker
		if nl := strings.IndexByte(chunk, '\n'); nl >= 0 {
			chunk = chunk[nl+1:]
		}
		m := parseMessage(chunk)
		m.Seq = seq
		out = append(out, m)
	}
	return out
}

func parseMessage(chunk string) Message {
	chunk = strings.ReplaceAll(chunk, "\r\n", "\n")
	head, body, _ := strings.Cut(chunk, "\n\n")
	head = unfold(head)

	m := Message{
		From:          header(head, "From"),
		To:            header(head, "To"),
		Subject:       header(head, "Subject"),
		MessageID:     strings.Trim(header(head, "Message-ID"), " <>"),
		InReplyTo:     strings.Trim(header(head, "In-Reply-To"), " <>"),
		AutoSubmitted: strings.ToLower(header(head, "Auto-Submitted")),
	}
	if addr, err := mail.ParseAddress(m.From); err == nil {
		m.FromAddress = strings.ToLower(addr.Address)
	} else {
		m.FromAddress = strings.ToLower(strings.Trim(m.From, " <>"))
	}
	if d := header(head, "Date"); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			m.Date = t
		}
	}
	m.Preview = preview(body)
	return m
}

// unfold joins RFC 5322 continuation lines onto their header.
func unfold(head string) string {
	return foldRe.ReplaceAllString(head, " ")
}

func header(head, name string) string {
	m := headerRes[name].FindStringSubmatch(head)
	if m == nil {
		return ""
	}
	v := strings.TrimSpace(m[1])
	if dec, err := headerWords.DecodeHeader(v); err == nil {
		return dec
	}
	return v
}

// preview trims the body, drops the closing FETCH paren line and caps the
// length.
func preview(body string) string {
	body = strings.TrimSpace(body)
	body = strings.TrimSpace(strings.TrimSuffix(body, ")"))
	if utf8.RuneCountInString(body) <= PreviewLimit {
		return body
	}
	r := []rune(body)
	return string(r[:PreviewLimit])
}
