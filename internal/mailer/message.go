package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Message is one outbound email before encoding.
type Message struct {
	FromName          string
	FromEmail         string
	To                string
	Subject           string
	HTML              string
	Text              string
	CampaignID        string
	AccountID         string
	LeadID            string
	UnsubscribeURL    string
	UnsubscribeMailto string
	FeedbackPrefix    string
	InReplyTo         string
	References        []string
	MessageID         string
	Date              time.Time
}

// MessageIDFor returns a new "<uuid@domain>" identifier for a sender.
func MessageIDFor(fromEmail string) string {
	host := "localhost"
	if at := strings.LastIndex(fromEmail, "@"); at >= 0 && at < len(fromEmail)-1 {
		host = fromEmail[at+1:]
	}
	return "<" + uuid.New().String() + "@" + host + ">"
}

// BuildMessage encodes m as an RFC 5322 message and returns the bytes and the
// Message-ID used. A plain-text part is generated from HTML when Text is
// empty; both parts are quoted-printable.
func BuildMessage(m Message) ([]byte, string, error) {
	if m.FromEmail == "" || m.To == "" {
		return nil, "", fmt.Errorf("build message: from and to are required")
	}
	if m.MessageID == "" {
		m.MessageID = MessageIDFor(m.FromEmail)
	}
	if m.Date.IsZero() {
		m.Date = time.Now()
	}
	text := m.Text
	if text == "" && m.HTML != "" {
		text = PlainText(m.HTML)
	}

	var h mail.Header
	h.SetDate(m.Date)
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.FromEmail}})
	h.SetAddressList("To", []*mail.Address{{Address: m.To}})
	h.SetSubject(m.Subject)
	h.Set("Message-ID", m.MessageID)
	h.Set("MIME-Version", "1.0")
	h.Set("Precedence", "bulk")

	if unsub := listUnsubscribe(m); unsub != "" {
		h.Set("List-Unsubscribe", unsub)
		if m.UnsubscribeURL != "" {
			h.Set("List-Unsubscribe-Post", "List-Unsubscribe=One-Click")
		}
	}
	if m.CampaignID != "" || m.AccountID != "" {
		prefix := m.FeedbackPrefix
		if prefix == "" {
			prefix = "outreach"
		}
		h.Set("Feedback-ID", fmt.Sprintf("%s:%s:%s", orDash(m.CampaignID), orDash(m.AccountID), prefix))
	}
	if m.InReplyTo != "" {
		h.Set("In-Reply-To", m.InReplyTo)
		refs := m.References
		if len(refs) == 0 {
			refs = []string{m.InReplyTo}
		}
		h.Set("References", strings.Join(refs, " "))
	}

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("build message: %w", err)
	}
	if err := writePart(w, "text/plain", text); err != nil {
		return nil, "", err
	}
	if m.HTML != "" {
		if err := writePart(w, "text/html", m.HTML); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("build message: %w", err)
	}
	return buf.Bytes(), m.MessageID, nil
}

func writePart(w *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("build %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		pw.Close()
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

func listUnsubscribe(m Message) string {
	var parts []string
	if m.UnsubscribeMailto != "" {
		mailto := m.UnsubscribeMailto
		if !strings.HasPrefix(mailto, "mailto:") {
			mailto = "mailto:" + mailto
		}
		parts = append(parts, "<"+mailto+">")
	}
	if m.UnsubscribeURL != "" {
		parts = append(parts, "<"+m.UnsubscribeURL+">")
	}
	return strings.Join(parts, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
