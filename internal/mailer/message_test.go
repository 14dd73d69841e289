package mailer

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMessage(t *testing.T, raw []byte) (mail.Header, map[string]string) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	parts := map[string]string{}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(p.Body)
			require.NoError(t, err)
			parts[ct] = string(body)
		}
	}
	return mr.Header, parts
}

func TestBuildMessageHeaders(t *testing.T) {
	raw, id, err := BuildMessage(Message{
		FromName:          "Jane Doe",
		FromEmail:         "jane@outreach.example.com",
		To:                "lead@prospect.io",
		Subject:           "Quick question",
		HTML:              "<p>Hi there, <a href=\"https://example.com/x\">see this</a></p>",
		CampaignID:        "c1",
		AccountID:         "a1",
		UnsubscribeURL:    "https://example.com/u/abc",
		UnsubscribeMailto: "unsubscribe@example.com",
		Date:              time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@outreach.example.com>"))

	h, parts := readMessage(t, raw)
	assert.Equal(t, id, h.Get("Message-Id"))
	assert.Equal(t, "<mailto:unsubscribe@example.com>, <https://example.com/u/abc>", h.Get("List-Unsubscribe"))
	assert.Equal(t, "List-Unsubscribe=One-Click", h.Get("List-Unsubscribe-Post"))
	assert.Equal(t, "c1:a1:outreach", h.Get("Feedback-Id"))
	assert.Equal(t, "bulk", h.Get("Precedence"))
	assert.Empty(t, h.Get("In-Reply-To"))

	subj, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Quick question", subj)

	require.Contains(t, parts, "text/plain")
	require.Contains(t, parts, "text/html")
	assert.Contains(t, parts["text/plain"], "see this (https://example.com/x)")
	assert.Contains(t, parts["text/html"], "<a href=\"https://example.com/x\">")
}

func TestBuildMessageThreading(t *testing.T) {
	raw, _, err := BuildMessage(Message{
		FromEmail: "jane@outreach.example.com",
		To:        "lead@prospect.io",
		Subject:   "Re: Quick question",
		Text:      "Following up.",
		InReplyTo: "<first@outreach.example.com>",
	})
	require.NoError(t, err)

	h, parts := readMessage(t, raw)
	assert.Equal(t, "<first@outreach.example.com>", h.Get("In-Reply-To"))
	assert.Equal(t, "<first@outreach.example.com>", h.Get("References"))
	assert.Empty(t, h.Get("List-Unsubscribe"))
	assert.NotContains(t, parts, "text/html")
	assert.Equal(t, "Following up.", strings.TrimSpace(parts["text/plain"]))
}

func TestBuildMessageEncodesNonASCIISubject(t *testing.T) {
	raw, _, err := BuildMessage(Message{
		FromEmail: "jane@outreach.example.com",
		To:        "lead@prospect.io",
		Subject:   "Grüße aus München",
		Text:      "Hallo",
	})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Subject: Grüße")

	h, _ := readMessage(t, raw)
	subj, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Grüße aus München", subj)
}

func TestBuildMessageRequiresAddresses(t *testing.T) {
	_, _, err := BuildMessage(Message{Subject: "x"})
	assert.Error(t, err)
}

func TestPlainText(t *testing.T) {
	got := PlainText(`<html><head><style>p{}</style></head><body>
		<p>Hello <b>Jane</b>,</p>
		<p>Line one<br>Line two</p>
		<ul><li>First</li><li>Second</li></ul>
		<p><a href="https://example.com/demo">Book a demo</a></p>
	</body></html>`)

	assert.Contains(t, got, "Hello Jane,")
	assert.Contains(t, got, "Line one\nLine two")
	assert.Contains(t, got, "- First")
	assert.Contains(t, got, "- Second")
	assert.Contains(t, got, "Book a demo (https://example.com/demo)")
	assert.NotContains(t, got, "p{}")
	assert.NotContains(t, got, "\n\n\n")
}
