package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
)

func TestNormalizeCollapsesPersonalization(t *testing.T) {
	a := `<p>Hi Jane,</p><p>Saw jane@acme.com on https://acme.com/about?id=1 on 2025-03-04 at 10:30am. Ref 123456.</p>` +
		`<img src="https://t.example.com/o.gif" width="1" height="1">`
	b := `<p>Hi Jane,</p><p>Saw bob@globex.io on https://globex.io on 3/5/2025 at 4:15 pm. Ref 987654321.</p>`

	assert.Equal(t, Normalize(a), Normalize(b))
	assert.Equal(t, "hi jane, saw {email} on {url} on {date} at {date}. ref {num}.", Normalize(b))
}

func TestNormalizePlainText(t *testing.T) {
	assert.Equal(t, "hello {email} there", Normalize("  Hello\n\n JOE@x.org   there "))
}

func TestGuardLimits(t *testing.T) {
	fc := clock.NewFake(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	g := NewGuard(5, time.Hour, fc)
	body := "<p>Quick question about your roadmap</p>"

	for i := 1; i <= 4; i++ {
		v := g.Check(body)
		assert.True(t, v.Allowed, "send %d", i)
		assert.Empty(t, v.Warning, "send %d", i)
		assert.Equal(t, i, v.Count)
	}

	fifth := g.Check(body)
	assert.True(t, fifth.Allowed)
	assert.NotEmpty(t, fifth.Warning)

	sixth := g.Check(body)
	assert.False(t, sixth.Allowed)
	assert.NotEmpty(t, sixth.Suggestion)
	assert.Equal(t, 5, g.Peek(body), "refused sends are not recorded")

	other := g.Check("<p>A completely different message</p>")
	assert.True(t, other.Allowed)
}

func TestGuardWindowSlides(t *testing.T) {
	fc := clock.NewFake(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	g := NewGuard(2, time.Hour, fc)
	body := "same body"

	g.Check(body)
	fc.Advance(30 * time.Minute)
	g.Check(body)
	assert.False(t, g.Check(body).Allowed)

	fc.Advance(31 * time.Minute)
	v := g.Check(body)
	assert.True(t, v.Allowed, "first send aged out")
	assert.Equal(t, 2, v.Count)

	fc.Advance(2 * time.Hour)
	assert.Equal(t, 0, g.Peek(body))
	assert.Equal(t, 0, g.Len(), "expired hashes are evicted")
}
