package dnsaudit

import (
	"context"
	"errors"
	"strings"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

func (a *Auditor) checkDMARC(ctx context.Context, domainName string) Check {
	c := Check{Name: "dmarc"}
	txts, err := a.r.LookupTXT(ctx, "_dmarc."+domainName)
	if err != nil && !errors.Is(err, resolver.ErrNotFound) {
		c.add(SeverityUnverified, 0, "DMARC lookup failed: "+err.Error())
		return c
	}
	var record string
	for _, t := range txts {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "v=dmarc1") {
			record = strings.TrimSpace(t)
			break
		}
	}
	if record == "" {
		c.add(SeverityCritical, 20, "no DMARC record at _dmarc."+domainName)
		return c
	}
	c.Found = true
	c.Record = record

	tags := parseTags(record)
	policy := strings.ToLower(tags["p"])
	c.detail("policy", policy)
	switch policy {
	case "reject", "quarantine":
	case "none":
		c.add(SeverityWarning, 10, "DMARC policy is p=none; receivers take no action on failures")
	default:
		c.add(SeverityWarning, 10, "DMARC record has no valid p= policy")
	}
	if tags["rua"] == "" {
		c.add(SeverityInfo, 5, "DMARC has no rua= aggregate report address")
	} else {
		c.detail("rua", tags["rua"])
	}
	return c
}
