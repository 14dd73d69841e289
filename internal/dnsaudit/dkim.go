package dnsaudit

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

// DefaultSelectors are probed when a domain has none configured.
var DefaultSelectors = []string{
	"default", "google", "selector1", "selector2", "k1", "s1", "s2",
	"mail", "dkim", "smtp", "mandrill", "everlytickey1", "pm",
}

// dkimKey is a parsed DKIM public key record.
type dkimKey struct {
	selector string
	keyType  string
	bits     int
	revoked  bool
}

// parseTags splits "k=v; k2=v2" records into a map with lower-case keys.
func parseTags(record string) map[string]string {
	tags := map[string]string{}
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		tags[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return tags
}

func parseDKIM(selector, record string) (dkimKey, bool) {
	tags := parseTags(record)
	p, hasP := tags["p"]
	if !hasP && !strings.Contains(strings.ToLower(record), "v=dkim1") {
		return dkimKey{}, false
	}
	k := dkimKey{selector: selector, keyType: strings.ToLower(tags["k"])}
	if k.keyType == "" {
		k.keyType = "rsa"
	}
	p = strings.Join(strings.Fields(p), "")
	if p == "" {
		k.revoked = true
		return k, true
	}
	if k.keyType != "rsa" {
		return k, true
	}
	der, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		return k, true
	}
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rk, ok := pub.(*rsa.PublicKey); ok {
			k.bits = rk.N.BitLen()
		}
	} else if rk, err := x509.ParsePKCS1PublicKey(der); err == nil {
		k.bits = rk.N.BitLen()
	}
	return k, true
}

func (a *Auditor) checkDKIM(ctx context.Context, domainName string, selectors []string) Check {
	c := Check{Name: "dkim"}
	if len(selectors) == 0 {
		selectors = a.selectors
	}
	var keys []dkimKey
	lookupFailed := false
	for _, sel := range selectors {
		txts, err := a.r.LookupTXT(ctx, sel+"._domainkey."+domainName)
		if err != nil {
			if !errors.Is(err, resolver.ErrNotFound) {
				lookupFailed = true
			}
			continue
		}
		for _, t := range txts {
			if k, ok := parseDKIM(sel, t); ok && !k.revoked {
				keys = append(keys, k)
				break
			}
		}
	}

	if len(keys) == 0 {
		if lookupFailed {
			c.add(SeverityUnverified, 0, "DKIM lookups failed for some selectors")
		} else {
			c.add(SeverityCritical, 20, "no DKIM key found for selectors "+strings.Join(selectors, ", "))
		}
		return c
	}
	c.Found = true

	var found []string
	weakest := 0
	for _, k := range keys {
		found = append(found, k.selector)
		if k.keyType == "rsa" && k.bits > 0 && (weakest == 0 || k.bits < weakest) {
			weakest = k.bits
		}
	}
	sort.Strings(found)
	c.detail("selectors", strings.Join(found, ","))
	if weakest > 0 {
		c.detail("min_key_bits", strconv.Itoa(weakest))
	}
	if sev, deduction, msg := keyStrength(weakest); deduction > 0 {
		c.add(sev, deduction, msg)
	}
	return c
}

// keyStrength grades an RSA modulus size. Zero bits means unknown and
// is not graded.
func keyStrength(bits int) (Severity, int, string) {
	switch {
	case bits == 0:
		return "", 0, ""
	case bits < 1024:
		return SeverityCritical, 15, "DKIM key is only " + strconv.Itoa(bits) + " bits"
	case bits == 1024:
		return SeverityInfo, 5, "DKIM key is 1024 bits; 2048 is recommended"
	}
	return "", 0, ""
}
