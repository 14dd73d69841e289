package dnsaudit

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

// MaxSPFLookups is the RFC 7208 limit on DNS-querying mechanisms.
const MaxSPFLookups = 10

func isSPF(txt string) bool {
	l := strings.ToLower(strings.TrimSpace(txt))
	return l == "v=spf1" || strings.HasPrefix(l, "v=spf1 ")
}

// spfWalk accumulates lookup counts and authorization evidence across
// include/redirect chains.
type spfWalk struct {
	r       resolver.Resolver
	ip      net.IP
	lookups int
	visited map[string]bool

	authorized bool
	// unresolved is set when some mechanism might authorize the IP but
	// could not be evaluated.
	unresolved bool
}

func (a *Auditor) checkSPF(ctx context.Context, domainName, sendingIP string) Check {
	c := Check{Name: "spf"}
	txts, err := a.r.LookupTXT(ctx, domainName)
	if err != nil && !errors.Is(err, resolver.ErrNotFound) {
		c.add(SeverityUnverified, 0, "SPF lookup failed: "+err.Error())
		return c
	}
	var records []string
	for _, t := range txts {
		if isSPF(t) {
			records = append(records, strings.TrimSpace(t))
		}
	}
	if len(records) == 0 {
		c.add(SeverityCritical, 30, "no SPF record published")
		return c
	}
	c.Found = true
	c.Record = records[0]
	if len(records) > 1 {
		c.add(SeverityWarning, 10, "multiple SPF records published ("+strconv.Itoa(len(records))+"); receivers treat this as a permanent error")
	}

	terms := strings.Fields(records[0])[1:]
	switch q := allQualifier(terms); q {
	case "-", "~":
		c.detail("all", q+"all")
	case "+":
		c.add(SeverityCritical, 25, "SPF ends in +all and authorizes every host")
	default:
		c.add(SeverityWarning, 15, "SPF does not end in -all or ~all")
	}

	w := &spfWalk{r: a.r, visited: map[string]bool{strings.ToLower(domainName): true}}
	if sendingIP != "" {
		w.ip = net.ParseIP(sendingIP)
	}
	w.walk(ctx, domainName, terms, 0)
	c.detail("lookups", strconv.Itoa(w.lookups))
	if w.lookups > MaxSPFLookups {
		c.add(SeverityWarning, 15, "SPF requires "+strconv.Itoa(w.lookups)+" DNS lookups (limit 10)")
	}

	if w.ip != nil {
		switch {
		case w.authorized:
			c.detail("sending_ip", "authorized")
		case w.unresolved:
			c.detail("sending_ip", "unverified")
			c.add(SeverityUnverified, 0, "sending IP "+sendingIP+" may be authorized by mechanisms that could not be evaluated")
		default:
			c.detail("sending_ip", "not_authorized")
			c.add(SeverityWarning, 10, "sending IP "+sendingIP+" is not authorized by SPF")
		}
	}
	return c
}

// allQualifier returns the qualifier of the "all" mechanism, or "" if the
// record has none.
func allQualifier(terms []string) string {
	for _, t := range terms {
		l := strings.ToLower(t)
		q, mech := "+", l
		if strings.ContainsAny(l[:1], "+-~?") {
			q, mech = l[:1], l[1:]
		}
		if mech == "all" {
			return q
		}
	}
	return ""
}

func (w *spfWalk) walk(ctx context.Context, domainName string, terms []string, depth int) {
	if depth > MaxSPFLookups {
		w.unresolved = true
		return
	}
	for _, t := range terms {
		l := strings.ToLower(t)
		if strings.ContainsAny(l[:1], "+-~?") {
			if l[0] == '-' || l[0] == '~' || l[0] == '?' {
				// Non-pass mechanisms still cost lookups but never authorize.
				w.count(l[1:])
				continue
			}
			l = l[1:]
		}
		switch {
		case strings.HasPrefix(l, "ip4:"), strings.HasPrefix(l, "ip6:"):
			if w.ip != nil && cidrContains(l[4:], w.ip) {
				w.authorized = true
			}
		case strings.HasPrefix(l, "include:"):
			w.lookups++
			w.follow(ctx, l[len("include:"):], depth)
		case strings.HasPrefix(l, "redirect="):
			w.lookups++
			w.follow(ctx, l[len("redirect="):], depth)
		case l == "a" || strings.HasPrefix(l, "a:") || strings.HasPrefix(l, "a/"):
			w.lookups++
			w.checkA(ctx, targetOf(l, "a", domainName))
		case l == "mx" || strings.HasPrefix(l, "mx:") || strings.HasPrefix(l, "mx/"):
			w.lookups++
			w.checkMX(ctx, targetOf(l, "mx", domainName))
		case l == "ptr" || strings.HasPrefix(l, "ptr:"), strings.HasPrefix(l, "exists:"):
			w.lookups++
			w.unresolved = true
		}
	}
}

func (w *spfWalk) count(mech string) {
	for _, p := range []string{"include:", "redirect=", "exists:", "ptr"} {
		if strings.HasPrefix(mech, p) {
			w.lookups++
			return
		}
	}
	if mech == "a" || mech == "mx" || strings.HasPrefix(mech, "a:") || strings.HasPrefix(mech, "mx:") {
		w.lookups++
	}
}

func (w *spfWalk) follow(ctx context.Context, target string, depth int) {
	target = strings.ToLower(target)
	if w.visited[target] {
		return
	}
	w.visited[target] = true
	txts, err := w.r.LookupTXT(ctx, target)
	if err != nil {
		w.unresolved = true
		return
	}
	for _, t := range txts {
		if isSPF(t) {
			w.walk(ctx, target, strings.Fields(t)[1:], depth+1)
			return
		}
	}
	w.unresolved = true
}

func (w *spfWalk) checkA(ctx context.Context, host string) {
	if w.ip == nil || w.authorized {
		return
	}
	if strings.Contains(host, "/") {
		w.unresolved = true
		return
	}
	ips, err := w.r.LookupA(ctx, host)
	if err != nil {
		if !errors.Is(err, resolver.ErrNotFound) {
			w.unresolved = true
		}
		return
	}
	for _, ip := range ips {
		if ip.Equal(w.ip) {
			w.authorized = true
			return
		}
	}
}

func (w *spfWalk) checkMX(ctx context.Context, host string) {
	if w.ip == nil || w.authorized {
		return
	}
	if strings.Contains(host, "/") {
		w.unresolved = true
		return
	}
	mxs, err := w.r.LookupMX(ctx, host)
	if err != nil {
		if !errors.Is(err, resolver.ErrNotFound) {
			w.unresolved = true
		}
		return
	}
	for _, mx := range mxs {
		w.checkA(ctx, mx.Host)
	}
}

// targetOf returns the domain a/mx mechanisms refer to, keeping a CIDR
// suffix so callers can tell it was present.
func targetOf(mech, name, current string) string {
	rest := strings.TrimPrefix(mech, name)
	switch {
	case rest == "":
		return current
	case strings.HasPrefix(rest, ":"):
		return rest[1:]
	}
	return current + rest
}

func cidrContains(block string, ip net.IP) bool {
	if !strings.Contains(block, "/") {
		other := net.ParseIP(block)
		return other != nil && other.Equal(ip)
	}
	_, n, err := net.ParseCIDR(block)
	return err == nil && n.Contains(ip)
}
