package dnsaudit

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

var genericPTRWords = []string{"dynamic", "dhcp", "pool", "dsl", "cable", "static-ip"}

// IsGenericHostname reports whether a reverse name looks like an ISP
// default: typical keywords, or the address octets embedded in the name.
func IsGenericHostname(host, ip string) bool {
	h := strings.ToLower(host)
	for _, w := range genericPTRWords {
		if strings.Contains(h, w) {
			return true
		}
	}
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return false
	}
	o := [4]string{}
	for i, b := range parsed {
		o[i] = strconv.Itoa(int(b))
	}
	for _, sep := range []string{"-", ".", "_"} {
		fwd := o[0] + sep + o[1] + sep + o[2] + sep + o[3]
		rev := o[3] + sep + o[2] + sep + o[1] + sep + o[0]
		if strings.Contains(h, fwd) || strings.Contains(h, rev) {
			return true
		}
	}
	return false
}

func (a *Auditor) checkPTR(ctx context.Context, ip string) Check {
	c := Check{Name: "ptr"}
	if ip == "" {
		c.add(SeverityInfo, 0, "no sending IP configured; reverse DNS not checked")
		return c
	}
	names, err := a.r.LookupPTR(ctx, ip)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			c.add(SeverityCritical, 15, "no PTR record for "+ip)
		} else {
			c.add(SeverityUnverified, 0, "PTR lookup failed: "+err.Error())
		}
		return c
	}
	c.Found = true
	host := names[0]
	c.Record = host

	addrs, err := a.r.LookupA(ctx, host)
	switch {
	case err != nil && !errors.Is(err, resolver.ErrNotFound):
		c.add(SeverityUnverified, 0, "forward lookup of "+host+" failed: "+err.Error())
	case !containsIP(addrs, ip):
		c.add(SeverityWarning, 10, "PTR "+host+" does not resolve back to "+ip)
	default:
		c.detail("forward_confirmed", "true")
	}
	if IsGenericHostname(host, ip) {
		c.add(SeverityInfo, 5, "PTR "+host+" looks like a generic ISP hostname")
	}
	return c
}

func containsIP(ips []net.IP, ip string) bool {
	want := net.ParseIP(ip)
	for _, got := range ips {
		if got.Equal(want) {
			return true
		}
	}
	return false
}
