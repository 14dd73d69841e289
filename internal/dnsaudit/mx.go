package dnsaudit

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

func (a *Auditor) checkMX(ctx context.Context, domainName string) Check {
	c := Check{Name: "mx"}
	mxs, err := a.r.LookupMX(ctx, domainName)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			c.add(SeverityCritical, 15, "no MX records; replies and bounces cannot be delivered")
		} else {
			c.add(SeverityUnverified, 0, "MX lookup failed: "+err.Error())
		}
		return c
	}
	c.Found = true
	sort.Slice(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })

	var hosts []string
	resolving, failed := 0, 0
	for _, mx := range mxs {
		hosts = append(hosts, mx.Host)
		_, err := a.r.LookupA(ctx, mx.Host)
		switch {
		case err == nil:
			resolving++
		case !errors.Is(err, resolver.ErrNotFound):
			failed++
		}
	}
	c.Record = strings.Join(hosts, ",")
	c.detail("resolving", strconv.Itoa(resolving))
	if resolving == 0 {
		if failed > 0 {
			c.add(SeverityUnverified, 0, "MX hosts could not be resolved")
		} else {
			c.add(SeverityWarning, 10, "no MX host resolves to an address")
		}
	}
	return c
}
