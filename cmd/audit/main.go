// Command audit scores the DNS authentication of one or more domains and
// scans sending IPs against the DNS blacklists, without touching the store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/blacklist"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/dnsaudit"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/domain"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/pkg/clock"
	"github.com/blok-blok-studio/blokblokstudio-sub000/internal/resolver"
)

type checkResult struct {
	Name    string        `json:"name"`
	Passed  bool          `json:"passed"`
	Detail  string        `json:"detail"`
	Report  any           `json:"report"`
	Elapsed time.Duration `json:"elapsed"`
}

func main() {
	ip := flag.String("ip", "", "sending IP checked for PTR, SPF and blacklists")
	selectors := flag.String("selectors", "", "comma separated DKIM selectors to probe")
	nameserver := flag.String("nameserver", "1.1.1.1:53", "DNS server")
	timeout := flag.Duration("timeout", 5*time.Second, "per-query timeout")
	asJSON := flag.Bool("json", false, "print full reports as JSON")
	flag.Parse()

	if flag.NArg() == 0 && *ip == "" {
		fmt.Fprintln(os.Stderr, "usage: audit [-ip addr] [-selectors s1,s2] domain...")
		os.Exit(2)
	}

	r := resolver.New(resolver.Options{Servers: []string{*nameserver}, Timeout: *timeout})
	a := dnsaudit.New(r, dnsaudit.Options{Selectors: splitList(*selectors), DefaultIP: *ip}, clock.Real{})
	s := blacklist.NewScanner(r, nil, 4, clock.Real{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	results := run(ctx, a, s, flag.Args(), *ip)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatalf("encode: %v", err)
		}
	} else {
		printSummary(os.Stdout, results)
	}
	if !allPassed(results) {
		os.Exit(1)
	}
}

func run(ctx context.Context, a *dnsaudit.Auditor, s *blacklist.Scanner, domains []string, ip string) []checkResult {
	var out []checkResult
	for _, name := range domains {
		out = append(out, auditDomain(ctx, a, strings.ToLower(name), ip))
	}
	if ip != "" {
		out = append(out, scanIP(ctx, s, ip))
	}
	for _, name := range domains {
		out = append(out, scanDomain(ctx, s, strings.ToLower(name)))
	}
	return out
}

func auditDomain(ctx context.Context, a *dnsaudit.Auditor, name, ip string) checkResult {
	start := time.Now()
	rep := a.Audit(ctx, domain.SendingDomain{Name: name, SendingIP: ip})
	return checkResult{
		Name:    "dns " + name,
		Passed:  rep.Rating != dnsaudit.RatingCritical,
		Detail:  fmt.Sprintf("score %d (%s)", rep.Score, rep.Rating),
		Report:  rep,
		Elapsed: time.Since(start),
	}
}

func scanIP(ctx context.Context, s *blacklist.Scanner, ip string) checkResult {
	start := time.Now()
	res, err := s.ScanIP(ctx, ip)
	return blacklistResult("blacklist "+ip, res, err, start)
}

func scanDomain(ctx context.Context, s *blacklist.Scanner, name string) checkResult {
	start := time.Now()
	res, err := s.ScanDomain(ctx, name)
	return blacklistResult("blacklist "+name, res, err, start)
}

func blacklistResult(name string, res blacklist.Result, err error, start time.Time) checkResult {
	cr := checkResult{Name: name, Report: res, Elapsed: time.Since(start)}
	if err != nil {
		cr.Detail = err.Error()
		return cr
	}
	cr.Passed = !res.CriticalHit
	if res.Listed() {
		zones := make([]string, len(res.Listings))
		for i, l := range res.Listings {
			zones[i] = l.Zone
		}
		cr.Detail = fmt.Sprintf("listed on %s (score %d)", strings.Join(zones, ", "), res.Score)
	} else {
		cr.Detail = fmt.Sprintf("not listed (score %d)", res.Score)
	}
	return cr
}

func printSummary(w io.Writer, results []checkResult) {
	for i, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  [%d] %-40s %s  %s (%s)\n", i+1, r.Name, status, r.Detail, r.Elapsed.Round(time.Millisecond))
	}
	if allPassed(results) {
		fmt.Fprintln(w, "  OVERALL: PASS")
	} else {
		fmt.Fprintln(w, "  OVERALL: FAIL")
	}
}

func allPassed(results []checkResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
