// Package resolver performs the DNS lookups used by the auditor, the
// blacklist scanner and provider classification.
//
// Queries go to explicit nameservers with a per-query timeout instead of the
// system resolver, so results are not affected by local caching or search
// domains. Truncated UDP answers are repeated over TCP.
//
// DNSBL operators such as Spamhaus refuse queries relayed by large public
// resolvers (1.1.1.1, 8.8.8.8) and answer 127.255.255.x instead. Blacklist
// scans need a local recursive resolver or a registered DQS endpoint.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ErrNotFound means the name does not exist or has no records of the
// requested type. Any other error is a lookup failure.
var ErrNotFound = errors.New("dns: no such record")

// MX is a mail exchanger record.
type MX struct {
	Host string
	Pref uint16
}

// Resolver is the lookup surface used by the engine.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupA(ctx context.Context, name string) ([]net.IP, error)
	LookupMX(ctx context.Context, name string) ([]MX, error)
	LookupPTR(ctx context.Context, ip string) ([]string, error)
}

// DNS is a Resolver backed by miekg/dns.
type DNS struct {
	client  *dns.Client
	tcp     *dns.Client
	servers []string
	retries int
}

// Options configures a DNS resolver.
type Options struct {
	Servers []string
	Timeout time.Duration
	Retries int
}

// New creates a DNS resolver. Default servers are 1.1.1.1 and 8.8.8.8.
func New(opts Options) *DNS {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if len(opts.Servers) == 0 {
		opts.Servers = []string{"1.1.1.1:53", "8.8.8.8:53"}
	}
	for i, s := range opts.Servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			opts.Servers[i] = net.JoinHostPort(s, "53")
		}
	}
	return &DNS{
		client:  &dns.Client{Timeout: opts.Timeout, UDPSize: dns.DefaultMsgSize},
		tcp:     &dns.Client{Net: "tcp", Timeout: opts.Timeout},
		servers: opts.Servers,
		retries: opts.Retries,
	}
}

func (r *DNS) exchange(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(dns.DefaultMsgSize, false)

	var lastErr error
	for _, server := range r.servers {
		for attempt := 0; attempt <= r.retries; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			resp, _, err := r.client.ExchangeContext(ctx, msg, server)
			if err == nil && resp.Truncated {
				resp, _, err = r.tcp.ExchangeContext(ctx, msg, server)
			}
			if err != nil {
				lastErr = err
				continue
			}
			switch resp.Rcode {
			case dns.RcodeSuccess:
				return resp.Answer, nil
			case dns.RcodeNameError:
				return nil, ErrNotFound
			default:
				lastErr = fmt.Errorf("dns %s %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[resp.Rcode])
			}
		}
	}
	return nil, lastErr
}

// LookupTXT returns TXT strings, each record's chunks joined.
func (r *DNS) LookupTXT(ctx context.Context, name string) ([]string, error) {
	rrs, err := r.exchange(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range rrs {
		if t, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(t.Txt, ""))
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// LookupA returns IPv4 addresses.
func (r *DNS) LookupA(ctx context.Context, name string) ([]net.IP, error) {
	rrs, err := r.exchange(ctx, name, dns.TypeA)
	if err != nil {
		return nil, err
	}
	var out []net.IP
	for _, rr := range rrs {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, a.A)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// LookupMX returns mail exchangers without the trailing dot.
func (r *DNS) LookupMX(ctx context.Context, name string) ([]MX, error) {
	rrs, err := r.exchange(ctx, name, dns.TypeMX)
	if err != nil {
		return nil, err
	}
	var out []MX
	for _, rr := range rrs {
		if m, ok := rr.(*dns.MX); ok {
			out = append(out, MX{Host: strings.TrimSuffix(m.Mx, "."), Pref: m.Preference})
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// LookupPTR returns reverse names for ip without the trailing dot.
func (r *DNS) LookupPTR(ctx context.Context, ip string) ([]string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("reverse %s: %w", ip, err)
	}
	rrs, err := r.exchange(ctx, arpa, dns.TypePTR)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range rrs {
		if p, ok := rr.(*dns.PTR); ok {
			out = append(out, strings.TrimSuffix(p.Ptr, "."))
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// ReverseIPv4 returns the octets of ip in reverse order, as used by DNSBL
// queries ("1.2.3.4" -> "4.3.2.1").
func ReverseIPv4(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return "", fmt.Errorf("not an IPv4 address: %q", ip)
	}
	v4 := parsed.To4()
	return fmt.Sprintf("%d.%d.%d.%d", v4[3], v4[2], v4[1], v4[0]), nil
}
