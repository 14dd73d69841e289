// Package blacklist scans sending IPs and domains against DNS blocklists
// and trips the global pause when a critical list reports a hit.
package blacklist

// Kind is what a zone lists.
type Kind string

const (
	KindIP     Kind = "ip"
	KindDomain Kind = "domain"
)

// Tier ranks the impact of a listing.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
)

// Penalty is the score deduction per listing in a tier.
func (t Tier) Penalty() int {
	switch t {
	case TierCritical:
		return 40
	case TierHigh:
		return 20
	}
	return 10
}

// List is one DNSBL zone with delisting metadata.
type List struct {
	Zone        string `json:"zone"`
	Kind        Kind   `json:"kind"`
	Tier        Tier   `json:"tier"`
	AutoExpires bool   `json:"auto_expires"`
	RemovalURL  string `json:"removal_url,omitempty"`
}

// DefaultLists is the zone set scanned when none is configured.
var DefaultLists = []List{
	{Zone: "zen.spamhaus.org", Kind: KindIP, Tier: TierCritical, AutoExpires: false, RemovalURL: "https://check.spamhaus.org/"},
	{Zone: "b.barracudacentral.org", Kind: KindIP, Tier: TierCritical, AutoExpires: false, RemovalURL: "https://www.barracudacentral.org/rbl/removal-request"},
	{Zone: "bl.spamcop.net", Kind: KindIP, Tier: TierCritical, AutoExpires: true, RemovalURL: "https://www.spamcop.net/bl.shtml"},
	{Zone: "dbl.spamhaus.org", Kind: KindDomain, Tier: TierCritical, AutoExpires: false, RemovalURL: "https://check.spamhaus.org/"},

	{Zone: "cbl.abuseat.org", Kind: KindIP, Tier: TierHigh, AutoExpires: true, RemovalURL: "https://www.abuseat.org/lookup.cgi"},
	{Zone: "dnsbl.sorbs.net", Kind: KindIP, Tier: TierHigh, AutoExpires: false, RemovalURL: "http://www.sorbs.net/delisting/"},
	{Zone: "psbl.surriel.com", Kind: KindIP, Tier: TierHigh, AutoExpires: true, RemovalURL: "https://psbl.org/remove"},
	{Zone: "multi.surbl.org", Kind: KindDomain, Tier: TierHigh, AutoExpires: false, RemovalURL: "https://www.surbl.org/surbl-analysis"},
	{Zone: "multi.uribl.com", Kind: KindDomain, Tier: TierHigh, AutoExpires: false, RemovalURL: "https://admin.uribl.com/"},

	{Zone: "dnsbl-1.uceprotect.net", Kind: KindIP, Tier: TierMedium, AutoExpires: true, RemovalURL: "https://www.uceprotect.net/en/rblcheck.php"},
	{Zone: "dyna.spamrats.com", Kind: KindIP, Tier: TierMedium, AutoExpires: false, RemovalURL: "https://www.spamrats.com/removal.php"},
	{Zone: "bl.mailspike.net", Kind: KindIP, Tier: TierMedium, AutoExpires: true, RemovalURL: "https://mailspike.org/iplookup.html"},
	{Zone: "ix.dnsbl.manitu.net", Kind: KindIP, Tier: TierMedium, AutoExpires: true, RemovalURL: "https://www.dnsbl.manitu.net/"},
}

func listsOf(lists []List, k Kind) []List {
	var out []List
	for _, l := range lists {
		if l.Kind == k {
			out = append(out, l)
		}
	}
	return out
}
