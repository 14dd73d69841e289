package resolver

import (
	"context"
	"net"
	"strings"
	"sync"
)

// Fake is an in-memory Resolver for tests. Names are matched
// case-insensitively without a trailing dot. Errors registered with Fail
// take precedence over records.
type Fake struct {
	mu    sync.Mutex
	TXT   map[string][]string
	A     map[string][]string
	MX    map[string][]MX
	PTR   map[string][]string
	fails map[string]error
	calls int
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		TXT:   map[string][]string{},
		A:     map[string][]string{},
		MX:    map[string][]MX{},
		PTR:   map[string][]string{},
		fails: map[string]error{},
	}
}

// Fail makes every lookup of name return err.
func (f *Fake) Fail(name string, err error) {
	f.mu.Lock()
	f.fails[key(name)] = err
	f.mu.Unlock()
}

// Calls returns how many lookups were made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func key(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}

func (f *Fake) pre(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.fails[key(name)]
}

func (f *Fake) LookupTXT(_ context.Context, name string) ([]string, error) {
	if err := f.pre(name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if v := f.TXT[key(name)]; len(v) > 0 {
		return v, nil
	}
	return nil, ErrNotFound
}

func (f *Fake) LookupA(_ context.Context, name string) ([]net.IP, error) {
	if err := f.pre(name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []net.IP
	for _, s := range f.A[key(name)] {
		out = append(out, net.ParseIP(s))
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (f *Fake) LookupMX(_ context.Context, name string) ([]MX, error) {
	if err := f.pre(name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if v := f.MX[key(name)]; len(v) > 0 {
		return v, nil
	}
	return nil, ErrNotFound
}

func (f *Fake) LookupPTR(_ context.Context, ip string) ([]string, error) {
	if err := f.pre(ip); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if v := f.PTR[key(ip)]; len(v) > 0 {
		return v, nil
	}
	return nil, ErrNotFound
}
