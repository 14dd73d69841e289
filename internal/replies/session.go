// Package replies polls sending-account inboxes for replies and feeds
// them back into lead state.
//
// The mailbox protocol is a small IMAP4rev1 subset driven by Session, a
// state machine that never touches a socket: the caller writes whatever
// Next returns and feeds every server line back through Feed.
package replies

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// State is the protocol phase of a Session.
type State int

const (
	StateConnect State = iota
	StateLogin
	StateSelect
	StateSearch
	StateFetch
	StateLogout
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnect:
		return "connect"
	case StateLogin:
		return "login"
	case StateSelect:
		return "select"
	case StateSearch:
		return "search"
	case StateFetch:
		return "fetch"
	case StateLogout:
		return "logout"
	case StateDone:
		return "done"
	}
	return "error"
}

// EventKind tells what a session event carries.
type EventKind int

const (
	// EventSearch carries the sequence numbers matched by SEARCH.
	EventSearch EventKind = iota
	// EventFetched carries the raw untagged FETCH data.
	EventFetched
	// EventError carries a protocol or server error. The session is dead.
	EventError
	// EventDone means the server acknowledged LOGOUT.
	EventDone
)

// Event is emitted by Feed.
type Event struct {
	Kind EventKind
	IDs  []int
	Raw  string
	Err  error
}

// ErrRejected wraps NO and BAD completions.
var ErrRejected = errors.New("imap: command rejected")

var literalRe = regexp.MustCompile(`\{(\d+)\}\r?\n?$`)

// SessionConfig is what a session logs in with and looks for.
type SessionConfig struct {
	User     string
	Password string
	Mailbox  string
	// Criteria is the SEARCH key list, e.g. "SINCE 01-Feb-2026".
	Criteria string
	// Max caps how many of the newest matches are fetched. 0 means all.
	Max int
}

// Session is the client side of one poll.
type Session struct {
	cfg     SessionConfig
	state   State
	tagN    int
	tag     string
	pending string
	ids     []int

	literal int
	fetch   strings.Builder
	err     error
}

// NewSession starts a session waiting for the server greeting.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Criteria == "" {
		cfg.Criteria = "ALL"
	}
	return &Session{cfg: cfg}
}

// State returns the current phase.
func (s *Session) State() State { return s.state }

// Err returns the error that ended the session, if any.
func (s *Session) Err() error { return s.err }

// Partial returns the FETCH data collected so far.
func (s *Session) Partial() string { return s.fetch.String() }

// Next returns the command line to write, with CRLF, or false when the
// session is waiting for the server. Each command is returned once.
func (s *Session) Next() (string, bool) {
	if s.pending == "" {
		return "", false
	}
	cmd := s.pending
	s.pending = ""
	return cmd, true
}

func (s *Session) send(format string, args ...any) {
	s.tagN++
	s.tag = fmt.Sprintf("A%03d", s.tagN)
	s.pending = s.tag + " " + fmt.Sprintf(format, args...) + "\r\n"
}

func (s *Session) fail(err error) []Event {
	s.state = StateError
	s.err = err
	s.pending = ""
	return []Event{{Kind: EventError, Err: err}}
}

// Feed consumes one server line, including its line terminator.
func (s *Session) Feed(line string) []Event {
	if s.state == StateDone || s.state == StateError {
		return nil
	}
	if s.literal > 0 {
		s.literal -= len(line)
		if s.literal < 0 {
			s.literal = 0
		}
		s.fetch.WriteString(line)
		return nil
	}
	trimmed := strings.TrimRight(line, "\r\n")

	if s.state == StateConnect {
		switch {
		case strings.HasPrefix(trimmed, "* OK"), strings.HasPrefix(trimmed, "* PREAUTH"):
			s.state = StateLogin
			s.send("LOGIN %s %s", quote(s.cfg.User), quote(s.cfg.Password))
			return nil
		case strings.HasPrefix(trimmed, "* BYE"):
			return s.fail(fmt.Errorf("%w: server closed connection: %s", ErrRejected, trimmed))
		}
		return nil
	}

	if strings.HasPrefix(trimmed, s.tag+" ") {
		return s.complete(strings.TrimPrefix(trimmed, s.tag+" "))
	}

	// untagged data
	switch s.state {
	case StateSearch:
		if strings.HasPrefix(strings.ToUpper(trimmed), "* SEARCH") {
			for _, f := range strings.Fields(trimmed[len("* SEARCH"):]) {
				if n, err := strconv.Atoi(f); err == nil {
					s.ids = append(s.ids, n)
				}
			}
		}
	case StateFetch:
		s.fetch.WriteString(line)
		if m := literalRe.FindStringSubmatch(trimmed); m != nil {
			s.literal, _ = strconv.Atoi(m[1])
		}
	}
	return nil
}

func (s *Session) complete(status string) []Event {
	word, text, _ := strings.Cut(status, " ")
	switch strings.ToUpper(word) {
	case "OK":
	case "NO", "BAD":
		return s.fail(fmt.Errorf("%w: %s %s: %s", ErrRejected, s.state, word, text))
	default:
		return s.fail(fmt.Errorf("imap: unexpected completion %q", status))
	}

	switch s.state {
	case StateLogin:
		s.state = StateSelect
		s.send("SELECT %s", quote(s.cfg.Mailbox))
	case StateSelect:
		s.state = StateSearch
		s.send("SEARCH %s", s.cfg.Criteria)
	case StateSearch:
		ids := s.ids
		if s.cfg.Max > 0 && len(ids) > s.cfg.Max {
			ids = ids[len(ids)-s.cfg.Max:]
		}
		s.ids = ids
		ev := []Event{{Kind: EventSearch, IDs: ids}}
		if len(ids) == 0 {
			s.state = StateLogout
			s.send("LOGOUT")
			return ev
		}
		s.state = StateFetch
		s.send("FETCH %s BODY.PEEK[]", seqSet(ids))
		return ev
	case StateFetch:
		s.state = StateLogout
		s.send("LOGOUT")
		return []Event{{Kind: EventFetched, Raw: s.fetch.String()}}
	case StateLogout:
		s.state = StateDone
		return []Event{{Kind: EventDone}}
	}
	return nil
}

func seqSet(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
