// Package target holds the ordered, deduplicated set of forwarding
// destinations and the rules that canonicalize user-supplied references.
package target

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindPublicHandle Kind = iota
	KindInviteHash
	KindNumericID
)

func (k Kind) String() string {
	switch k {
	case KindPublicHandle:
		return "public"
	case KindInviteHash:
		return "invite"
	case KindNumericID:
		return "numeric"
	default:
		return "unknown"
	}
}

// RequiresMembership reports whether an account must join before sending.
// Numeric ids cannot be joined, so they are used as-is.
func (k Kind) RequiresMembership() bool { return k != KindNumericID }

type Membership int

const (
	MembershipUnknown Membership = iota
	MembershipMember
	MembershipNotMember
	MembershipInaccessible
)

func (m Membership) String() string {
	switch m {
	case MembershipMember:
		return "member"
	case MembershipNotMember:
		return "not-member"
	case MembershipInaccessible:
		return "inaccessible"
	default:
		return "unknown"
	}
}

// Target is a value copy of a registry entry.
type Target struct {
	Raw        string
	ID         string
	Kind       Kind
	Membership Membership
}

func (t Target) String() string {
	switch t.Kind {
	case KindInviteHash:
		return "t.me/+" + t.ID
	case KindNumericID:
		return t.ID
	default:
		return "@" + t.ID
	}
}

var ErrInvalidReference = errors.New("invalid target reference")

// Canonicalize applies, in priority order: invite marker, host segment,
// bare handle. A bare signed integer is a numeric chat id.
func Canonicalize(raw string) (Target, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return Target{}, fmt.Errorf("%w: empty", ErrInvalidReference)
	}
	clean := ref
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	clean = strings.TrimRight(clean, "/")

	if hash, ok := inviteHash(clean); ok {
		if hash == "" {
			return Target{}, fmt.Errorf("%w: missing invite hash in %q", ErrInvalidReference, raw)
		}
		return Target{Raw: ref, ID: hash, Kind: KindInviteHash}, nil
	}

	if hasHost(clean) {
		seg := clean[strings.LastIndex(clean, "/")+1:]
		seg = strings.TrimPrefix(seg, "@")
		if seg == "" || strings.Contains(seg, ".") {
			return Target{}, fmt.Errorf("%w: no handle in %q", ErrInvalidReference, raw)
		}
		return Target{Raw: ref, ID: strings.ToLower(seg), Kind: KindPublicHandle}, nil
	}

	if _, err := strconv.ParseInt(clean, 10, 64); err == nil {
		return Target{Raw: ref, ID: clean, Kind: KindNumericID}, nil
	}

	handle := strings.TrimPrefix(clean, "@")
	if handle == "" || strings.ContainsAny(handle, " \t/") {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	return Target{Raw: ref, ID: strings.ToLower(handle), Kind: KindPublicHandle}, nil
}

func inviteHash(ref string) (string, bool) {
	low := strings.ToLower(ref)
	if i := strings.Index(low, "joinchat/"); i >= 0 {
		h := ref[i+len("joinchat/"):]
		h = strings.TrimPrefix(h, "+")
		return firstSegment(h), true
	}
	if i := strings.Index(ref, "/+"); i >= 0 {
		return firstSegment(ref[i+2:]), true
	}
	if strings.HasPrefix(ref, "+") && !isDigits(ref[1:]) {
		return firstSegment(ref[1:]), true
	}
	return "", false
}

func hasHost(ref string) bool {
	low := strings.ToLower(ref)
	return strings.Contains(low, "://") ||
		strings.HasPrefix(low, "t.me/") || strings.Contains(low, ".t.me/") ||
		strings.HasPrefix(low, "telegram.me/") || strings.Contains(low, "www.telegram.me/") ||
		strings.HasPrefix(low, "telegram.dog/")
}

func firstSegment(s string) string {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i]
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
