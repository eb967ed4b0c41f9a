package remote

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// channelIDOffset turns a t.me/c/<id> internal id into the platform's
// negative channel id: -1000000000000 - id.
const channelIDOffset = 1000000000000

var ErrMalformedLink = errors.New("malformed message link")

var reHandle = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{2,31}$`)

// ParseMessageLink accepts
//
//	https://t.me/<handle>/<message_id>
//	https://t.me/c/<internal_id>/<message_id>
//
// with optional scheme, "www." and telegram.me host. A topic segment between
// chat and message id is tolerated; query strings are ignored.
func ParseMessageLink(raw string) (MessageRef, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return MessageRef{}, fmt.Errorf("%w: empty", ErrMalformedLink)
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	low := strings.ToLower(s)
	for _, p := range []string{"https://", "http://"} {
		if strings.HasPrefix(low, p) {
			s, low = s[len(p):], low[len(p):]
			break
		}
	}
	if strings.HasPrefix(low, "www.") {
		s, low = s[4:], low[4:]
	}
	switch {
	case strings.HasPrefix(low, "t.me/"):
		s = s[len("t.me/"):]
	case strings.HasPrefix(low, "telegram.me/"):
		s = s[len("telegram.me/"):]
	default:
		return MessageRef{}, fmt.Errorf("%w: not a t.me link", ErrMalformedLink)
	}

	segs := make([]string, 0, 4)
	for _, p := range strings.Split(s, "/") {
		if p = strings.TrimSpace(p); p != "" {
			segs = append(segs, p)
		}
	}

	if len(segs) > 0 && segs[0] == "c" {
		if len(segs) < 3 || len(segs) > 4 {
			return MessageRef{}, fmt.Errorf("%w: want t.me/c/<id>/<message_id>", ErrMalformedLink)
		}
		internal, err := strconv.ParseInt(segs[1], 10, 64)
		if err != nil || internal <= 0 {
			return MessageRef{}, fmt.Errorf("%w: bad channel id %q", ErrMalformedLink, segs[1])
		}
		msgID, err := parseMessageID(segs[len(segs)-1])
		if err != nil {
			return MessageRef{}, err
		}
		return MessageRef{ChannelID: -channelIDOffset - internal, MessageID: msgID}, nil
	}

	if len(segs) < 2 || len(segs) > 3 {
		return MessageRef{}, fmt.Errorf("%w: want t.me/<handle>/<message_id>", ErrMalformedLink)
	}
	if !reHandle.MatchString(segs[0]) {
		return MessageRef{}, fmt.Errorf("%w: bad handle %q", ErrMalformedLink, segs[0])
	}
	msgID, err := parseMessageID(segs[len(segs)-1])
	if err != nil {
		return MessageRef{}, err
	}
	return MessageRef{Handle: strings.ToLower(segs[0]), MessageID: msgID}, nil
}

func parseMessageID(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: message id %q is not a positive number", ErrMalformedLink, s)
	}
	return n, nil
}
