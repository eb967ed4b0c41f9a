// Package remote is the boundary between the forwarding core and the
// messaging network. The core only talks to Client; adapters (MTProto in
// remote/mtproto, scripted fakes in remote/remotetest) implement it and
// translate network errors into the failure taxonomy.
package remote

import (
	"context"
	"fmt"

	"teleads/internal/target"
)

// Identity describes the user behind an authenticated client.
type Identity struct {
	ID       int64
	Username string
	Display  string
}

// Message is a source message resolved by one client. Handle is adapter
// specific and only meaningful to the adapter that produced it; adapters
// must accept messages resolved by another instance of the same adapter.
type Message struct {
	Ref    MessageRef
	Owner  string
	Handle any
}

// Client performs remote operations for exactly one account.
//
// Errors must be classified: failure.RateLimited for flood waits,
// failure.ErrPermissionDenied for write-forbidden, failure.ErrTargetInaccessible
// for private/invalid/banned targets, failure.ErrAlreadyParticipant for
// redundant joins and failure.ErrAuthenticationRequired when the session is
// not logged in. Anything else is returned as-is.
type Client interface {
	Self(ctx context.Context) (Identity, error)

	JoinPublic(ctx context.Context, handle string) error
	JoinInvite(ctx context.Context, hash string) error

	SendText(ctx context.Context, to target.Target, text string) error
	ResolveMessage(ctx context.Context, ref MessageRef) (Message, error)
	Forward(ctx context.Context, msg Message, to target.Target) error

	Close() error
}

// MessageRef points at a message by public handle or private channel id.
type MessageRef struct {
	Handle    string
	ChannelID int64 // negative "-100" form, set for private links only
	MessageID int
}

func (r MessageRef) IsPrivate() bool { return r.Handle == "" && r.ChannelID != 0 }

// InternalID returns the id as it appears in t.me/c/<id>/... links.
func (r MessageRef) InternalID() int64 {
	if r.ChannelID >= 0 {
		return r.ChannelID
	}
	return -r.ChannelID - channelIDOffset
}

func (r MessageRef) String() string {
	if r.IsPrivate() {
		return fmt.Sprintf("t.me/c/%d/%d", r.InternalID(), r.MessageID)
	}
	return fmt.Sprintf("t.me/%s/%d", r.Handle, r.MessageID)
}
