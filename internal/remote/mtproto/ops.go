package mtproto

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"

	"teleads/internal/failure"
	"teleads/internal/remote"
	"teleads/internal/target"
	logx "teleads/pkg/logx"
)

// resolved is the adapter-specific handle stored in remote.Message.
type resolved struct {
	from tg.InputPeerClass
	id   int
}

func (c *Client) JoinPublic(ctx context.Context, handle string) error {
	if err := c.connected(ctx); err != nil {
		return err
	}
	p, err := c.resolveDomain(ctx, handle)
	if err != nil {
		return err
	}
	ch, ok := p.(*tg.InputPeerChannel)
	if !ok {
		// users and bots cannot be joined
		return fmt.Errorf("@%s is not a group or channel: %w", handle, failure.ErrTargetInaccessible)
	}
	upd, err := c.api.ChannelsJoinChannel(ctx, &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash})
	if err != nil {
		return classify("join @"+handle, err)
	}
	c.peers.learnUpdates(upd)
	c.log.Debug("joined", logx.String("handle", handle))
	return nil
}

func (c *Client) JoinInvite(ctx context.Context, hash string) error {
	if err := c.connected(ctx); err != nil {
		return err
	}
	upd, err := c.api.MessagesImportChatInvite(ctx, hash)
	if err != nil {
		return classify("import invite", err)
	}
	c.peers.learnUpdates(upd)
	var chats []tg.ChatClass
	switch u := upd.(type) {
	case *tg.Updates:
		chats = u.Chats
	case *tg.UpdatesCombined:
		chats = u.Chats
	}
	for _, ch := range chats {
		if p := peerOfChat(ch); p != nil {
			c.peers.putDomain("+"+hash, p)
			break
		}
	}
	c.log.Debug("joined by invite")
	return nil
}

func (c *Client) SendText(ctx context.Context, to target.Target, text string) error {
	if err := c.connected(ctx); err != nil {
		return err
	}
	p, err := c.inputPeer(ctx, to)
	if err != nil {
		return err
	}
	if _, err := message.NewSender(c.api).To(p).Text(ctx, text); err != nil {
		return classify("send to "+to.String(), err)
	}
	return nil
}

func (c *Client) ResolveMessage(ctx context.Context, ref remote.MessageRef) (remote.Message, error) {
	if err := c.connected(ctx); err != nil {
		return remote.Message{}, err
	}
	var ch *tg.InputChannel
	if ref.IsPrivate() {
		in, err := c.channelByID(ctx, ref.InternalID())
		if err != nil {
			return remote.Message{}, err
		}
		ch = in
	} else {
		p, err := c.resolveDomain(ctx, ref.Handle)
		if err != nil {
			return remote.Message{}, err
		}
		pc, ok := p.(*tg.InputPeerChannel)
		if !ok {
			return remote.Message{}, fmt.Errorf("%s: %w", ref, failure.ErrTargetInaccessible)
		}
		ch = &tg.InputChannel{ChannelID: pc.ChannelID, AccessHash: pc.AccessHash}
	}

	res, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: ch,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: ref.MessageID}},
	})
	if err != nil {
		return remote.Message{}, classify("get message", err)
	}
	var msgs []tg.MessageClass
	switch r := res.(type) {
	case *tg.MessagesChannelMessages:
		msgs = r.Messages
	case *tg.MessagesMessages:
		msgs = r.Messages
	case *tg.MessagesMessagesSlice:
		msgs = r.Messages
	}
	for _, m := range msgs {
		if mm, ok := m.(*tg.Message); ok && mm.ID == ref.MessageID {
			h := resolved{
				from: &tg.InputPeerChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
				id:   mm.ID,
			}
			c.peers.putMessage(ref, h)
			return remote.Message{Ref: ref, Owner: c.name, Handle: h}, nil
		}
	}
	return remote.Message{}, fmt.Errorf("%s: message not found: %w", ref, failure.ErrTargetInaccessible)
}

// Forward copies msg to the target. Access hashes are per account, so a
// message resolved by another account is resolved here once and then served
// from the cache.
func (c *Client) Forward(ctx context.Context, msg remote.Message, to target.Target) error {
	if err := c.connected(ctx); err != nil {
		return err
	}
	h, err := c.sourceHandle(ctx, msg)
	if err != nil {
		return err
	}
	p, err := c.inputPeer(ctx, to)
	if err != nil {
		return err
	}
	_, err = c.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
		FromPeer: h.from,
		ID:       []int{h.id},
		RandomID: []int64{rand.Int64()},
		ToPeer:   p,
	})
	if err != nil {
		return classify("forward to "+to.String(), err)
	}
	return nil
}

func (c *Client) sourceHandle(ctx context.Context, msg remote.Message) (resolved, error) {
	if h, ok := msg.Handle.(resolved); ok && msg.Owner == c.name {
		return h, nil
	}
	if h, ok := c.peers.message(msg.Ref); ok {
		return h, nil
	}
	own, err := c.ResolveMessage(ctx, msg.Ref)
	if err != nil {
		return resolved{}, err
	}
	return own.Handle.(resolved), nil
}
