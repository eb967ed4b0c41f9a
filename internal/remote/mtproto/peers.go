package mtproto

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/tg"

	"teleads/internal/failure"
	"teleads/internal/remote"
	"teleads/internal/target"
)

const channelIDOffset = 1000000000000

// peerCache remembers access hashes learned from join results and
// resolutions. Numeric targets and private links can only be addressed
// through it (or through the dialogs fallback).
type peerCache struct {
	mu       sync.RWMutex
	byDomain map[string]tg.InputPeerClass
	channels map[int64]int64 // channel id -> access hash
	users    map[int64]int64
	messages map[remote.MessageRef]resolved
}

func newPeerCache() *peerCache {
	return &peerCache{
		byDomain: map[string]tg.InputPeerClass{},
		channels: map[int64]int64{},
		users:    map[int64]int64{},
		messages: map[remote.MessageRef]resolved{},
	}
}

func (p *peerCache) message(ref remote.MessageRef) (resolved, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.messages[ref]
	return v, ok
}

func (p *peerCache) putMessage(ref remote.MessageRef, v resolved) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[ref] = v
}

func (p *peerCache) domain(d string) (tg.InputPeerClass, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.byDomain[d]
	return v, ok
}

func (p *peerCache) putDomain(d string, v tg.InputPeerClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byDomain[d] = v
	p.learnLocked(v)
}

func (p *peerCache) learnLocked(v tg.InputPeerClass) {
	switch in := v.(type) {
	case *tg.InputPeerChannel:
		p.channels[in.ChannelID] = in.AccessHash
	case *tg.InputPeerUser:
		p.users[in.UserID] = in.AccessHash
	}
}

// learnChats records every channel found in an RPC result.
func (p *peerCache) learnChats(chats []tg.ChatClass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range chats {
		if ch, ok := c.(*tg.Channel); ok {
			p.channels[ch.ID] = ch.AccessHash
		}
	}
}

func (p *peerCache) learnUpdates(u tg.UpdatesClass) {
	switch v := u.(type) {
	case *tg.Updates:
		p.learnChats(v.Chats)
	case *tg.UpdatesCombined:
		p.learnChats(v.Chats)
	}
}

func (p *peerCache) channel(id int64) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.channels[id]
	return h, ok
}

func (p *peerCache) user(id int64) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.users[id]
	return h, ok
}

func (c *Client) resolveDomain(ctx context.Context, handle string) (tg.InputPeerClass, error) {
	handle = strings.ToLower(strings.TrimPrefix(handle, "@"))
	if v, ok := c.peers.domain(handle); ok {
		return v, nil
	}
	v, err := peer.DefaultResolver(c.api).ResolveDomain(ctx, handle)
	if err != nil {
		return nil, classify("resolve @"+handle, err)
	}
	c.peers.putDomain(handle, v)
	return v, nil
}

// channelByID returns an input channel for a bare channel id, consulting
// the server when the access hash is not cached yet.
func (c *Client) channelByID(ctx context.Context, id int64) (*tg.InputChannel, error) {
	if h, ok := c.peers.channel(id); ok {
		return &tg.InputChannel{ChannelID: id, AccessHash: h}, nil
	}
	res, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: id}})
	if err != nil {
		return nil, classify("get channel", err)
	}
	var chats []tg.ChatClass
	switch r := res.(type) {
	case *tg.MessagesChats:
		chats = r.Chats
	case *tg.MessagesChatsSlice:
		chats = r.Chats
	}
	c.peers.learnChats(chats)
	if h, ok := c.peers.channel(id); ok {
		return &tg.InputChannel{ChannelID: id, AccessHash: h}, nil
	}
	return nil, fmt.Errorf("channel %d: %w", id, failure.ErrTargetInaccessible)
}

// inputPeer turns a registry target into an addressable peer. Invite
// targets are addressed through the channel learned when joining.
func (c *Client) inputPeer(ctx context.Context, t target.Target) (tg.InputPeerClass, error) {
	switch t.Kind {
	case target.KindPublicHandle:
		return c.resolveDomain(ctx, t.ID)
	case target.KindInviteHash:
		return c.invitePeer(ctx, t.ID)
	case target.KindNumericID:
		return c.numericPeer(ctx, t.ID)
	}
	return nil, fmt.Errorf("target %q: %w", t.ID, failure.ErrTargetInaccessible)
}

func (c *Client) numericPeer(ctx context.Context, raw string) (tg.InputPeerClass, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("target %q: %w", raw, failure.ErrTargetInaccessible)
	}
	switch {
	case id <= -channelIDOffset:
		ch, err := c.channelByID(ctx, -id-channelIDOffset)
		if err != nil {
			return nil, err
		}
		return &tg.InputPeerChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash}, nil
	case id < 0:
		return &tg.InputPeerChat{ChatID: -id}, nil
	default:
		if h, ok := c.peers.user(id); ok {
			return &tg.InputPeerUser{UserID: id, AccessHash: h}, nil
		}
		return nil, fmt.Errorf("user %d not known to this account: %w", id, failure.ErrTargetInaccessible)
	}
}

// invitePeer checks the invite; for a chat the account already belongs to,
// the server returns the chat itself.
func (c *Client) invitePeer(ctx context.Context, hash string) (tg.InputPeerClass, error) {
	key := "+" + hash
	if v, ok := c.peers.domain(key); ok {
		return v, nil
	}
	res, err := c.api.MessagesCheckChatInvite(ctx, hash)
	if err != nil {
		return nil, classify("check invite", err)
	}
	var v tg.InputPeerClass
	switch r := res.(type) {
	case *tg.ChatInviteAlready:
		v = peerOfChat(r.Chat)
	case *tg.ChatInvitePeek:
		v = peerOfChat(r.Chat)
	}
	if v == nil {
		return nil, fmt.Errorf("invite %s: not a member: %w", hash, failure.ErrTargetInaccessible)
	}
	c.peers.putDomain(key, v)
	return v, nil
}

func peerOfChat(chat tg.ChatClass) tg.InputPeerClass {
	switch ch := chat.(type) {
	case *tg.Channel:
		return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
	case *tg.Chat:
		return &tg.InputPeerChat{ChatID: ch.ID}
	}
	return nil
}
