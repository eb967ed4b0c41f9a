package mtproto

import (
	"context"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleads/internal/remote"
)

func TestSourceHandle(t *testing.T) {
	t.Parallel()
	ref := remote.MessageRef{Handle: "deals", MessageID: 42}
	own := resolved{from: &tg.InputPeerChannel{ChannelID: 7, AccessHash: 111}, id: 42}
	mine := resolved{from: &tg.InputPeerChannel{ChannelID: 7, AccessHash: 222}, id: 42}

	tests := []struct {
		name    string
		msg     remote.Message
		cached  bool
		want    resolved
		wantErr bool
	}{
		{
			name: "owner uses its handle",
			msg:  remote.Message{Ref: ref, Owner: "b", Handle: own},
			want: own,
		},
		{
			name:   "other owner served from cache",
			msg:    remote.Message{Ref: ref, Owner: "a", Handle: own},
			cached: true,
			want:   mine,
		},
		{
			// a miss goes to the network, which an unstarted client refuses
			name:    "other owner without cache resolves",
			msg:     remote.Message{Ref: ref, Owner: "a", Handle: own},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Client{name: "b", peers: newPeerCache()}
			if tt.cached {
				c.peers.putMessage(ref, mine)
			}
			got, err := c.sourceHandle(context.Background(), tt.msg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
