package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tgerr"

	"teleads/internal/failure"
)

var (
	inaccessibleTypes = []string{
		"INVITE_HASH_INVALID",
		"INVITE_HASH_EXPIRED",
		"INVITE_HASH_EMPTY",
		"CHANNEL_PRIVATE",
		"CHANNEL_INVALID",
		"CHANNEL_PUBLIC_GROUP_NA",
		"CHAT_ID_INVALID",
		"PEER_ID_INVALID",
		"USERNAME_INVALID",
		"USERNAME_NOT_OCCUPIED",
		"MSG_ID_INVALID",
		"MESSAGE_ID_INVALID",
	}
	permissionTypes = []string{
		"INVITE_REQUEST_SENT", // join awaits admin approval
		"CHAT_WRITE_FORBIDDEN",
		"CHAT_ADMIN_REQUIRED",
		"CHAT_SEND_PLAIN_FORBIDDEN",
		"CHAT_FORWARDS_RESTRICTED",
		"CHAT_RESTRICTED",
		"USER_BANNED_IN_CHANNEL",
		"USER_IS_BLOCKED",
	}
	authTypes = []string{
		"AUTH_KEY_UNREGISTERED",
		"AUTH_KEY_INVALID",
		"SESSION_REVOKED",
		"SESSION_EXPIRED",
		"USER_DEACTIVATED",
		"USER_DEACTIVATED_BAN",
	}
)

// classify maps an RPC error onto the failure taxonomy. Unknown errors are
// returned unchanged so the retry policy can wrap them as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &failure.RateLimited{Wait: d}
	}
	rpc, ok := tgerr.As(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case rpc.IsType("SLOWMODE_WAIT"):
		return &failure.RateLimited{Wait: time.Duration(rpc.Argument) * time.Second}
	case rpc.IsType("USER_ALREADY_PARTICIPANT"):
		return failure.ErrAlreadyParticipant
	case rpc.IsType("CHANNELS_TOO_MUCH"):
		return fmt.Errorf("%s: %w (%s)", op, failure.ErrAccountLimit, rpc.Type)
	case rpc.IsOneOf(inaccessibleTypes...):
		return fmt.Errorf("%s: %w (%s)", op, failure.ErrTargetInaccessible, rpc.Type)
	case rpc.IsOneOf(permissionTypes...):
		return fmt.Errorf("%s: %w (%s)", op, failure.ErrPermissionDenied, rpc.Type)
	case rpc.IsOneOf(authTypes...) || rpc.IsCode(401):
		return fmt.Errorf("%s: %w (%s)", op, failure.ErrAuthenticationRequired, rpc.Type)
	}
	return fmt.Errorf("%s: %w", op, err)
}
