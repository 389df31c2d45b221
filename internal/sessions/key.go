// Package sessions holds the in-process, per-channel conversation state: a
// lock plus a short window of cached recent messages, kept only for the
// lifetime of the process. Durable history lives in chathistory (Postgres);
// this package exists purely to serialize concurrent turns on the same
// channel and avoid re-fetching history on every message.
//
// Session keys are "{channel}:{peerKind}:{chatID}", so a DM and a group chat
// on the same channel/chatID never collide.
package sessions

import "fmt"

// PeerKind distinguishes a direct message from a group conversation.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildKey builds the canonical per-channel session key.
func BuildKey(channel string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("%s:%s:%s", channel, kind, chatID)
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}
