package domain

import "encoding/json"

// Event names of the real-time surface.
const (
	EventReplyOpened   = "reply:opened"
	EventReplyClosed   = "reply:closed"
	EventReplyLocked   = "reply:locked"
	EventReplyUnlocked = "reply:unlocked"
)

// NotificationKind distinguishes lock from unlock announcements.
type NotificationKind string

const (
	KindLocked   NotificationKind = EventReplyLocked
	KindUnlocked NotificationKind = EventReplyUnlocked
)

// Notification is an outbound message telling clients a reply was locked or unlocked.
type Notification struct {
	Kind    NotificationKind `json:"event"`
	ReplyID string           `json:"data"`
}

// Locked builds a reply:locked notification.
func Locked(replyID string) Notification {
	return Notification{Kind: KindLocked, ReplyID: replyID}
}

// Unlocked builds a reply:unlocked notification.
func Unlocked(replyID string) Notification {
	return Notification{Kind: KindUnlocked, ReplyID: replyID}
}

// InboundEvent is a frame received from a client.
type InboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ReplyPayload is the body of reply:opened and reply:closed.
type ReplyPayload struct {
	ReplyID string `json:"replyId"`
}

// ReplyID extracts the reply id carried by an opened/closed event.
// It returns ErrMalformedEvent when the payload is missing, undecodable or empty.
func (e InboundEvent) ReplyID() (string, error) {
	if len(e.Data) == 0 {
		return "", ErrMalformedEvent
	}
	var p ReplyPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return "", ErrMalformedEvent
	}
	if p.ReplyID == "" {
		return "", ErrMalformedEvent
	}
	return p.ReplyID, nil
}
