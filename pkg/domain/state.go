package domain

import "slices"

// PresenceState is the set of replies a single connection currently has open.
// Order is insertion order; a reply appears at most once.
type PresenceState struct {
	OpenReplies []string `json:"openReplies" yaml:"openReplies"`
}

// NewPresenceState returns the empty state stored when a connection is accepted.
func NewPresenceState() *PresenceState {
	return &PresenceState{OpenReplies: []string{}}
}

// Has reports whether replyID is open.
func (s *PresenceState) Has(replyID string) bool {
	return slices.Contains(s.OpenReplies, replyID)
}

// Open appends replyID unless already present. It reports whether the state changed.
func (s *PresenceState) Open(replyID string) bool {
	if s.Has(replyID) {
		return false
	}
	s.OpenReplies = append(s.OpenReplies, replyID)
	return true
}

// Close removes replyID. It reports whether the state changed.
func (s *PresenceState) Close(replyID string) bool {
	i := slices.Index(s.OpenReplies, replyID)
	if i < 0 {
		return false
	}
	s.OpenReplies = slices.Delete(s.OpenReplies, i, i+1)
	return true
}

// Clone returns a deep copy, so stores never share a slice with their callers.
func (s *PresenceState) Clone() *PresenceState {
	if s == nil {
		return NewPresenceState()
	}
	replies := make([]string, len(s.OpenReplies))
	copy(replies, s.OpenReplies)
	return &PresenceState{OpenReplies: replies}
}

// SocketEntry pairs a connection id with its stored presence state.
type SocketEntry struct {
	SocketID string         `json:"socketId" yaml:"socketId"`
	State    *PresenceState `json:"state" yaml:"state"`
}
