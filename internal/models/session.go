package models

import "encoding/json"

// Session is the single active signaling exchange between one broadcaster
// and whichever viewer answered last.
type Session struct {
	ID                    string            `json:"id,omitempty"`
	BroadcasterOffer      json.RawMessage   `json:"broadcasterOffer"`
	ViewerAnswer          json.RawMessage   `json:"viewerAnswer"`
	BroadcasterCandidates []json.RawMessage `json:"broadcasterCandidates"`
	ViewerCandidates      []json.RawMessage `json:"viewerCandidates"`
}

// NewSession returns an empty session with non-nil candidate lists so that
// they encode as [] rather than null.
func NewSession() *Session {
	return &Session{
		BroadcasterCandidates: []json.RawMessage{},
		ViewerCandidates:      []json.RawMessage{},
	}
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:                    s.ID,
		BroadcasterOffer:      cloneRaw(s.BroadcasterOffer),
		ViewerAnswer:          cloneRaw(s.ViewerAnswer),
		BroadcasterCandidates: make([]json.RawMessage, len(s.BroadcasterCandidates)),
		ViewerCandidates:      make([]json.RawMessage, len(s.ViewerCandidates)),
	}
	for i, c := range s.BroadcasterCandidates {
		out.BroadcasterCandidates[i] = cloneRaw(c)
	}
	for i, c := range s.ViewerCandidates {
		out.ViewerCandidates[i] = cloneRaw(c)
	}
	return out
}

func cloneRaw(m json.RawMessage) json.RawMessage {
	if m == nil {
		return nil
	}
	return append(json.RawMessage(nil), m...)
}
