package models

import "encoding/json"

// Role identifies which side of the broadcast a signaling request speaks for.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleBroadcaster || r == RoleViewer
}

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeOffer     SignalType = "offer"
	SignalTypeAnswer    SignalType = "answer"
	SignalTypeCandidate SignalType = "candidate"
)

// SignalMessage is the body of POST /signal. SDP and Candidate are opaque
// pass-through blobs (RTCSessionDescriptionInit / RTCIceCandidateInit).
type SignalMessage struct {
	Type      SignalType      `json:"type"`
	Role      Role            `json:"role"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ViewerPoll is returned by GET /signal?role=viewer.
type ViewerPoll struct {
	Offer      json.RawMessage   `json:"offer"`
	Candidates []json.RawMessage `json:"candidates"`
	Session    string            `json:"session,omitempty"`
}

// BroadcasterPoll is returned by GET /signal?role=broadcaster.
type BroadcasterPoll struct {
	Answer     json.RawMessage   `json:"answer"`
	Candidates []json.RawMessage `json:"candidates"`
	Session    string            `json:"session,omitempty"`
}

// Ack is the acknowledgement for every successful mutation.
type Ack struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the body of every 4xx/5xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
