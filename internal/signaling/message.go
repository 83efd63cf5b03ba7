package signaling

import (
	"fmt"
	"strconv"

	"github.com/pion/webrtc/v4"
)

// SDP types carried on the wire.
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// SessionDescription is the JSON shape of an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SessionDescriptionFromPion converts a pion description to its wire form.
func SessionDescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

// ToPion converts the wire description back to pion's type.
func (d SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case SDPTypeOffer:
		t = webrtc.SDPTypeOffer
	case SDPTypeAnswer:
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

// ICECandidate is a trickled candidate as browsers serialize it. The
// application never interprets it beyond building a dedupe key.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ICECandidateFromPion converts a pion candidate init to its wire form.
func ICECandidateFromPion(init webrtc.ICECandidateInit) ICECandidate {
	return ICECandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

// ToPion converts the wire candidate to pion's type.
func (c ICECandidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Key identifies a candidate for dedupe across polls.
func (c ICECandidate) Key() string {
	mid := ""
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	line := ""
	if c.SDPMLineIndex != nil {
		line = strconv.Itoa(int(*c.SDPMLineIndex))
	}
	return c.Candidate + "|" + mid + "|" + line
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type createRoomResponse struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message,omitempty"`
}

// answerResponse is what the server returns for an offer; the type is
// implicitly "answer".
type answerResponse struct {
	SDP string `json:"sdp"`
}

// feedMessage is one frame on the candidate broadcast feed. The server
// relays frames to every connected client, including the sender.
type feedMessage struct {
	From      string        `json:"from"`
	RoomID    string        `json:"roomId"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}
