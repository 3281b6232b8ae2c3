package callcontrol

import "context"

// Participant is the SIP leg created for an outbound call
type Participant struct {
	ID        string `json:"participant_id"`
	Identity  string `json:"participant_identity"`
	Room      string `json:"room_name"`
	SIPCallID string `json:"sip_call_id"`
}

// Controller places and ends telephone calls
type Controller interface {
	CreateSIPParticipant(ctx context.Context, trunkID, destination, room string) (*Participant, error)
	DeleteRoom(ctx context.Context, room string) error
}
