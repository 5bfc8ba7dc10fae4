package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CallParticipant is one side of a call, as supplied by the identity provider.
type CallParticipant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// CallSession identifies a single call between two participants. The call id is
// derived from the match or room being joined; ID is fresh for every attempt,
// so rejoining the same call yields a new session.
type CallSession struct {
	ID        string
	CallID    string
	Local     CallParticipant
	Remote    CallParticipant
	CreatedAt time.Time
}

// NewCallSession validates the participants and stamps the creation time.
func NewCallSession(callID string, local, remote CallParticipant) (CallSession, error) {
	if callID == "" {
		return CallSession{}, errors.New("call id is required")
	}
	if local.ID == "" || remote.ID == "" {
		return CallSession{}, errors.New("both participant ids are required")
	}
	if local.ID == remote.ID {
		return CallSession{}, fmt.Errorf("participant %q cannot call itself", local.ID)
	}
	return CallSession{
		ID:        uuid.NewString(),
		CallID:    callID,
		Local:     local,
		Remote:    remote,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Role returns the negotiation role of the local participant.
func (s CallSession) Role() Role {
	return AssignRole(s.Local.ID, s.Remote.ID)
}

// Role is the part a participant plays in offer/answer negotiation.
type Role int

const (
	// RoleAnswerer waits for an offer and replies with an answer.
	RoleAnswerer Role = iota
	// RoleOfferer creates and sends the initial offer.
	RoleOfferer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// AssignRole orders the two ids lexicographically; the smaller id offers.
// Both sides compute the same answer from (self, other) and (other, self).
func AssignRole(self, other string) Role {
	if self < other {
		return RoleOfferer
	}
	return RoleAnswerer
}
