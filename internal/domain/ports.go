package domain

import (
	"context"
	"time"
)

// SubscribeRequest scopes a signaling subscription to one call and recipient.
// Messages sent before Since are not replayed; a zero Since replays the whole
// backlog.
type SubscribeRequest struct {
	CallID        string
	ParticipantID string
	Since         time.Time
}

// Subscription is a live registration on a SignalingChannel.
type Subscription interface {
	// Unsubscribe cancels the registration. When it returns no further
	// callbacks will fire. It must not be called from inside the callback.
	Unsubscribe()
}

// SignalingChannel relays signal messages between the two participants of a
// call. Send surfaces transport failures; Subscribe delivers the backlog and
// then live messages for the request, in relay order.
type SignalingChannel interface {
	Send(ctx context.Context, msg SignalMessage) error
	Subscribe(ctx context.Context, req SubscribeRequest, onMessage func(SignalMessage)) (Subscription, error)
}

// SignalQuery selects persisted messages of one call.
type SignalQuery struct {
	CallID   string
	To       string
	AfterSeq int64
	Since    time.Time
	Limit    int
}

// SignalStore persists signal messages in creation order.
type SignalStore interface {
	Append(ctx context.Context, msg SignalMessage) (SignalMessage, error)
	List(ctx context.Context, q SignalQuery) ([]SignalMessage, error)
}

// MediaDevices is the capture layer the Media Acquirer drives. Failures should
// wrap ErrMediaDeviceNotFound or ErrMediaPermissionDenied when they are one of
// those.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c MediaConstraints) (MediaStream, error)
}

// Peer manages the direct peer connection. Registered callbacks fire on the
// peer's own goroutines, never synchronously from inside a Peer method.
type Peer interface {
	AddLocalTrack(track LocalTrack) error
	AddRecvOnly(kind TrackKind) error
	SetOnRemoteTrack(fn func(RemoteTrack))
	SetOnICECandidate(fn func(ICECandidatePayload))
	SetOnConnectionState(fn func(PeerState))
	CreateOffer() (SDPPayload, error)
	CreateAnswer() (SDPPayload, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddRemoteICECandidate(candidate ICECandidatePayload) error
	Close() error
}
