package signal

import (
	"time"

	"skillswap/native/internal/domain"
)

// Methods of the relay protocol.
const (
	MethodTransmit            = "TRANSMIT"
	MethodTransmitResponse    = "TRANSMIT_RESPONSE"
	MethodSubscribe           = "SUBSCRIBE"
	MethodSubscribeResponse   = "SUBSCRIBE_RESPONSE"
	MethodUnsubscribe         = "UNSUBSCRIBE"
	MethodUnsubscribeResponse = "UNSUBSCRIBE_RESPONSE"
	MethodSignal              = "SIGNAL"
)

// Response codes.
const (
	CodeOK         = 0
	CodeBadRequest = 400
	CodeInternal   = 500
)

// Frame is the JSON envelope of every WebSocket message. Requests carry a
// RequestID that the matching response echoes; a SIGNAL push carries the
// RequestID of the SUBSCRIBE it belongs to as SubscriptionID.
type Frame struct {
	Method         string                `json:"method"`
	RequestID      string                `json:"request_id,omitempty"`
	Code           *int                  `json:"code,omitempty"`
	Message        string                `json:"message,omitempty"`
	CallID         string                `json:"call_id,omitempty"`
	ParticipantID  string                `json:"participant_id,omitempty"`
	Since          *time.Time            `json:"since,omitempty"`
	SubscriptionID string                `json:"subscription_id,omitempty"`
	Signal         *domain.SignalMessage `json:"signal,omitempty"`
}

// Response builds the reply to f with the given code.
func (f Frame) Response(method string, code int, message string) Frame {
	return Frame{
		Method:    method,
		RequestID: f.RequestID,
		Code:      &code,
		Message:   message,
	}
}

// OK reports whether a response frame carries CodeOK.
func (f Frame) OK() bool {
	return f.Code != nil && *f.Code == CodeOK
}
