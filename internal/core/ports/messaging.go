package ports

import "context"

// InboundMessage is a text or reaction event delivered by the messaging transport.
type InboundMessage struct {
	RequesterId string
	Text        string
	Reaction    string
	Timestamp   int64
}

type OutboundMessage struct {
	Text string
	// Link is an optional deep link rendered by the transport as a button.
	Link string
}

type MessagingGateway interface {
	Send(ctx context.Context, requesterId string, msg OutboundMessage) error
}
