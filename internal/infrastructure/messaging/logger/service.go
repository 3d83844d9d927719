package logmessaging

import (
	"context"

	"github.com/arkade-os/escrowd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

type service struct{}

// NewService returns a gateway that only logs outbound messages. Used when no transport is
// configured.
func NewService() ports.MessagingGateway {
	return service{}
}

func (service) Send(_ context.Context, requesterId string, msg ports.OutboundMessage) error {
	entry := log.WithField("requester", maskRequester(requesterId))
	if msg.Link != "" {
		entry = entry.WithField("link", true)
	}
	entry.Infof("outbound message: %s", msg.Text)
	return nil
}

func maskRequester(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return "****" + id[len(id)-4:]
}
