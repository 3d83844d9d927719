package application

import (
	"context"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const notifyTimeout = 5 * time.Second

// notifier delivers best-effort chat notifications and operator alerts. Failures are logged
// and never affect the state of a claim.
type notifier struct {
	messaging ports.MessagingGateway
	alerts    ports.Alerts
}

func (n *notifier) notify(requesterId string, msg ports.OutboundMessage) {
	if n.messaging == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := n.messaging.Send(ctx, requesterId, msg); err != nil {
		log.WithError(err).WithField("requester", maskPhone(requesterId)).
			Warn("failed to deliver notification")
	}
}

func (n *notifier) publishAlert(topic ports.Topic, message ports.SettlementFailedAlert) {
	if n.alerts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := n.alerts.Publish(ctx, topic, message); err != nil {
		log.WithError(err).WithField("topic", topic).Warn("failed to publish alert")
	}
}

func (n *notifier) sendSettlementFailedAlert(claim domain.Claim, txRef string) {
	topic := ports.SettlementFailed
	if claim.SettlementKind == domain.SettlementRefund {
		topic = ports.RefundFailed
	}
	n.publishAlert(topic, getSettlementFailedAlert(claim, txRef))
}

func getSettlementFailedAlert(claim domain.Claim, txRef string) ports.SettlementFailedAlert {
	kind := string(claim.SettlementKind)
	if kind == "" {
		kind = "N/A"
	}
	return ports.SettlementFailedAlert{
		ClaimId:  claim.ShortId(),
		Kind:     kind,
		Amount:   claim.Amount.String(),
		Sender:   maskPhone(claim.SenderPhone),
		Note:     claim.ErrorNote,
		TxRef:    txRef,
		FailedAt: claim.UpdatedAt,
	}
}
