package application

import (
	"context"
	"fmt"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/internal/core/ports"
	"github.com/arkade-os/escrowd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// HandleMessage routes an inbound chat event:
//  1. a pending operation for the requester takes the message as confirm/cancel signal;
//  2. CLAIM <token> settles a claim to the requester's account, registering it on demand;
//  3. SEND <amount> TO <phone> proposes a transfer;
//  4. anything else gets the help text.
func (s *service) HandleMessage(
	ctx context.Context, msg ports.InboundMessage,
) (*Reply, errors.Error) {
	requester, verr := normalizePhone(msg.RequesterId)
	if verr != nil {
		return nil, verr
	}

	reply := s.route(ctx, requester, msg)
	s.notifier.notify(requester, ports.OutboundMessage{Text: reply.Text, Link: reply.Link})
	return reply, nil
}

func (s *service) route(ctx context.Context, requester string, msg ports.InboundMessage) *Reply {
	op, err := s.confirmations.pending(ctx, requester)
	if err != nil {
		log.WithError(err).Warn("failed to check pending operation")
	}
	if op != nil {
		resolution, verr := s.Resolve(ctx, requester, Signal{Text: msg.Text, Reaction: msg.Reaction})
		if verr != nil {
			return &Reply{Text: describeError(verr)}
		}
		reply := &Reply{Text: resolution.Message}
		if resolution.Hold != nil {
			reply.Link = resolution.Hold.ClaimLink
		}
		return reply
	}

	if token, ok := parseClaimCommand(msg.Text); ok {
		return s.handleClaim(ctx, requester, token)
	}

	if amount, recipient, ok := parseSendCommand(msg.Text); ok {
		proposal, verr := s.RequestSend(ctx, SendRequest{
			RequesterPhone: requester,
			RecipientPhone: recipient,
			Amount:         amount,
		})
		if verr != nil {
			return &Reply{Text: describeError(verr)}
		}
		return &Reply{Text: proposal.Prompt}
	}

	return &Reply{Text: s.helpFor(ctx, requester)}
}

func (s *service) handleClaim(ctx context.Context, requester, token string) *Reply {
	account, verr := s.ensureAccount(ctx, requester)
	if verr != nil {
		return &Reply{Text: describeError(verr)}
	}

	res, verr := s.ValidateAndClaim(ctx, ClaimRequest{
		Token:          token,
		ClaimerPhone:   requester,
		ClaimerAddress: account.Address,
	})
	if verr != nil {
		return &Reply{Text: describeError(verr)}
	}
	return &Reply{Text: fmt.Sprintf(
		"Claimed! %s was sent to your wallet (network fee %s).", res.SettledAmount, res.GasCost,
	)}
}

// helpFor returns the help text, pointing recipients to the transfers waiting for them.
func (s *service) helpFor(ctx context.Context, requester string) string {
	claims, err := s.repoManager.Claims().GetByRecipientPhone(ctx, requester)
	if err != nil {
		log.WithError(err).Warn("failed to list claims for help reply")
		return helpText
	}

	waiting := 0
	for _, claim := range claims {
		if claim.Status == domain.ClaimPending && !claim.IsExpired(s.now()) {
			waiting++
		}
	}
	if waiting == 0 {
		return helpText
	}
	return fmt.Sprintf(
		"You have %d transfer(s) waiting. Open the claim link you received to collect them. %s",
		waiting, helpText,
	)
}
