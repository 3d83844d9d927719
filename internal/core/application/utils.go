package application

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/arkade-os/escrowd/internal/core/domain"
	"github.com/arkade-os/escrowd/pkg/errors"
	"github.com/shopspring/decimal"
)

type signalClass int

const (
	signalUnrecognized signalClass = iota
	signalConfirm
	signalCancel
)

var (
	phoneRegexp       = regexp.MustCompile(`^\+[0-9]{7,15}$`)
	phoneStripper     = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	sendCommandRegexp = regexp.MustCompile(
		`(?i)^\s*send\s+([0-9]*\.?[0-9]+)\s+(?:to\s+)?(\+?[0-9]{7,15})\s*$`,
	)

	confirmWords = map[string]struct{}{
		"yes": {}, "y": {}, "confirm": {}, "ok": {}, "okay": {}, "sure": {}, "proceed": {},
		"send": {},
	}
	cancelWords = map[string]struct{}{
		"no": {}, "n": {}, "cancel": {}, "stop": {}, "abort": {},
	}
	confirmReactions = map[string]struct{}{
		"👍": {}, "✅": {}, "👌": {}, "✔": {},
	}
	cancelReactions = map[string]struct{}{
		"👎": {}, "❌": {}, "🚫": {},
	}
)

// normalizePhone strips formatting characters and makes sure the number has a leading +.
func normalizePhone(phone string) (string, errors.Error) {
	normalized := phoneStripper.Replace(strings.TrimSpace(phone))
	if !strings.HasPrefix(normalized, "+") {
		normalized = "+" + normalized
	}
	if !phoneRegexp.MatchString(normalized) {
		return "", errors.INVALID_PHONE.New("invalid phone number %s", maskPhone(phone)).
			WithMetadata(errors.InvalidFieldMetadata{Field: "phone", Value: maskPhone(phone)})
	}
	return normalized, nil
}

// maskPhone keeps the country prefix and the last two digits.
func maskPhone(phone string) string {
	if len(phone) <= 5 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:3] + strings.Repeat("*", len(phone)-5) + phone[len(phone)-2:]
}

func classifySignal(signal Signal) signalClass {
	if reaction := normalizeReaction(signal.Reaction); reaction != "" {
		if _, ok := confirmReactions[reaction]; ok {
			return signalConfirm
		}
		if _, ok := cancelReactions[reaction]; ok {
			return signalCancel
		}
	}

	text := strings.ToLower(strings.TrimSpace(signal.Text))
	text = strings.TrimRight(text, "!.")
	if _, ok := confirmWords[text]; ok {
		return signalConfirm
	}
	if _, ok := cancelWords[text]; ok {
		return signalCancel
	}
	if reaction := normalizeReaction(signal.Text); reaction != "" {
		return classifySignal(Signal{Reaction: reaction})
	}
	return signalUnrecognized
}

// normalizeReaction drops emoji variation selectors and skin tone modifiers.
func normalizeReaction(reaction string) string {
	return strings.Map(func(r rune) rune {
		if r == '\ufe0f' || (r >= 0x1f3fb && r <= 0x1f3ff) {
			return -1
		}
		return r
	}, strings.TrimSpace(reaction))
}

func parseSendCommand(text string) (decimal.Decimal, string, bool) {
	matches := sendCommandRegexp.FindStringSubmatch(text)
	if len(matches) != 3 {
		return decimal.Zero, "", false
	}
	amount, err := decimal.NewFromString(matches[1])
	if err != nil {
		return decimal.Zero, "", false
	}
	return amount, matches[2], true
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func fancyTime(timestamp int64) string {
	return time.Unix(timestamp, 0).UTC().Format("2006-01-02 15:04 MST")
}

func proposalPrompt(op domain.PendingOperation, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	switch op.Kind {
	case domain.OperationDirectSend:
		p := op.DirectSend
		return fmt.Sprintf(
			"Send %s to %s? Network fee is about %s, total %s. "+
				"Reply YES to confirm or NO to cancel within %d minutes.",
			p.Amount, maskPhone(p.RecipientPhone), p.FeeEstimate, p.Total, minutes,
		)
	case domain.OperationClaimLinkSend:
		p := op.ClaimLinkSend
		return fmt.Sprintf(
			"%s is not registered yet. Hold %s for them and get a claim link to share? "+
				"Network fee is about %s, total %s. "+
				"Reply YES to confirm or NO to cancel within %d minutes.",
			maskPhone(p.RecipientPhone), p.Amount, p.FeeEstimate, p.Total, minutes,
		)
	case domain.OperationSmallAmountWarning:
		p := op.ClaimLinkSend
		return fmt.Sprintf(
			"%s is a small amount: network fees will take a noticeable share of it when %s "+
				"claims it. Continue anyway? Reply YES or NO.",
			p.Amount, maskPhone(p.RecipientPhone),
		)
	default:
		return ""
	}
}

// describeError renders a typed error as a chat reply.
func describeError(err errors.Error) string {
	md := err.Metadata()
	switch err.Code() {
	case errors.AMOUNT_TOO_SMALL_FOR_GAS.Code, errors.AMOUNT_TOO_SMALL_AFTER_GAS.Code:
		return fmt.Sprintf(
			"The amount is too small to cover network fees (%s needed). Add at least %s.",
			md["required"], md["shortfall"],
		)
	case errors.INSUFFICIENT_BALANCE.Code:
		return fmt.Sprintf(
			"Your balance of %s is not enough, you need %s more.", md["balance"], md["shortfall"],
		)
	case errors.INVALID_OR_EXPIRED_CLAIM.Code:
		return "This claim link is invalid or expired."
	case errors.CLAIM_NOT_ACTIVE.Code:
		return fmt.Sprintf("This claim is no longer active (%s).", md["status"])
	case errors.CLAIM_PHONE_MISMATCH.Code:
		return "This claim was sent to a different phone number."
	case errors.CLAIM_EXPIRED.Code:
		return "This claim has expired, the funds will be returned to the sender."
	case errors.NOTHING_TO_CONFIRM.Code:
		return "There is nothing to confirm."
	case errors.ACCOUNT_NOT_FOUND.Code:
		return "You don't have an account yet, claim a transfer or register first."
	case errors.INVALID_PHONE.Code:
		return "That phone number doesn't look right."
	case errors.INVALID_AMOUNT.Code:
		return "That amount doesn't look right."
	case errors.SETTLEMENT_FAILED.Code:
		return "The transfer could not be completed, an operator has been notified."
	case errors.SERVICE_UNAVAILABLE.Code:
		return "The service is temporarily unavailable, please try again later."
	default:
		return "Something went wrong, please try again later."
	}
}

const helpText = "Send money with: SEND <amount> TO <phone>. " +
	"Claim a transfer with: CLAIM <code>."
