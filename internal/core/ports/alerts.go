package ports

import "context"

const (
	SettlementFailed Topic = "Settlement Failed"
	RefundFailed     Topic = "Refund Failed"
	HoldNotRecorded  Topic = "Hold Not Recorded"
)

type Topic string

type SettlementFailedAlert struct {
	ClaimId  string
	Kind     string
	Amount   string
	Sender   string
	Note     string
	TxRef    string
	FailedAt int64
}

type Alerts interface {
	Publish(ctx context.Context, topic Topic, message interface{}) error
}
