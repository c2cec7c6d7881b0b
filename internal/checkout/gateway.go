package checkout

import "context"

// PaymentStatusPaid is the gateway's payment_status for a settled session.
const PaymentStatusPaid = "paid"

// CreateSessionParams describes one hosted checkout page.
type CreateSessionParams struct {
	UnitAmount        int64
	Currency          string
	Quantity          int64
	ProductName       string
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
}

// Session is the subset of a gateway checkout session the shop relies on.
type Session struct {
	ID                string
	URL               string
	Status            string
	PaymentStatus     string
	PaymentIntentID   string
	ClientReferenceID string
}

func (s *Session) Paid() bool {
	return s != nil && s.PaymentStatus == PaymentStatusPaid
}

type Refund struct {
	ID              string
	Status          string
	Amount          int64
	PaymentIntentID string
}

// Gateway is the hosted payment provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
	CreateRefund(ctx context.Context, paymentIntentID string) (*Refund, error)
}
