package types

// OveragePolicy governs what happens when usage exceeds a plan's included quantity
type OveragePolicy string

const (
	// OverageBlock raises a hard limit-exceeded signal without billing further usage
	OverageBlock OveragePolicy = "block"
	// OverageBill charges (usage - included) * unit_price when positive
	OverageBill OveragePolicy = "bill"
	// OverageThrottle signals the ingestion path to reduce its acceptance rate
	OverageThrottle OveragePolicy = "throttle"
)

func (p OveragePolicy) Validate() bool {
	switch p {
	case OverageBlock, OverageBill, OverageThrottle:
		return true
	}
	return false
}

// SubscriptionStatus is the lifecycle status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

func (s SubscriptionStatus) Validate() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// IsBillable reports whether usage under this subscription should be invoiced
func (s SubscriptionStatus) IsBillable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

// InvoiceStatus is the lifecycle status of an invoice.
// Invoices are append-only once they leave draft.
type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusOpen  InvoiceStatus = "open"
	InvoiceStatusPaid  InvoiceStatus = "paid"
	InvoiceStatusVoid  InvoiceStatus = "void"
)

func (s InvoiceStatus) Validate() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid:
		return true
	}
	return false
}

// IngestAckStatus is the per-event outcome of an ingestion call
type IngestAckStatus string

const (
	AckAccepted  IngestAckStatus = "accepted"
	AckDuplicate IngestAckStatus = "duplicate"
	AckRejected  IngestAckStatus = "rejected"
)
