package domain

const (
	EventAffiliateEarningRecorded = "affiliate.earning.recorded"
	EventAffiliatePayoutCreated   = "affiliate.payout.created"

	EventPaymentConfirmed = "payment.confirmed"
)

// EmittedEvents lists every event type the ledger writes to its outbox.
func EmittedEvents() []string {
	return []string{EventAffiliateEarningRecorded, EventAffiliatePayoutCreated}
}

func IsCanonicalInputEvent(eventType string) bool { return eventType == EventPaymentConfirmed }

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventAffiliateEarningRecorded, EventAffiliatePayoutCreated:
		return true
	default:
		return false
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) {
		return "data.affiliate_id"
	}
	return ""
}
