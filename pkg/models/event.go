package models

import "time"

// EventType is the normalized type of a timeline event
type EventType string

const (
	EventTypeDayPassPurchase     EventType = "day_pass_purchase"
	EventTypeMembershipPurchase  EventType = "membership_purchase"
	EventTypeMembershipRenewal   EventType = "membership_renewal"
	EventTypeRetailPurchase      EventType = "retail_purchase"
	EventTypeProgrammingPurchase EventType = "programming_purchase"
	EventTypeEventBooking        EventType = "event_booking"
	EventTypeCheckin             EventType = "checkin"
	EventTypeEmailSent           EventType = "email_sent"
	EventTypeSMSSent             EventType = "sms_sent"
)

// KnownEventTypes lists every event type a mapping may target
var KnownEventTypes = []EventType{
	EventTypeDayPassPurchase,
	EventTypeMembershipPurchase,
	EventTypeMembershipRenewal,
	EventTypeRetailPurchase,
	EventTypeProgrammingPurchase,
	EventTypeEventBooking,
	EventTypeCheckin,
	EventTypeEmailSent,
	EventTypeSMSSent,
}

// IsPurchase reports whether the event type records a purchase
func (t EventType) IsPurchase() bool {
	switch t {
	case EventTypeDayPassPurchase, EventTypeMembershipPurchase, EventTypeMembershipRenewal,
		EventTypeRetailPurchase, EventTypeProgrammingPurchase, EventTypeEventBooking:
		return true
	}
	return false
}

// Event is one normalized, dated and typed fact about a canonical customer
type Event struct {
	EventID          string     `json:"event_id" db:"event_id"`
	CustomerID       string     `json:"customer_id" db:"customer_id"`
	EventDate        time.Time  `json:"event_date" db:"event_date"`
	EventType        EventType  `json:"event_type" db:"event_type"`
	EventSource      string     `json:"event_source" db:"event_source"`
	SourceRecordID   string     `json:"source_record_id" db:"source_record_id"`
	SourceConfidence Confidence `json:"source_confidence" db:"source_confidence"`
	EventDetails     Attributes `json:"event_details" db:"event_details"`
	RunID            string     `json:"run_id" db:"run_id"`
}
