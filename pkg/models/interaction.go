package models

import "time"

// InteractionType tags how two customers were observed together
type InteractionType string

const (
	InteractionSharedPass         InteractionType = "shared_pass"
	InteractionReceivedSharedPass InteractionType = "received_shared_pass"
	InteractionSamePurchaseGroup  InteractionType = "same_purchase_group"
	InteractionSameDayCheckin     InteractionType = "same_day_checkin"
	InteractionFamilyMembership   InteractionType = "family_membership"
	InteractionFrequentGuest      InteractionType = "frequent_guest"
)

// Interaction is one observed pairwise co-occurrence between two customers.
// For directed types CustomerID1 is the giver and CustomerID2 the receiver.
type Interaction struct {
	InteractionID   string          `json:"interaction_id" db:"interaction_id"`
	InteractionDate time.Time       `json:"interaction_date" db:"interaction_date"`
	InteractionType InteractionType `json:"interaction_type" db:"interaction_type"`
	CustomerID1     string          `json:"customer_id_1" db:"customer_id_1"`
	CustomerID2     string          `json:"customer_id_2" db:"customer_id_2"`
	// Discriminator separates distinct real-world events of one type between one pair on one day
	Discriminator string     `json:"discriminator,omitempty" db:"discriminator"`
	Metadata      Attributes `json:"metadata" db:"metadata"`
	RunID         string     `json:"run_id" db:"run_id"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
