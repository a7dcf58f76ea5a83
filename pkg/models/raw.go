package models

import "time"

// RawCustomer is a customer profile exported by the gym-management system
type RawCustomer struct {
	SourceSystem string `json:"source_system"`
	RecordID     string `json:"record_id"`
	InternalID   string `json:"internal_id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

// RawTransaction is a payment-processor transaction
type RawTransaction struct {
	SourceSystem  string    `json:"source_system"`
	RecordID      string    `json:"record_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	DateErr       error     `json:"-"`
	Amount        float64   `json:"amount"`
	Category      string    `json:"category"`
	Description   string    `json:"description"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
}

// RawFacilityEntry is one facility check-in
type RawFacilityEntry struct {
	SourceSystem           string    `json:"source_system"`
	RecordID               string    `json:"record_id"`
	InternalID             string    `json:"internal_id"`
	FirstName              string    `json:"first_name"`
	LastName               string    `json:"last_name"`
	EnteredAt              time.Time `json:"entered_at"`
	DateErr                error     `json:"-"`
	EntryMethod            string    `json:"entry_method"`
	EntryMethodDescription string    `json:"entry_method_description"`
	Location               string    `json:"location"`
	Association            string    `json:"association"`
}

// RawMembership is one membership roster record
type RawMembership struct {
	SourceSystem      string    `json:"source_system"`
	MembershipID      string    `json:"membership_id"`
	Name              string    `json:"name"`
	Size              string    `json:"size"`
	StartedAt         time.Time `json:"started_at"`
	DateErr           error     `json:"-"`
	MemberInternalIDs []string  `json:"member_internal_ids"`
}

// RawMarketingSend is one email or SMS send
type RawMarketingSend struct {
	SourceSystem string    `json:"source_system"`
	RecordID     string    `json:"record_id"`
	CampaignID   string    `json:"campaign_id"`
	TemplateID   string    `json:"template_id"`
	Channel      string    `json:"channel"`
	Recipient    string    `json:"recipient"`
	SentAt       time.Time `json:"sent_at"`
	DateErr      error     `json:"-"`
}

// RawCampaignOffer is promotional-offer metadata discovered for a campaign or template
type RawCampaignOffer struct {
	CampaignID       string `json:"campaign_id"`
	TemplateID       string `json:"template_id"`
	OfferCode        string `json:"offer_code"`
	OfferDescription string `json:"offer_description"`
	Discount         string `json:"discount"`
}

// RawBatch holds every raw extract loaded for one run
type RawBatch struct {
	Customers       []RawCustomer
	Transactions    []RawTransaction
	FacilityEntries []RawFacilityEntry
	Memberships     []RawMembership
	MarketingSends  []RawMarketingSend
	CampaignOffers  []RawCampaignOffer
}

// Size returns the total number of raw records in the batch
func (b *RawBatch) Size() int {
	return len(b.Customers) + len(b.Transactions) + len(b.FacilityEntries) +
		len(b.Memberships) + len(b.MarketingSends) + len(b.CampaignOffers)
}
