package models

import "time"

// IdentifierType is the kind of value an identifier carries
type IdentifierType string

const (
	IdentifierTypeEmail      IdentifierType = "email"
	IdentifierTypePhone      IdentifierType = "phone"
	IdentifierTypeInternalID IdentifierType = "internal_id"
	IdentifierTypeNamePair   IdentifierType = "name_pair"
)

// Confidence is how strongly an identifier is believed to belong to its customer
type Confidence string

const (
	ConfidenceExact  Confidence = "exact"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank orders confidence tiers; unknown tiers rank below low.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceExact:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// Stronger returns the higher of two confidence tiers
func Stronger(a, b Confidence) Confidence {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Weaker returns the lower of two confidence tiers
func Weaker(a, b Confidence) Confidence {
	if b.Rank() < a.Rank() {
		return b
	}
	return a
}

// Identifier is one normalized identifying value observed on a source record.
type Identifier struct {
	Type           IdentifierType `json:"identifier_type"`
	Value          string         `json:"identifier_value"`
	SourceSystem   string         `json:"source_system"`
	SourceRecordID string         `json:"source_record_id"`
	// Signals are record-level corroboration keys such as "membership:123"
	Signals []string `json:"signals,omitempty"`
}

// Key identifies the identifier value independent of where it was observed
func (i Identifier) Key() string {
	return IdentifierKey(i.Type, i.Value)
}

// RecordKey identifies the source record the identifier was observed on
func (i Identifier) RecordKey() string {
	return i.SourceSystem + "|" + i.SourceRecordID
}

// IdentifierKey builds the lookup key for an identifier value
func IdentifierKey(t IdentifierType, value string) string {
	return string(t) + ":" + value
}

// IdentifierLink maps one identifier value to its canonical customer
type IdentifierLink struct {
	CustomerID      string         `json:"customer_id" db:"customer_id"`
	IdentifierType  IdentifierType `json:"identifier_type" db:"identifier_type"`
	IdentifierValue string         `json:"identifier_value" db:"identifier_value"`
	Confidence      Confidence     `json:"confidence" db:"confidence"`
	SourceSystem    string         `json:"source_system" db:"source_system"`
	FirstSeenAt     time.Time      `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt      time.Time      `json:"last_seen_at" db:"last_seen_at"`
}

// Key returns the identifier key the link claims
func (l IdentifierLink) Key() string {
	return IdentifierKey(l.IdentifierType, l.IdentifierValue)
}
