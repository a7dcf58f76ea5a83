package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Connection is the aggregated summary of every interaction between one pair
type Connection struct {
	CustomerID1          string             `json:"customer_id_1" db:"customer_id_1"`
	CustomerID2          string             `json:"customer_id_2" db:"customer_id_2"`
	InteractionCount     int                `json:"interaction_count" db:"interaction_count"`
	StrengthScore        int                `json:"strength_score" db:"strength_score"`
	FirstInteractionDate time.Time          `json:"first_interaction_date" db:"first_interaction_date"`
	LastInteractionDate  time.Time          `json:"last_interaction_date" db:"last_interaction_date"`
	InteractionTypes     pq.StringArray     `json:"interaction_types" db:"interaction_types"`
	Metadata             ConnectionMetadata `json:"metadata" db:"metadata"`
}

// ConnectionMetadata carries per-type counts and the observed date range
type ConnectionMetadata struct {
	TypeCounts map[string]int `json:"type_counts"`
	FirstDate  string         `json:"first_date"`
	LastDate   string         `json:"last_date"`
}

func (m ConnectionMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *ConnectionMetadata) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		return nil
	default:
		return fmt.Errorf("ConnectionMetadata.Scan: expected []byte, got %T", src)
	}
}
