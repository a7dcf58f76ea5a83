package models

import (
	"time"

	"github.com/lib/pq"
)

// Customer is a canonical customer identity
type Customer struct {
	CustomerID string     `json:"customer_id" db:"customer_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	MergedInto *string    `json:"merged_into,omitempty" db:"merged_into"`
	MergedAt   *time.Time `json:"merged_at,omitempty" db:"merged_at"`
}

// IsMerged reports whether the customer was merged forward into another
func (c Customer) IsMerged() bool {
	return c.MergedInto != nil && *c.MergedInto != ""
}

// CustomerMerge records one customer being absorbed into a survivor
type CustomerMerge struct {
	RunID      string    `json:"run_id" db:"run_id"`
	SurvivorID string    `json:"survivor_customer_id" db:"survivor_customer_id"`
	AbsorbedID string    `json:"absorbed_customer_id" db:"absorbed_customer_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// MergeReviewStatus is the review state of a merge
type MergeReviewStatus string

const (
	MergeReviewPending  MergeReviewStatus = "pending"
	MergeReviewApproved MergeReviewStatus = "approved"
	MergeReviewRejected MergeReviewStatus = "rejected"
)

// MergeReview is raised whenever a run joins previously distinct customers
type MergeReview struct {
	ID                  string            `json:"id" db:"id"`
	RunID               string            `json:"run_id" db:"run_id"`
	SurvivorCustomerID  string            `json:"survivor_customer_id" db:"survivor_customer_id"`
	AbsorbedCustomerIDs pq.StringArray    `json:"absorbed_customer_ids" db:"absorbed_customer_ids"`
	BridgingIdentifiers pq.StringArray    `json:"bridging_identifiers" db:"bridging_identifiers"`
	Status              MergeReviewStatus `json:"status" db:"status"`
	Note                *string           `json:"note,omitempty" db:"note"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	ReviewedAt          *time.Time        `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// UpdateMergeReviewRequest is the body for reviewing a merge
type UpdateMergeReviewRequest struct {
	Status MergeReviewStatus `json:"status" validate:"required,oneof=approved rejected"`
	Note   *string           `json:"note,omitempty" validate:"omitempty,max=2000"`
}
