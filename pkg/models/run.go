package models

import "time"

// RejectionReason explains why a record was skipped
type RejectionReason string

const (
	RejectionUnparseableDate      RejectionReason = "unparseable_date"
	RejectionUnknownCategory      RejectionReason = "unknown_category"
	RejectionNoIdentifier         RejectionReason = "no_identifier"
	RejectionUnresolvedCustomer   RejectionReason = "unresolved_customer"
	RejectionPassTransferUnparsed RejectionReason = "pass_transfer_unparsed"
	RejectionUnresolvedMember     RejectionReason = "unresolved_member"
	RejectionUnresolvedPurchaser  RejectionReason = "unresolved_purchaser"
)

// Rejection is one record-level failure, isolated and counted
type Rejection struct {
	Stage    string          `json:"stage"`
	Source   string          `json:"source"`
	RecordID string          `json:"record_id"`
	Reason   RejectionReason `json:"reason"`
	Detail   string          `json:"detail,omitempty"`
}

// RunStatus is the lifecycle state of a pipeline run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StageSummary records what one stage consumed and produced
type StageSummary struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Input      int    `json:"input"`
	Output     int    `json:"output"`
}

// RunSummary is the rejection and merge-review report emitted by every run
type RunSummary struct {
	RunID                 string                    `json:"run_id"`
	Status                RunStatus                 `json:"status"`
	Error                 string                    `json:"error,omitempty"`
	StartedAt             time.Time                 `json:"started_at"`
	FinishedAt            time.Time                 `json:"finished_at"`
	Stages                []StageSummary            `json:"stages"`
	Rejections            map[string]map[string]int `json:"rejections"`
	MergeReviews          []MergeReview             `json:"merge_reviews"`
	NewCustomers          int                       `json:"new_customers"`
	IdentifierLinks       int                       `json:"identifier_links"`
	Events                int                       `json:"events"`
	NewInteractions       int                       `json:"new_interactions"`
	Connections           int                       `json:"connections"`
	ConnectionFingerprint string                    `json:"connection_fingerprint"`
}

// NewRunSummary starts an empty summary for a run
func NewRunSummary(runID string, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:        runID,
		Status:       RunStatusRunning,
		StartedAt:    startedAt,
		Rejections:   map[string]map[string]int{},
		MergeReviews: []MergeReview{},
	}
}

// AddRejections tallies rejections by stage and reason
func (s *RunSummary) AddRejections(rejections []Rejection) {
	for _, r := range rejections {
		byReason, ok := s.Rejections[r.Stage]
		if !ok {
			byReason = map[string]int{}
			s.Rejections[r.Stage] = byReason
		}
		byReason[string(r.Reason)]++
	}
}

// TotalRejections returns the number of rejected records across stages
func (s *RunSummary) TotalRejections() int {
	total := 0
	for _, byReason := range s.Rejections {
		for _, n := range byReason {
			total += n
		}
	}
	return total
}

// RunOutput is everything a run publishes, written atomically
type RunOutput struct {
	RunID        string
	Customers    []Customer
	Merges       []CustomerMerge
	Links        []IdentifierLink
	MergeReviews []MergeReview
	Events       []Event
	Interactions []Interaction
	Connections  []Connection
	Summary      *RunSummary
}
