// Package models holds the row types shared across the warehouse's
// ingestion pipeline, indices, and projections.
package models

import "time"

// FileType distinguishes the two recognized record file kinds.
type FileType string

const (
	FileTypeEvents  FileType = "events"
	FileTypeUpdates FileType = "updates"
)

// RawFile is one discovered record file (§3 RawFile).
type RawFile struct {
	FileID      int64     `json:"file_id"`
	Path        string    `json:"path"`
	Type        FileType  `json:"type"`
	MigrationID *int64    `json:"migration_id,omitempty"`
	RecordDate  *string   `json:"record_date,omitempty"` // "YYYY-MM-DD", parsed from year=/month=/day= segments
	RecordCount int64     `json:"record_count"`
	MinTS       time.Time `json:"min_ts"`
	MaxTS       time.Time `json:"max_ts"`
	Ingested    bool      `json:"ingested"`
	IngestedAt  time.Time `json:"ingested_at,omitempty"`
}

// FileStats is the §4.C getFileStats() grouping result.
type FileStats struct {
	Type        FileType `json:"type"`
	Ingested    bool     `json:"ingested"`
	FileCount   int64    `json:"file_count"`
	RecordCount int64    `json:"record_count"`
}

// EventRow is one decoded event record (§3 EventRow).
type EventRow struct {
	FileID        int64     `json:"_file_id"`
	EventID       string    `json:"event_id"`
	UpdateID      string    `json:"update_id"`
	ContractID    string    `json:"contract_id"`
	TemplateID    string    `json:"template_id"`
	EventType     string    `json:"event_type"` // created, exercised, archived
	EffectiveAt   time.Time `json:"effective_at"`
	RecordedAt    time.Time `json:"recorded_at"`
	Signatories   []string  `json:"signatories"`
	Observers     []string  `json:"observers"`
	ActingParties []string  `json:"acting_parties"`
	Consuming     bool      `json:"consuming"`
	Choice        string    `json:"choice,omitempty"`
	Payload       []byte    `json:"payload"` // JSON blob
}

// UpdateRow is one decoded update/transaction-level record (§3 UpdateRow).
type UpdateRow struct {
	FileID      int64     `json:"_file_id"`
	UpdateID    string    `json:"update_id"`
	EffectiveAt time.Time `json:"effective_at"`
	RecordedAt  time.Time `json:"recorded_at"`
	SynchronizerID string `json:"synchronizer_id"`
	Payload     []byte    `json:"payload"`
}

// AggregationWatermark is the §3 AggregationWatermark.
type AggregationWatermark struct {
	Name       string    `json:"agg_name"`
	LastFileID int64     `json:"last_file_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TemplateFileIndexRow is the §3 TemplateFileIndexRow.
type TemplateFileIndexRow struct {
	FilePath     string    `json:"file_path"`
	TemplateName string    `json:"template_name"`
	EventCount   int64     `json:"event_count"`
	FirstEventAt time.Time `json:"first_event_at"`
	LastEventAt  time.Time `json:"last_event_at"`
}

// TemplateFileIndexState is the singleton §4.F template_file_index_state row.
type TemplateFileIndexState struct {
	LastIndexedAt       time.Time `json:"last_indexed_at"`
	TotalFilesIndexed    int64    `json:"total_files_indexed"`
	TotalTemplatesFound  int64    `json:"total_templates_found"`
	BuildDurationSeconds float64  `json:"build_duration_seconds"`
}

// TemplateSummary is the §4.F getIndexedTemplates() read.
type TemplateSummary struct {
	TemplateName string `json:"template_name"`
	EventCount   int64  `json:"event_count"`
	FileCount    int64  `json:"file_count"`
}

// VoteStatus is the §3 VoteRequestRow status enum.
type VoteStatus string

const (
	VoteStatusInProgress VoteStatus = "in_progress"
	VoteStatusExecuted   VoteStatus = "executed"
	VoteStatusRejected   VoteStatus = "rejected"
	VoteStatusExpired    VoteStatus = "expired"
)

// VoteRequestRow is the §3 VoteRequestRow.
type VoteRequestRow struct {
	EventID       string     `json:"event_id"`
	StableID      string     `json:"stable_id"`
	ContractID    string     `json:"contract_id"`
	Status        VoteStatus `json:"status"`
	IsClosed      bool       `json:"is_closed"`
	ActionTag     string     `json:"action_tag"`
	ActionSubject string     `json:"action_subject"`
	ProposalID    string     `json:"proposal_id"`
	SemanticKey   string     `json:"semantic_key"`
	IsHuman       bool       `json:"is_human"`
	VotesJSON     []byte     `json:"votes"`
	AcceptCount   int        `json:"accept_count"`
	RejectCount   int        `json:"reject_count"`
	VoteBefore    time.Time  `json:"vote_before"`
	EffectiveAt   time.Time  `json:"effective_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CanonicalProposal is the queryCanonicalProposals() collapsed read shape.
type CanonicalProposal struct {
	VoteRequestRow
	RelatedCount int       `json:"related_count"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MaxAccept    int       `json:"max_accept"`
	MaxReject    int       `json:"max_reject"`
}

// SvInterval is the §3 SvInterval.
type SvInterval struct {
	ContractID     string     `json:"contract_id"`
	SvParty        string     `json:"sv_party"`
	SvName         string     `json:"sv_name"`
	SvRewardWeight float64    `json:"sv_reward_weight"`
	SvParticipantID string    `json:"sv_participant_id"`
	ActiveFrom     time.Time  `json:"active_from"`
	ActiveUntil    *time.Time `json:"active_until,omitempty"`
	Dso            string     `json:"dso"`
	Reason         string     `json:"reason,omitempty"`
}

// DsoRulesInterval is the §4.H DSO-rules-config counterpart to SvInterval:
// one row per DsoRules config contract, open while that config version is
// in force.
type DsoRulesInterval struct {
	ContractID  string     `json:"contract_id"`
	ConfigHash  string     `json:"config_hash"`
	ActiveFrom  time.Time  `json:"active_from"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
	Dso         string     `json:"dso"`
	Reason      string     `json:"reason,omitempty"`
}

// VotingThreshold is the §4.H voting-threshold helper result.
type VotingThreshold struct {
	SvCount        int `json:"sv_count"`
	TwoThirds      int `json:"two_thirds"`
	SimpleMajority int `json:"simple_majority"`
}

// CouponType enumerates §3 RewardCoupon.coupon_type.
type CouponType string

const (
	CouponTypeApp       CouponType = "App"
	CouponTypeValidator CouponType = "Validator"
	CouponTypeSV        CouponType = "SV"
)

// RewardCoupon is the §3 RewardCoupon.
type RewardCoupon struct {
	EventID         string     `json:"event_id"`
	ContractID      string     `json:"contract_id"`
	TemplateID      string     `json:"template_id"`
	EffectiveAt     time.Time  `json:"effective_at"`
	Round           int64      `json:"round"`
	CouponType      CouponType `json:"coupon_type"`
	Beneficiary     string     `json:"beneficiary"`
	Weight          float64    `json:"weight"`
	CCAmount        float64    `json:"cc_amount"`
	HasIssuanceData bool       `json:"has_issuance_data"`
}

// IssuanceRates is one round's per-coupon-type issuance rate (§4.I).
type IssuanceRates struct {
	Round        int64   `json:"round"`
	PerApp       float64 `json:"per_app"`
	PerValidator float64 `json:"per_validator"`
	PerSv        float64 `json:"per_sv"`
}

// BuildHistoryEntry records one build attempt of a long-running indexer
// (§4.F template_file_index_state, §4.G vote-request build history).
type BuildHistoryEntry struct {
	BuildID    string    `json:"build_id"`
	Indexer    string    `json:"indexer"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	RowsOutput int64     `json:"rows_output"`
}
