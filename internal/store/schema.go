package store

import "context"

// schemaStatements are the CREATE TABLE / CREATE INDEX statements for every
// table named in §3. Each statement is idempotent (IF NOT EXISTS) so
// bootstrap is safe across restarts, and additive column changes can be
// appended here later without a migration framework (§1 Non-goals).
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS raw_file_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS raw_files (
		file_id        BIGINT PRIMARY KEY,
		path           VARCHAR NOT NULL,
		type           VARCHAR NOT NULL,
		migration_id   BIGINT,
		record_date    VARCHAR,
		record_count   BIGINT NOT NULL DEFAULT 0,
		min_ts         TIMESTAMP,
		max_ts         TIMESTAMP,
		ingested       BOOLEAN NOT NULL DEFAULT FALSE,
		ingested_at    TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_files_path ON raw_files(path)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_files_pending ON raw_files(ingested, record_date, file_id)`,

	`CREATE TABLE IF NOT EXISTS events_raw (
		_file_id        BIGINT NOT NULL,
		event_id        VARCHAR NOT NULL,
		update_id       VARCHAR,
		contract_id     VARCHAR,
		template_id     VARCHAR,
		event_type      VARCHAR,
		effective_at    TIMESTAMP,
		recorded_at     TIMESTAMP,
		signatories     VARCHAR[],
		observers       VARCHAR[],
		acting_parties  VARCHAR[],
		consuming       BOOLEAN NOT NULL DEFAULT FALSE,
		choice          VARCHAR,
		synchronizer_id VARCHAR,
		payload         JSON
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_raw_file ON events_raw(_file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_raw_contract ON events_raw(contract_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_raw_template ON events_raw(template_id)`,

	`CREATE TABLE IF NOT EXISTS updates_raw (
		_file_id        BIGINT NOT NULL,
		update_id       VARCHAR NOT NULL,
		effective_at    TIMESTAMP,
		recorded_at     TIMESTAMP,
		synchronizer_id VARCHAR,
		payload         JSON
	)`,
	`CREATE INDEX IF NOT EXISTS idx_updates_raw_file ON updates_raw(_file_id)`,

	`CREATE TABLE IF NOT EXISTS aggregation_watermarks (
		agg_name      VARCHAR PRIMARY KEY,
		last_file_id  BIGINT NOT NULL DEFAULT 0,
		updated_at    TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS event_type_counts (
		event_type  VARCHAR PRIMARY KEY,
		count       BIGINT NOT NULL DEFAULT 0,
		updated_at  TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS template_file_index (
		file_path      VARCHAR NOT NULL,
		template_name  VARCHAR NOT NULL,
		event_count    BIGINT NOT NULL,
		first_event_at TIMESTAMP NOT NULL,
		last_event_at  TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tfi_file_template ON template_file_index(file_path, template_name)`,
	`CREATE INDEX IF NOT EXISTS idx_tfi_template ON template_file_index(template_name)`,

	`CREATE TABLE IF NOT EXISTS template_file_index_state (
		id                     INTEGER PRIMARY KEY,
		last_indexed_at        TIMESTAMP,
		total_files_indexed    BIGINT NOT NULL DEFAULT 0,
		total_templates_found  BIGINT NOT NULL DEFAULT 0,
		build_duration_seconds DOUBLE NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS vote_requests (
		event_id       VARCHAR PRIMARY KEY,
		stable_id      VARCHAR NOT NULL,
		contract_id    VARCHAR NOT NULL,
		status         VARCHAR NOT NULL,
		is_closed      BOOLEAN NOT NULL DEFAULT FALSE,
		action_tag     VARCHAR,
		action_subject VARCHAR,
		proposal_id    VARCHAR NOT NULL,
		semantic_key   VARCHAR NOT NULL,
		is_human       BOOLEAN NOT NULL DEFAULT FALSE,
		votes          JSON,
		accept_count   INTEGER NOT NULL DEFAULT 0,
		reject_count   INTEGER NOT NULL DEFAULT 0,
		vote_before    TIMESTAMP,
		effective_at   TIMESTAMP,
		updated_at     TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vote_requests_proposal ON vote_requests(proposal_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vote_requests_semantic ON vote_requests(semantic_key)`,
	`CREATE INDEX IF NOT EXISTS idx_vote_requests_status ON vote_requests(status)`,

	`CREATE TABLE IF NOT EXISTS sv_intervals (
		contract_id        VARCHAR PRIMARY KEY,
		sv_party           VARCHAR NOT NULL,
		sv_name            VARCHAR,
		sv_reward_weight   DOUBLE,
		sv_participant_id  VARCHAR,
		active_from        TIMESTAMP NOT NULL,
		active_until       TIMESTAMP,
		dso                VARCHAR,
		reason             VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sv_intervals_party ON sv_intervals(sv_party)`,
	`CREATE INDEX IF NOT EXISTS idx_sv_intervals_active ON sv_intervals(active_from, active_until)`,

	`CREATE TABLE IF NOT EXISTS dso_rules_intervals (
		contract_id        VARCHAR PRIMARY KEY,
		config_hash        VARCHAR,
		active_from        TIMESTAMP NOT NULL,
		active_until       TIMESTAMP,
		dso                VARCHAR,
		reason             VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dso_rules_intervals_active ON dso_rules_intervals(active_from, active_until)`,

	`CREATE TABLE IF NOT EXISTS reward_coupons (
		event_id          VARCHAR PRIMARY KEY,
		contract_id       VARCHAR NOT NULL,
		template_id       VARCHAR,
		effective_at      TIMESTAMP,
		round             BIGINT,
		coupon_type       VARCHAR NOT NULL,
		beneficiary       VARCHAR,
		weight            DOUBLE,
		cc_amount         DOUBLE,
		has_issuance_data BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reward_coupons_beneficiary ON reward_coupons(beneficiary)`,
	`CREATE INDEX IF NOT EXISTS idx_reward_coupons_round ON reward_coupons(round)`,

	`CREATE TABLE IF NOT EXISTS issuance_rates (
		round          BIGINT PRIMARY KEY,
		per_app        DOUBLE NOT NULL DEFAULT 0,
		per_validator  DOUBLE NOT NULL DEFAULT 0,
		per_sv         DOUBLE NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS build_history (
		build_id      VARCHAR PRIMARY KEY,
		indexer       VARCHAR NOT NULL,
		started_at    TIMESTAMP NOT NULL,
		finished_at   TIMESTAMP,
		success       BOOLEAN,
		error         VARCHAR,
		rows_output   BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_build_history_indexer ON build_history(indexer, started_at)`,
}

// EnsureSchema creates every table/index if it does not already exist.
// Safe to call on every process start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if err := s.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
