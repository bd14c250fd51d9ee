package store

import "context"

// Schema is the full DDL for a fresh database. Applied idempotently on
// startup; there is no migration history yet.
const Schema = `
CREATE SCHEMA IF NOT EXISTS wsm;

CREATE TABLE IF NOT EXISTS wsm.flight (
	flight_id     TEXT PRIMARY KEY,
	flight_type   TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'QUEUED',
	step_index    INT NOT NULL DEFAULT 0,
	direction     TEXT NOT NULL DEFAULT 'DO',
	inputs        JSONB NOT NULL DEFAULT '{}'::jsonb,
	working       JSONB NOT NULL DEFAULT '{}'::jsonb,
	error_code    TEXT,
	error_message TEXT,
	submitted     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS flight_unfinished_idx
	ON wsm.flight (submitted)
	WHERE status NOT IN ('SUCCESS', 'ERROR', 'FATAL');

CREATE TABLE IF NOT EXISTS wsm.workspace (
	workspace_id     TEXT PRIMARY KEY,
	user_facing_id   TEXT NOT NULL UNIQUE,
	display_name     TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	stage            TEXT NOT NULL,
	spend_profile_id TEXT NOT NULL DEFAULT '',
	properties       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_by       TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS wsm.cloud_context (
	workspace_id     TEXT NOT NULL REFERENCES wsm.workspace(workspace_id) ON DELETE CASCADE,
	platform         TEXT NOT NULL,
	state            TEXT NOT NULL,
	flight_id        TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT '',
	spend_profile_id TEXT NOT NULL DEFAULT '',
	provider_fields  JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workspace_id, platform)
);

CREATE TABLE IF NOT EXISTS wsm.workspace_policy (
	workspace_id TEXT PRIMARY KEY REFERENCES wsm.workspace(workspace_id) ON DELETE CASCADE,
	policies     JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE TABLE IF NOT EXISTS wsm.resource (
	resource_id          TEXT NOT NULL,
	workspace_id         TEXT NOT NULL REFERENCES wsm.workspace(workspace_id) ON DELETE CASCADE,
	name                 TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	resource_type        TEXT NOT NULL,
	stewardship          TEXT NOT NULL,
	cloning_instructions TEXT NOT NULL,
	properties           JSONB NOT NULL DEFAULT '{}'::jsonb,
	lineage              JSONB NOT NULL DEFAULT '[]'::jsonb,
	attributes           JSONB NOT NULL DEFAULT '{}'::jsonb,
	access_scope         TEXT NOT NULL DEFAULT '',
	managed_by           TEXT NOT NULL DEFAULT '',
	private_user         JSONB,
	created_by           TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workspace_id, resource_id),
	UNIQUE (workspace_id, name)
);

CREATE TABLE IF NOT EXISTS wsm.job (
	job_id         TEXT PRIMARY KEY,
	flight_id      TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	operation_type TEXT NOT NULL,
	submitter      TEXT NOT NULL DEFAULT '',
	workspace_id   TEXT NOT NULL DEFAULT '',
	request_hash   TEXT NOT NULL DEFAULT '',
	submitted      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS job_workspace_idx ON wsm.job (workspace_id, submitted);

CREATE TABLE IF NOT EXISTS wsm.workspace_activity (
	workspace_id TEXT NOT NULL,
	change_type  TEXT NOT NULL,
	changed_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workspace_id, change_type)
);
`

// Migrate applies the schema. Safe to run on every startup.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return err
}
