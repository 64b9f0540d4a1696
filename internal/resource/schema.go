package resource

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS resources (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	mime TEXT NOT NULL DEFAULT '',
	file_extension TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	sha256 TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS resources_sha256 ON resources(sha256);

CREATE TABLE IF NOT EXISTS resource_local_states (
	resource_id TEXT PRIMARY KEY,
	fetch_status TEXT NOT NULL,
	fetch_error TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS download_queue (
	resource_id TEXT PRIMARY KEY,
	priority INTEGER NOT NULL DEFAULT 0,
	queued_at INTEGER NOT NULL
);
`
