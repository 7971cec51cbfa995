package store

// schema is portable between SQLite and Postgres. Timestamps are unix
// milliseconds; keywords are a JSON array.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scrape_runs (
		id            TEXT PRIMARY KEY,
		bank_id       TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		started_at    BIGINT NOT NULL DEFAULT 0,
		finished_at   BIGINT,
		post_count    INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		error         TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id              TEXT PRIMARY KEY,
		source          TEXT NOT NULL DEFAULT '',
		bank_id         TEXT NOT NULL,
		text            TEXT NOT NULL,
		author_name     TEXT NOT NULL DEFAULT '',
		author_location TEXT NOT NULL DEFAULT '',
		url             TEXT NOT NULL DEFAULT '',
		keywords        TEXT NOT NULL DEFAULT '[]',
		reactions       INTEGER NOT NULL DEFAULT 0,
		comments        INTEGER NOT NULL DEFAULT 0,
		shares          INTEGER NOT NULL DEFAULT 0,
		virality_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at      BIGINT NOT NULL,
		scrape_run_id   TEXT NOT NULL DEFAULT '',
		state           TEXT NOT NULL,
		failure_reason  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_bank_state ON posts(bank_id, state, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at, id)`,
	`CREATE TABLE IF NOT EXISTS classifications (
		post_id       TEXT PRIMARY KEY REFERENCES posts(id),
		sentiment     TEXT NOT NULL,
		emotion       TEXT NOT NULL,
		category      TEXT NOT NULL,
		confidence    DOUBLE PRECISION NOT NULL,
		classified_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id            TEXT PRIMARY KEY,
		post_id       TEXT NOT NULL DEFAULT '',
		bank_id       TEXT NOT NULL,
		text          TEXT NOT NULL DEFAULT '',
		author_name   TEXT NOT NULL DEFAULT '',
		url           TEXT NOT NULL DEFAULT '',
		likes         INTEGER NOT NULL DEFAULT 0,
		replies       INTEGER NOT NULL DEFAULT 0,
		created_at    BIGINT NOT NULL,
		scrape_run_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_bank_created ON comments(bank_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS action_items (
		id          TEXT PRIMARY KEY,
		bank_id     TEXT NOT NULL,
		post_id     TEXT NOT NULL REFERENCES posts(id),
		category    TEXT NOT NULL,
		urgency     DOUBLE PRECISION NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		created_at  BIGINT NOT NULL,
		resolved_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_action_items_bank ON action_items(bank_id, status, urgency)`,
}
