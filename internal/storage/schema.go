package storage

const schemaSQL = `
-- Checkpoint tables are scoped by source so several site profiles can share
-- one database
CREATE TABLE IF NOT EXISTS seen_ids (
    source TEXT NOT NULL,
    natural_id TEXT NOT NULL,
    seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source, natural_id)
);

CREATE TABLE IF NOT EXISTS delivered_ids (
    source TEXT NOT NULL,
    natural_id TEXT NOT NULL,
    delivered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source, natural_id)
);

-- Extracted records a run could not deliver, re-offered on resume
CREATE TABLE IF NOT EXISTS pending_records (
    source TEXT NOT NULL,
    natural_id TEXT NOT NULL,
    data TEXT NOT NULL,
    PRIMARY KEY (source, natural_id)
);

-- Records received by the reference sink, upserted by natural id
CREATE TABLE IF NOT EXISTS records (
    tenant_id TEXT NOT NULL,
    natural_id TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    title TEXT,
    closing_date TEXT,
    data TEXT NOT NULL,
    first_seen_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (tenant_id, natural_id)
);

CREATE INDEX IF NOT EXISTS idx_records_tenant_updated ON records(tenant_id, updated_at);

-- Crawl meta table stores metadata as key-value pairs
CREATE TABLE IF NOT EXISTS crawl_meta (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL
);
`
