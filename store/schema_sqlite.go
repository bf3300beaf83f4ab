package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS operators (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    display_name  TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS production_sheets (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    qr_code      TEXT NOT NULL UNIQUE,
    order_number TEXT NOT NULL DEFAULT '',
    sheet_number TEXT NOT NULL DEFAULT '',
    product_id   TEXT NOT NULL DEFAULT '',
    quantity     INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS phase_definitions (
    id                        INTEGER PRIMARY KEY AUTOINCREMENT,
    sheet_id                  INTEGER NOT NULL REFERENCES production_sheets(id) ON DELETE CASCADE,
    seq                       INTEGER NOT NULL DEFAULT 0,
    phase_id                  TEXT NOT NULL DEFAULT '',
    position                  TEXT NOT NULL DEFAULT '',
    production_position       TEXT NOT NULL DEFAULT '',
    setup_time                REAL NOT NULL DEFAULT 0,
    production_time_per_piece REAL NOT NULL DEFAULT 0,
    deleted                   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_phase_definitions_sheet ON phase_definitions(sheet_id, seq);

CREATE TABLE IF NOT EXISTS phase_logs (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    sheet_id         INTEGER NOT NULL REFERENCES production_sheets(id),
    phase_id         TEXT NOT NULL,
    position         TEXT NOT NULL,
    operator         TEXT NOT NULL,
    stage            TEXT NOT NULL DEFAULT 'production',
    start_time       TEXT NOT NULL,
    end_time         TEXT,
    quantity_done    INTEGER NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_phase_logs_sheet ON phase_logs(sheet_id);
CREATE INDEX IF NOT EXISTS idx_phase_logs_open ON phase_logs(operator, end_time);

CREATE TABLE IF NOT EXISTS live_sessions (
    username   TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    sheet_id   INTEGER NOT NULL DEFAULT 0,
    qr_code    TEXT NOT NULL DEFAULT '',
    phase_id   TEXT NOT NULL DEFAULT '',
    position   TEXT NOT NULL DEFAULT '',
    stage      TEXT NOT NULL DEFAULT '',
    start_time TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_times (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    username    TEXT NOT NULL,
    code        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    linkage     TEXT NOT NULL DEFAULT '',
    start_time  TEXT NOT NULL,
    end_time    TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_dead_times_open ON dead_times(username) WHERE end_time IS NULL;

CREATE TABLE IF NOT EXISTS multi_sessions (
    username   TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    items      TEXT NOT NULL DEFAULT '[]',
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stations (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id        TEXT NOT NULL UNIQUE,
    line           TEXT NOT NULL DEFAULT '',
    hostname       TEXT NOT NULL DEFAULT '',
    version        TEXT NOT NULL DEFAULT '',
    operators      TEXT NOT NULL DEFAULT '[]',
    registered_at  TEXT NOT NULL,
    last_heartbeat TEXT,
    status         TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS outbox (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    topic      TEXT NOT NULL,
    event_type TEXT NOT NULL DEFAULT '',
    source     TEXT NOT NULL DEFAULT '',
    payload    BLOB NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    sent_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at, id);
`
