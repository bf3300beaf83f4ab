package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS operators (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    display_name  TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS production_sheets (
    id           BIGSERIAL PRIMARY KEY,
    qr_code      TEXT NOT NULL UNIQUE,
    order_number TEXT NOT NULL DEFAULT '',
    sheet_number TEXT NOT NULL DEFAULT '',
    product_id   TEXT NOT NULL DEFAULT '',
    quantity     INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS phase_definitions (
    id                        BIGSERIAL PRIMARY KEY,
    sheet_id                  BIGINT NOT NULL REFERENCES production_sheets(id) ON DELETE CASCADE,
    seq                       INTEGER NOT NULL DEFAULT 0,
    phase_id                  TEXT NOT NULL DEFAULT '',
    position                  TEXT NOT NULL DEFAULT '',
    production_position       TEXT NOT NULL DEFAULT '',
    setup_time                DOUBLE PRECISION NOT NULL DEFAULT 0,
    production_time_per_piece DOUBLE PRECISION NOT NULL DEFAULT 0,
    deleted                   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_phase_definitions_sheet ON phase_definitions(sheet_id, seq);

CREATE TABLE IF NOT EXISTS phase_logs (
    id               BIGSERIAL PRIMARY KEY,
    sheet_id         BIGINT NOT NULL REFERENCES production_sheets(id),
    phase_id         TEXT NOT NULL,
    position         TEXT NOT NULL,
    operator         TEXT NOT NULL,
    stage            TEXT NOT NULL DEFAULT 'production',
    start_time       TIMESTAMPTZ NOT NULL,
    end_time         TIMESTAMPTZ,
    quantity_done    INTEGER NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_phase_logs_sheet ON phase_logs(sheet_id);
CREATE INDEX IF NOT EXISTS idx_phase_logs_open ON phase_logs(operator, end_time);

CREATE TABLE IF NOT EXISTS live_sessions (
    username   TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    sheet_id   BIGINT NOT NULL DEFAULT 0,
    qr_code    TEXT NOT NULL DEFAULT '',
    phase_id   TEXT NOT NULL DEFAULT '',
    position   TEXT NOT NULL DEFAULT '',
    stage      TEXT NOT NULL DEFAULT '',
    start_time TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_times (
    id          BIGSERIAL PRIMARY KEY,
    username    TEXT NOT NULL,
    code        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    linkage     TEXT NOT NULL DEFAULT '',
    start_time  TIMESTAMPTZ NOT NULL,
    end_time    TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_dead_times_open ON dead_times(username) WHERE end_time IS NULL;

CREATE TABLE IF NOT EXISTS multi_sessions (
    username   TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    items      JSONB NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stations (
    id             BIGSERIAL PRIMARY KEY,
    node_id        TEXT NOT NULL UNIQUE,
    line           TEXT NOT NULL DEFAULT '',
    hostname       TEXT NOT NULL DEFAULT '',
    version        TEXT NOT NULL DEFAULT '',
    operators      TEXT NOT NULL DEFAULT '[]',
    registered_at  TIMESTAMPTZ NOT NULL,
    last_heartbeat TIMESTAMPTZ,
    status         TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS outbox (
    id         BIGSERIAL PRIMARY KEY,
    topic      TEXT NOT NULL,
    event_type TEXT NOT NULL DEFAULT '',
    source     TEXT NOT NULL DEFAULT '',
    payload    BYTEA NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    sent_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at, id);
`
