package store

import (
	"strconv"
	"strings"
	"time"
)

// dialect holds what differs between the two supported databases. Queries
// are written once with ? placeholders.
type dialect interface {
	name() string
	rebind(query string) string
	timestamp(t time.Time) any
	schema() string
}

type sqliteDialect struct{}

func (sqliteDialect) name() string               { return "sqlite" }
func (sqliteDialect) rebind(query string) string { return query }
func (sqliteDialect) schema() string             { return schemaSQLite }

// SQLite columns hold RFC 3339 text so ordering by them is chronological.
func (sqliteDialect) timestamp(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) }

type postgresDialect struct{}

func (postgresDialect) name() string               { return "postgres" }
func (postgresDialect) rebind(query string) string { return Rebind(query) }
func (postgresDialect) timestamp(t time.Time) any  { return t.UTC() }
func (postgresDialect) schema() string             { return schemaPostgres }

// parseTime converts a scanned timestamp: text from SQLite, time.Time from
// PostgreSQL.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case []byte:
		return parseTime(string(t))
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02 15:04:05-07:00"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}

// parseTimePtr returns nil for NULL or unparseable timestamps.
func parseTimePtr(v any) *time.Time {
	if t := parseTime(v); !t.IsZero() {
		return &t
	}
	return nil
}

// Rebind numbers ? placeholders as $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	buf := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			buf = append(buf, query[i])
			continue
		}
		n++
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(n), 10)
	}
	return string(buf)
}
