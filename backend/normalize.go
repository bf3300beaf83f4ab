package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Payloads from older backends and hand-written clients mix camelCase and
// snake_case keys, send numbers as strings and encode deleted phases as
// entries without a phase ID. Everything is rewritten to the canonical
// snake_case shape before it reaches typed decoding.

var keyAliases = map[string]string{
	"qr":             "qr_code",
	"qrcode":         "qr_code",
	"user":           "username",
	"user_name":      "username",
	"production_pos": "production_position",
	"prod_position":  "production_position",
	"done":           "quantity_done",
	"qty_done":       "quantity_done",
	"qty":            "quantity",
	"setup":          "setup_time",
	"per_piece":      "production_time_per_piece",
	"time_per_piece": "production_time_per_piece",
	"running":        "running_seconds",
	"elapsed":        "running_seconds",
	"now":            "server_time",
	"deadtimes":      "dead",
	"dead_times":     "dead",
}

var numericKeys = map[string]bool{
	"id":                        true,
	"sheet_id":                  true,
	"log_id":                    true,
	"open_log_id":               true,
	"quantity":                  true,
	"quantity_done":             true,
	"running_seconds":           true,
	"duration_seconds":          true,
	"setup_time":                true,
	"production_time_per_piece": true,
}

var stringKeys = map[string]bool{
	"phase_id":            true,
	"position":            true,
	"production_position": true,
	"order_number":        true,
	"sheet_number":        true,
	"product_id":          true,
	"qr_code":             true,
	"code":                true,
}

var timeKeys = map[string]bool{
	"server_time": true,
	"start_time":  true,
	"end_time":    true,
	"updated_at":  true,
	"created_at":  true,
}

// tombstonePositions are production positions older backends used to mark
// a removed phase.
var tombstonePositions = map[string]bool{
	"-1":      true,
	"deleted": true,
	"x":       true,
}

// Normalize rewrites a JSON document into the canonical payload shape.
func Normalize(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}
	out, err := json.Marshal(canon(v))
	if err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}
	return out, nil
}

func canon(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return canonObject(t)
	case []any:
		for i := range t {
			t[i] = canon(t[i])
		}
		return t
	default:
		return v
	}
}

func canonObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := canonKey(k)
		// A canonical key wins over an alias of it.
		if _, exists := out[key]; exists && key != k {
			continue
		}
		out[key] = canonValue(key, canon(v))
	}
	if phases, ok := out["phases"].([]any); ok {
		for i, p := range phases {
			if pm, ok := p.(map[string]any); ok {
				phases[i] = canonPhase(pm)
			}
		}
	}
	for _, listKey := range []string{"items", "jobs"} {
		items, ok := out[listKey].([]any)
		if !ok {
			continue
		}
		for i, it := range items {
			if im, ok := it.(map[string]any); ok {
				items[i] = canonJobItem(im)
			}
		}
	}
	return out
}

func canonKey(k string) string {
	key := snakeCase(k)
	if alias, ok := keyAliases[key]; ok {
		return alias
	}
	return key
}

func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && !unicode.IsUpper(rune(s[i-1])) && s[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func canonValue(key string, v any) any {
	switch {
	case numericKeys[key]:
		return toNumber(v)
	case stringKeys[key]:
		return toString(v)
	case timeKeys[key]:
		return toTime(v)
	case key == "deleted":
		return toBool(v)
	}
	return v
}

func toNumber(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return v
	}
	return json.Number(s)
}

func toString(v any) any {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return v
	}
}

// toTime accepts RFC 3339 strings and unix timestamps in seconds or
// milliseconds. Empty strings become null.
func toTime(v any) any {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return unixTime(n)
		}
		return t
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return v
			}
			n = int64(f)
		}
		return unixTime(n)
	default:
		return v
	}
}

func unixTime(n int64) string {
	if n > 1e12 {
		return time.UnixMilli(n).UTC().Format(time.RFC3339Nano)
	}
	return time.Unix(n, 0).UTC().Format(time.RFC3339Nano)
}

func toBool(v any) any {
	switch t := v.(type) {
	case json.Number:
		return t.String() != "0"
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return t != ""
		}
		return b
	default:
		return v
	}
}

// canonPhase turns legacy tombstones into the explicit deleted form: an
// entry without a phase ID, or with a sentinel production position.
func canonPhase(p map[string]any) map[string]any {
	if b, ok := p["deleted"].(bool); ok && b {
		return p
	}
	id, _ := p["phase_id"].(string)
	prod, _ := p["production_position"].(string)
	if strings.TrimSpace(id) == "" || tombstonePositions[strings.ToLower(strings.TrimSpace(prod))] {
		return map[string]any{
			"position": p["position"],
			"deleted":  true,
		}
	}
	return p
}

// canonJobItem nests a flat {sheet_id, qr_code, ...} item into the sheet
// reference form.
func canonJobItem(it map[string]any) map[string]any {
	if _, ok := it["sheet"].(map[string]any); ok {
		return it
	}
	_, hasID := it["sheet_id"]
	_, hasQR := it["qr_code"]
	if !hasID && !hasQR {
		return it
	}
	ref := map[string]any{}
	if v, ok := it["sheet_id"]; ok {
		ref["sheet_id"] = v
		delete(it, "sheet_id")
	}
	if v, ok := it["qr_code"]; ok {
		ref["qr_code"] = v
		delete(it, "qr_code")
	}
	it["sheet"] = ref
	return it
}
