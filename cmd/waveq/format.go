package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// displayLabel turns identifiers like "podcast_production" into "Podcast Production".
func displayLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

func formatAge(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return humanize.Time(ts)
}

func formatElapsed(start time.Time, end *time.Time) string {
	if start.IsZero() {
		return "-"
	}
	finish := time.Now()
	if end != nil && !end.IsZero() {
		finish = *end
	}
	return finish.Sub(start).Round(time.Second).String()
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return (time.Duration(seconds * float64(time.Second))).Round(time.Second).String()
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16]
}

// formatMap renders a config or output map as sorted key=value pairs.
func formatMap(values map[string]any) string {
	if len(values) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+formatValue(values[key]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case nil:
		return "null"
	case map[string]any, []any:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(encoded)
	default:
		return fmt.Sprint(value)
	}
}

// parseSetting parses a key=value flag. Values that decode as JSON keep their
// JSON type so numbers and booleans reach handlers unquoted.
func parseSetting(raw string) (string, any, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid setting %q (want key=value)", raw)
	}
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		return key, decoded, nil
	}
	return key, value, nil
}

func parseSettings(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(raw))
	for _, item := range raw {
		key, value, err := parseSetting(item)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}
