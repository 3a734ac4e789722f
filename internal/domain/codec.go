package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Helpers for rebuilding domain values from map form. Values may come straight
// from ToMap or from a JSON round trip, so numbers can be int, float64 or
// json.Number and times can be time.Time or RFC3339 strings.

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func timeValue(raw any) (time.Time, error) {
	switch value := raw.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return value.UTC(), nil
	case string:
		if value == "" {
			return time.Time{}, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", raw)
	}
}

func optionalTimeValue(raw any) (*time.Time, error) {
	parsed, err := timeValue(raw)
	if err != nil || parsed.IsZero() {
		return nil, err
	}
	return &parsed, nil
}

func stringValue(raw any) string {
	switch value := raw.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprintf("%v", value)
	}
}

func intValue(raw any) int {
	switch value := raw.(type) {
	case int:
		return value
	case int32:
		return int(value)
	case int64:
		return int(value)
	case float64:
		return int(value)
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			f, _ := value.Float64()
			return int(f)
		}
		return int(parsed)
	case string:
		parsed, _ := strconv.Atoi(value)
		return parsed
	default:
		return 0
	}
}

func int64Value(raw any) int64 {
	switch value := raw.(type) {
	case int64:
		return value
	case float64:
		return int64(value)
	case json.Number:
		parsed, _ := value.Int64()
		return parsed
	default:
		return int64(intValue(raw))
	}
}

func boolValue(raw any, fallback bool) bool {
	switch value := raw.(type) {
	case bool:
		return value
	case string:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

func mapValue(raw any) map[string]any {
	value, _ := raw.(map[string]any)
	return value
}

func stringSlice(raw any) []string {
	switch value := raw.(type) {
	case []string:
		return append([]string(nil), value...)
	case []any:
		result := make([]string, 0, len(value))
		for _, item := range value {
			result = append(result, stringValue(item))
		}
		return result
	default:
		return nil
	}
}

func cloneMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	clone := make(map[string]any, len(values))
	for key, value := range values {
		if nested, ok := value.(map[string]any); ok {
			clone[key] = cloneMap(nested)
			continue
		}
		clone[key] = value
	}
	return clone
}
