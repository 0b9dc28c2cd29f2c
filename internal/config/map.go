package config

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Map is a flat configuration map. Values are scalars: string, bool, int64 or
// float64. Values coming from the command line are always strings.
type Map map[string]any

// Clone returns a shallow copy of the map. Values are scalars, so the copy
// is fully independent of the original.
func (m Map) Clone() Map {
	if m == nil {
		return Map{}
	}
	return maps.Clone(m)
}

// Keys returns the keys of the map in sorted order.
func (m Map) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Has reports whether the key is present.
func (m Map) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// String returns the value for key formatted as a string, or "" if unset.
func (m Map) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return ToString(v)
}

// Bool returns the value for key coerced to a bool. Unset keys are false.
func (m Map) Bool(key string) (bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, nil
	}
	b, err := ToBool(v)
	if err != nil {
		return false, fmt.Errorf("config key %q: %w", key, err)
	}
	return b, nil
}

// Int returns the value for key coerced to an int. Unset keys are 0.
func (m Map) Int(key string) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	i, err := ToInt(v)
	if err != nil {
		return 0, fmt.Errorf("config key %q: %w", key, err)
	}
	return i, nil
}

// Float returns the value for key coerced to a float64. Unset keys are 0.
func (m Map) Float(key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, err := ToFloat(v)
	if err != nil {
		return 0, fmt.Errorf("config key %q: %w", key, err)
	}
	return f, nil
}

// List returns the value for key split on commas, with blanks dropped.
func (m Map) List(key string) []string {
	raw := m.String(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ToString formats a scalar value.
func ToString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// ToBool coerces a scalar to a bool. Strings accept the usual spellings
// ("1", "true", "yes", "on" and their negations).
func ToBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off", "":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean value %q", x)
	default:
		return false, fmt.Errorf("unsupported boolean value of type %T", v)
	}
}

// ToInt coerces a scalar to an int.
func ToInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("value %v is not an integer", x)
		}
		return int(x), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("invalid integer value %q", x)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported integer value of type %T", v)
	}
}

// ToFloat coerces a scalar to a float64.
func ToFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported numeric value of type %T", v)
	}
}
