package manifest

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nupi-ai/tool/internal/util/maps"
)

// ValidateUserConfig checks values against the user_config schema and
// returns the first problem found, in key order.
func ValidateUserConfig(schema map[string]UserConfigField, values map[string]string) error {
	for _, name := range maps.SortedKeys(schema) {
		field := schema[name]
		v, ok := values[name]
		if !ok {
			if field.Required {
				return &ValidationError{Field: name, Msg: "required config field is missing"}
			}
			continue
		}
		switch field.Type {
		case UserNumber:
			num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return &ValidationError{Field: name, Msg: "must be a number"}
			}
			if field.Min != nil && num < *field.Min {
				return &ValidationError{Field: name, Msg: "must be >= " + formatFloat(*field.Min)}
			}
			if field.Max != nil && num > *field.Max {
				return &ValidationError{Field: name, Msg: "must be <= " + formatFloat(*field.Max)}
			}
		case UserString:
			if len(field.Enum) > 0 && !slices.Contains(field.Enum, v) {
				return &ValidationError{Field: name, Msg: fmt.Sprintf("must be one of: %s", strings.Join(field.Enum, ", "))}
			}
		case UserBoolean:
			if v != "true" && v != "false" {
				return &ValidationError{Field: name, Msg: "must be 'true' or 'false'"}
			}
		}
	}
	return nil
}

// ValidateSystemConfig checks allocated values against the system_config
// schema.
func ValidateSystemConfig(schema map[string]SystemConfigField, values map[string]string) error {
	for _, name := range maps.SortedKeys(schema) {
		field := schema[name]
		v, ok := values[name]
		if !ok {
			if field.Required {
				return &ValidationError{Field: name, Msg: "required system_config field is missing"}
			}
			continue
		}
		if field.Type == SystemPort {
			num, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return &ValidationError{Field: name, Msg: "must be a number"}
			}
			if num < 1 || num > 65535 {
				return &ValidationError{Field: name, Msg: "must be a valid port (1-65535)"}
			}
		}
	}
	return nil
}

// ApplyUserConfigDefaults fills values missing from values with the schema
// defaults. Existing entries are never overwritten.
func ApplyUserConfigDefaults(schema map[string]UserConfigField, values map[string]string) {
	for name, field := range schema {
		if _, ok := values[name]; ok {
			continue
		}
		if field.Default == nil {
			continue
		}
		values[name] = DefaultString(field.Default)
	}
}

// DefaultString renders a JSON default value as config text. Strings are
// used as-is; numbers and booleans use their JSON form.
func DefaultString(v any) string {
	switch d := v.(type) {
	case string:
		return d
	case float64:
		return formatFloat(d)
	case bool:
		return strconv.FormatBool(d)
	case json.Number:
		return d.String()
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprint(d)
		}
		return string(b)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
