package service

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/iago/json2excel-back/internal/domain"
	"github.com/iago/json2excel-back/internal/storage"
)

const invalidSheetChars = `:\/?*[]`

// ProcessFormData turns raw form fields into a validated options snapshot.
// Missing fields take their defaults.
func (s *ConversionService) ProcessFormData(raw map[string]string) (domain.ConversionOptions, error) {
	return normalizeOptions(raw)
}

func normalizeOptions(raw map[string]string) (domain.ConversionOptions, error) {
	options := domain.DefaultConversionOptions()

	if value, ok := field(raw, "sheet_name"); ok {
		name := sanitizeSheetName(value)
		if name == "" {
			return options, invalidOption("sheet_name", value, "Use letters, digits or spaces in the sheet name")
		}
		options.SheetName = name
	}

	if value, ok := field(raw, "array_handling"); ok {
		switch handling := domain.ArrayHandling(strings.ToLower(value)); handling {
		case domain.ArrayExpand, domain.ArrayJoin, domain.ArrayJSON:
			options.ArrayHandling = handling
		default:
			return options, invalidOption("array_handling", value, "Use one of: expand, join, json")
		}
	}

	if value, ok := raw["nested_separator"]; ok && value != "" {
		if utf8.RuneCountInString(value) > 3 {
			return options, invalidOption("nested_separator", value, "Use a separator of at most 3 characters")
		}
		options.NestedSeparator = value
	}

	if value, ok := field(raw, "max_nesting_level"); ok {
		level, err := strconv.Atoi(value)
		if err != nil || level < 1 || level > domain.MaxNestingLevelLimit {
			return options, invalidOption(
				"max_nesting_level",
				value,
				"Use a whole number between 1 and "+strconv.Itoa(domain.MaxNestingLevelLimit),
			)
		}
		options.MaxNestingLevel = level
	}

	for _, key := range []string{"include_headers", "format_headers"} {
		value, ok := field(raw, key)
		if !ok {
			continue
		}
		flag, err := parseFlag(value)
		if err != nil {
			return options, invalidOption(key, value, "Use true or false")
		}
		if key == "include_headers" {
			options.IncludeHeaders = flag
		} else {
			options.FormatHeaders = flag
		}
	}

	if value, ok := field(raw, "output_name"); ok {
		options.OutputName = storage.OutputBaseName(value)
	}

	return options, nil
}

func field(raw map[string]string, key string) (string, bool) {
	value, ok := raw[key]
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// HTML checkboxes submit "on"; everything else follows strconv.
func parseFlag(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(value)
}

func sanitizeSheetName(value string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidSheetChars, r) {
			return -1
		}
		return r
	}, value)
	name = strings.Trim(strings.TrimSpace(name), "'")
	if utf8.RuneCountInString(name) > domain.MaxSheetNameLength {
		name = string([]rune(name)[:domain.MaxSheetNameLength])
	}
	return strings.TrimSpace(name)
}

func invalidOption(name, value, resolution string) *domain.Error {
	return domain.NewValidationError(
		domain.CodeInvalidOptions,
		"Invalid conversion option "+name,
		map[string]any{"option": name, "value": value},
		resolution,
	)
}
