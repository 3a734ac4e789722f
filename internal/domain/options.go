package domain

type ArrayHandling string

const (
	ArrayExpand ArrayHandling = "expand"
	ArrayJoin   ArrayHandling = "join"
	ArrayJSON   ArrayHandling = "json"
)

const (
	DefaultSheetName       = "Sheet1"
	DefaultNestedSeparator = "."
	DefaultMaxNestingLevel = 10
	MaxNestingLevelLimit   = 20
	MaxSheetNameLength     = 31
)

// ConversionOptions is the snapshot of user choices captured when a job is
// created.
type ConversionOptions struct {
	SheetName       string
	ArrayHandling   ArrayHandling
	NestedSeparator string
	MaxNestingLevel int
	IncludeHeaders  bool
	FormatHeaders   bool
	OutputName      string
}

func DefaultConversionOptions() ConversionOptions {
	return ConversionOptions{
		SheetName:       DefaultSheetName,
		ArrayHandling:   ArrayExpand,
		NestedSeparator: DefaultNestedSeparator,
		MaxNestingLevel: DefaultMaxNestingLevel,
		IncludeHeaders:  true,
		FormatHeaders:   true,
	}
}

func (o ConversionOptions) ToMap() map[string]any {
	result := map[string]any{
		"sheet_name":        o.SheetName,
		"array_handling":    string(o.ArrayHandling),
		"nested_separator":  o.NestedSeparator,
		"max_nesting_level": o.MaxNestingLevel,
		"include_headers":   o.IncludeHeaders,
		"format_headers":    o.FormatHeaders,
	}
	if o.OutputName != "" {
		result["output_name"] = o.OutputName
	}
	return result
}

func ConversionOptionsFromMap(values map[string]any) ConversionOptions {
	defaults := DefaultConversionOptions()
	if values == nil {
		return defaults
	}

	options := ConversionOptions{
		SheetName:       stringValue(values["sheet_name"]),
		ArrayHandling:   ArrayHandling(stringValue(values["array_handling"])),
		NestedSeparator: stringValue(values["nested_separator"]),
		MaxNestingLevel: intValue(values["max_nesting_level"]),
		IncludeHeaders:  boolValue(values["include_headers"], defaults.IncludeHeaders),
		FormatHeaders:   boolValue(values["format_headers"], defaults.FormatHeaders),
		OutputName:      stringValue(values["output_name"]),
	}
	if options.SheetName == "" {
		options.SheetName = defaults.SheetName
	}
	if options.ArrayHandling == "" {
		options.ArrayHandling = defaults.ArrayHandling
	}
	if options.NestedSeparator == "" {
		options.NestedSeparator = defaults.NestedSeparator
	}
	if options.MaxNestingLevel <= 0 {
		options.MaxNestingLevel = defaults.MaxNestingLevel
	}
	return options
}
