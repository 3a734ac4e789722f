package storage

import (
	"path/filepath"
	"regexp"
	"strings"
)

const maxFilenameLength = 128

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces a client supplied name to a safe base name. It never
// returns path separators, leading dots or an empty string.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._-")

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.TrimRight(name[:maxFilenameLength-len(ext)], "._-") + ext
	}
	if name == "" {
		return "upload"
	}
	return name
}

// OutputBaseName derives the workbook name from an input name.
func OutputBaseName(name string) string {
	clean := SanitizeFilename(name)
	base := strings.TrimSuffix(clean, filepath.Ext(clean))
	if base == "" {
		return "converted"
	}
	return base
}
