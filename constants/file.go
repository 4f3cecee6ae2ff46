package constants

import "strings"

// FileKind identifies how an uploaded pricelist is parsed.
type FileKind string

const (
	FileKindCSV  FileKind = "csv"  // delimited text, separator auto-detected
	FileKindXLSX FileKind = "xlsx" // spreadsheet workbook (first or named sheet)
	FileKindXLS  FileKind = "xls"
	FileKindJSON FileKind = "json" // structured list of objects
)

// AllowedExtensions holds the default allowed file extensions for pricelist uploads.
var AllowedExtensions = map[string]FileKind{
	"csv":  FileKindCSV,
	"txt":  FileKindCSV,
	"tsv":  FileKindCSV,
	"xlsx": FileKindXLSX,
	"xlsm": FileKindXLSX,
	"xls":  FileKindXLS,
	"json": FileKindJSON,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// KindForExt maps a file extension to its parse kind.
func KindForExt(ext string) (FileKind, bool) {
	kind, ok := AllowedExtensions[NormalizeExt(ext)]
	return kind, ok
}
