package batch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/sentinel-mask/internal/privacy"
)

// Record is a single input row of a batch dataset
type Record struct {
	ID   string `csv:"id" parquet:"id" json:"id"`
	Text string `csv:"text" parquet:"text" json:"text"`
}

// Output is one line of the masked JSON lines output
type Output struct {
	ID         string          `json:"id"`
	MaskedText string          `json:"masked_text"`
	Tokens     int             `json:"tokens"`
	MaskMap    privacy.MaskMap `json:"mask_map,omitempty"`
}

// Result summarizes a finished batch run
type Result struct {
	TotalRecords int64            `json:"total_records"`
	Processed    int64            `json:"processed"`
	Failed       int64            `json:"failed"`
	ValuesMasked int64            `json:"values_masked"`
	Classes      map[string]int64 `json:"classes"`
	Duration     time.Duration    `json:"duration"`
	Errors       []string         `json:"errors,omitempty"`
}

// maxReportedErrors caps Result.Errors on large inputs
const maxReportedErrors = 100

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension, defaulting to CSV
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
