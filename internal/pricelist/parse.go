package pricelist

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/xuri/excelize/v2"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/common"
)

const (
	maxFileSize     = 100 << 20 // uploads past this are rejected outright
	delimiterSample = 1024
	parseLogEvery   = 500
)

// structuredSchema is the shape a JSON pricelist must have: a top-level list
// of flat objects, one per product row.
var structuredSchema = jsonschema.MustCompileString("pricelist.schema.json", `{
	"type": "array",
	"items": {
		"type": "object",
		"additionalProperties": {"type": ["string", "number", "boolean", "null"]}
	}
}`)

// parseFile dispatches on file kind and returns positional rows plus each
// row's 1-based position in the source, so warnings can name original lines
// even after skipped or blank rows are dropped. Every kind normalizes to
// [][]string so header detection and column mapping see one shape regardless
// of source format.
func (w *Worker) parseFile(ctx context.Context, path string, kind constants.FileKind, cfg *Config, hooks Hooks) ([][]string, []int, error) {
	switch kind {
	case constants.FileKindCSV:
		return w.parseDelimited(ctx, path, cfg, hooks)
	case constants.FileKindXLSX, constants.FileKindXLS:
		return w.parseWorkbook(path, cfg, hooks)
	case constants.FileKindJSON:
		return w.parseStructured(path, cfg)
	default:
		return nil, nil, common.Errorf(common.CodeFileTypeNotSupported, "file type %q is not supported", kind)
	}
}

// detectDelimiter samples the head of the file and counts candidate
// separators. Ties go comma < semicolon < tab, matching how often each shows
// up inside quoted text rather than as a separator.
func detectDelimiter(sample []byte) rune {
	var commas, semis, tabs int
	for _, b := range sample {
		switch b {
		case ',':
			commas++
		case ';':
			semis++
		case '\t':
			tabs++
		}
	}
	switch {
	case tabs > commas && tabs > semis:
		return '\t'
	case semis > commas:
		return ';'
	default:
		return ','
	}
}

func (w *Worker) parseDelimited(ctx context.Context, path string, cfg *Config, hooks Hooks) ([][]string, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, common.NewError(common.CodeFileNotFound, "opening "+path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	delim := cfg.Delimiter
	if delim == 0 {
		sample, _ := br.Peek(delimiterSample)
		delim = detectDelimiter(sample)
		hooks.emitStatus(fmt.Sprintf("auto-detected delimiter %q", delim))
	}

	r := csv.NewReader(br)
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	var lines []int
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				// Tolerate malformed records the way supplier files demand,
				// but keep counting so later rows keep their numbers.
				line++
				continue
			}
			return nil, nil, common.NewError(common.CodeExtractionFailed, "reading delimited file", err)
		}
		line++
		if line <= cfg.SkipRows {
			continue
		}
		if empty(record) {
			continue
		}
		// FieldPos reports the record's real position in the file, which
		// record counting loses across blank and malformed lines.
		srcLine, _ := r.FieldPos(0)
		rows = append(rows, record)
		lines = append(lines, srcLine)
		if line%parseLogEvery == 0 {
			hooks.emitStatus(fmt.Sprintf("parsed %d rows", line))
			if err := ctx.Err(); err != nil {
				return nil, nil, common.NewError(common.CodeCancelled, "extraction cancelled", err)
			}
		}
	}
	hooks.emitStatus(fmt.Sprintf("parsed %d rows total", len(rows)))
	return rows, lines, nil
}

func (w *Worker) parseWorkbook(path string, cfg *Config, hooks Hooks) ([][]string, []int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, common.NewError(common.CodeExtractionFailed, "opening workbook", err)
	}
	defer f.Close()

	sheet := cfg.SheetName
	if sheet == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, nil, common.Errorf(common.CodeExtractionFailed, "workbook has no sheets")
		}
		sheet = list[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, common.Errorf(common.CodeExtractionFailed, "sheet %q not found in workbook", sheet)
	}
	out := make([][]string, 0, len(rows))
	var lines []int
	for i, row := range rows {
		if i < cfg.SkipRows {
			continue
		}
		if empty(row) {
			continue
		}
		out = append(out, row)
		lines = append(lines, i+1) // sheet row number
	}
	hooks.emitStatus(fmt.Sprintf("loaded sheet %q, %d rows", sheet, len(out)))
	return out, lines, nil
}

// parseStructured reads a JSON pricelist: a top-level list of flat objects.
// Keys become a synthetic header row so the usual column mapping applies.
// Row numbers are 1-based item positions in the list; the synthetic header
// gets 0 since it has no source position.
func (w *Worker) parseStructured(path string, cfg *Config) ([][]string, []int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, common.NewError(common.CodeFileNotFound, "reading "+path, err)
	}
	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, nil, common.NewError(common.CodeExtractionFailed, "parsing JSON pricelist", err)
	}
	if err := structuredSchema.Validate(doc); err != nil {
		return nil, nil, common.NewError(common.CodeExtractionFailed, "JSON pricelist must be a list of flat objects", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(content, &items); err != nil {
		return nil, nil, common.NewError(common.CodeExtractionFailed, "parsing JSON pricelist", err)
	}
	// skip_rows counts leading list items here, matching its row meaning for
	// the tabular kinds.
	offset := 0
	if cfg.SkipRows > 0 {
		if cfg.SkipRows >= len(items) {
			items = nil
		} else {
			items = items[cfg.SkipRows:]
			offset = cfg.SkipRows
		}
	}

	// Column order follows first appearance across all objects, in file
	// order. A plain map would shuffle the columns from run to run.
	var header []string
	index := map[string]int{}
	for _, raw := range items {
		keys, err := objectKeys(raw)
		if err != nil {
			return nil, nil, common.NewError(common.CodeExtractionFailed, "parsing JSON pricelist", err)
		}
		for _, k := range keys {
			if _, seen := index[k]; !seen {
				index[k] = len(header)
				header = append(header, k)
			}
		}
	}

	rows := make([][]string, 0, len(items)+1)
	lines := make([]int, 0, len(items)+1)
	rows = append(rows, header)
	lines = append(lines, 0)
	for i, raw := range items {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, nil, common.NewError(common.CodeExtractionFailed, "parsing JSON pricelist", err)
		}
		row := make([]string, len(header))
		for k, v := range obj {
			row[index[k]] = stringifyJSONValue(v)
		}
		rows = append(rows, row)
		lines = append(lines, offset+i+1)
	}
	return rows, lines, nil
}

// objectKeys lists a JSON object's keys in source order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in object", tok)
		}
		keys = append(keys, key)
		var skip any
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func stringifyJSONValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func empty(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}

// fingerprintFile hashes the upload content so repeat submissions of the same
// pricelist can be spotted without diffing rows.
func fingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}
