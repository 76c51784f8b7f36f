// Package sniffer parses contribution listings exported as CSV/TSV or Excel files.
// It detects encoding, delimiter and header row, maps columns by name and generates
// header fingerprints for source recognition.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/taxid"
)

// Format is the declared container format of a tabular file.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Canonical column names of a contribution listing.
const (
	ColTaxID    = "cuil_cuit"
	ColName     = "nombre"
	ColTotal    = "tot_remunerativo"
	ColLegajos  = "cant_legajos"
	ColConcept  = "monto_concepto"
	maxScanRows = 20
)

var requiredColumns = []string{ColTaxID, ColTotal, ColConcept}

// headerAliases maps folded header spellings to canonical column names.
var headerAliases = map[string]string{
	"cuil_cuit": ColTaxID, "cuit_cuil": ColTaxID, "cuil": ColTaxID, "cuit": ColTaxID,
	"nro_cuil": ColTaxID, "nro_cuit": ColTaxID,

	"nombre": ColName, "apellido_y_nombre": ColName, "apellido_nombre": ColName,
	"nombre_y_apellido": ColName, "apellido_y_nombres": ColName,

	"tot_remunerativo": ColTotal, "total_remunerativo": ColTotal, "remunerativo": ColTotal,
	"tot_remun": ColTotal,

	"cant_legajos": ColLegajos, "cantidad_legajos": ColLegajos, "legajos": ColLegajos,
	"cant_leg": ColLegajos,

	"monto_concepto": ColConcept, "importe_concepto": ColConcept, "concepto": ColConcept,
	"monto": ColConcept,
}

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrMissingColumns    = errors.New("missing required columns")
	ErrEmptyData         = errors.New("no data rows")
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	zipMagic   = []byte("PK\x03\x04")
	oleMagic   = []byte{0xD0, 0xCF, 0x11, 0xE0}
	pdfMagic   = []byte("%PDF")
	delimiters = []rune{';', '\t', ','}
)

// Options control how a file is read.
type Options struct {
	// Format is the declared format; FormatAuto sniffs the content.
	Format Format
	// Locale resolves ambiguous amounts such as "1.234" in delimited text and in
	// workbook cells stored as text.
	Locale normalizer.Locale
}

// FormatFromFilename returns the format implied by a file extension.
func FormatFromFilename(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	case ".xlsx", ".xlsm":
		return FormatXLSX
	}
	return FormatAuto
}

// IsTabular reports whether a file name looks like a spreadsheet or delimited export.
func IsTabular(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt", ".xlsx", ".xlsm", ".xls":
		return true
	}
	return false
}

// Parse reads a contribution listing. A row that cannot resolve its identifier or
// either amount rejects the whole file with ErrMissingColumns.
func Parse(data []byte, opts Options) (*model.Listing, error) {
	if len(bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))) == 0 {
		return nil, ErrEmptyData
	}

	switch {
	case bytes.HasPrefix(data, zipMagic):
		return parseXLSX(data, opts.Locale)
	case opts.Format == FormatXLSX:
		return nil, fmt.Errorf("%w: declared xlsx but content is not a workbook", ErrUnsupportedFormat)
	case bytes.HasPrefix(data, oleMagic):
		return nil, fmt.Errorf("%w: legacy xls workbooks are not supported", ErrUnsupportedFormat)
	case bytes.HasPrefix(data, pdfMagic), bytes.IndexByte(data, 0) >= 0:
		return nil, fmt.Errorf("%w: binary content", ErrUnsupportedFormat)
	}
	return parseDelimited(decodeText(data), opts.Locale)
}

// decodeText strips a BOM and decodes as UTF-8, falling back to Latin-1.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) && !bytes.ContainsRune(data, utf8.RuneError) {
		return string(data)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

func parseDelimited(text string, locale normalizer.Locale) (*model.Listing, error) {
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	delimiter, skipLines, err := findHeaderRow(lines)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines[skipLines:], "\n")))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1 // Allow variable fields
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable header: %v", ErrMissingColumns, err)
	}
	cols, err := mapColumns(headers)
	if err != nil {
		return nil, err
	}

	var rows []sourceRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingColumns, err)
		}
		line, _ := reader.FieldPos(0)
		rows = append(rows, sourceRow{line: line + skipLines, cells: record})
	}

	return buildListing(headers, cols, rows, locale)
}

// parseXLSX reads the first sheet. Numeric cells keep their raw value; amounts
// typed in as text follow locale like delimited files do.
func parseXLSX(data []byte, locale normalizer.Locale) (*model.Listing, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyData
	}

	// Raw values keep numeric cells free of display grouping.
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	headerIdx := -1
	for i, row := range rows {
		if i > maxScanRows {
			break
		}
		if countMatches(row) >= 2 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		if len(rows) == 0 {
			return nil, ErrEmptyData
		}
		return nil, fmt.Errorf("%w: no recognizable header row", ErrMissingColumns)
	}

	headers := rows[headerIdx]
	cols, err := mapColumns(headers)
	if err != nil {
		return nil, err
	}

	var source []sourceRow
	for i, row := range rows[headerIdx+1:] {
		line := headerIdx + i + 2
		text, err := textCells(f, sheets[0], line, row, cols)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		source = append(source, sourceRow{line: line, cells: row, text: text})
	}
	return buildListing(headers, cols, source, locale)
}

// textCells marks which amount cells of a sheet row hold strings rather than numbers.
func textCells(f *excelize.File, sheet string, line int, row []string, cols map[string]int) (map[int]bool, error) {
	text := make(map[int]bool, 2)
	for _, name := range []string{ColTotal, ColConcept} {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			continue
		}
		ref, err := excelize.CoordinatesToCellName(idx+1, line)
		if err != nil {
			return nil, err
		}
		typ, err := f.GetCellType(sheet, ref)
		if err != nil {
			return nil, err
		}
		switch typ {
		case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
			text[idx] = true
		}
	}
	return text, nil
}

type sourceRow struct {
	line  int
	cells []string
	// text is nil for delimited input, where every cell is text.
	text map[int]bool
}

// amountLocale is the locale for the amount in column idx. Numeric workbook cells
// are raw machine numbers and always use '.' as the decimal point.
func (r sourceRow) amountLocale(idx int, locale normalizer.Locale) normalizer.Locale {
	if r.text == nil || r.text[idx] {
		return locale
	}
	return normalizer.LocaleEN
}

func buildListing(headers []string, cols map[string]int, rows []sourceRow, locale normalizer.Locale) (*model.Listing, error) {
	listing := &model.Listing{HeaderFingerprint: generateFingerprint(headers)}

	for _, row := range rows {
		if isBlank(row.cells) {
			continue
		}
		entry, err := parseEntry(row, cols, locale)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMissingColumns, row.line, err)
		}
		listing.Entries = append(listing.Entries, entry)
	}

	if len(listing.Entries) == 0 {
		return nil, ErrEmptyData
	}

	amounts := make([]decimal.Decimal, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		amounts = append(amounts, e.ConceptAmount)
	}
	listing.Totals = model.Totals{
		PersonCount: len(listing.Entries),
		TotalAmount: normalizer.Sum(amounts...),
	}
	return listing, nil
}

func parseEntry(row sourceRow, cols map[string]int, locale normalizer.Locale) (model.PersonEntry, error) {
	var entry model.PersonEntry
	cells := row.cells

	rawID := cell(cells, cols, ColTaxID)
	id, ok := taxid.Normalize(rawID)
	if !ok {
		return entry, fmt.Errorf("%s: no identifier in %q", ColTaxID, rawID)
	}
	entry.TaxID = id
	entry.Name = normalizer.CleanText(cell(cells, cols, ColName))

	total, err := normalizer.ParseAmount(cell(cells, cols, ColTotal), row.amountLocale(cols[ColTotal], locale))
	if err != nil {
		return entry, fmt.Errorf("%s: %w", ColTotal, err)
	}
	entry.TotalRemunerative = total

	concept, err := normalizer.ParseAmount(cell(cells, cols, ColConcept), row.amountLocale(cols[ColConcept], locale))
	if err != nil {
		return entry, fmt.Errorf("%s: %w", ColConcept, err)
	}
	entry.ConceptAmount = concept

	if raw := cell(cells, cols, ColLegajos); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return entry, fmt.Errorf("%s: invalid count %q", ColLegajos, raw)
		}
		entry.LegajoCount = n
	}
	return entry, nil
}

// cell returns the trimmed value of a named column, or "" when absent.
func cell(cells []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// mapColumns resolves canonical columns by header name, in any order.
func mapColumns(headers []string) (map[string]int, error) {
	cols := make(map[string]int, len(headers))
	for i, h := range headers {
		if name, ok := headerAliases[headerKey(h)]; ok {
			if _, seen := cols[name]; !seen {
				cols[name] = i
			}
		}
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return cols, nil
}

// headerKey folds a header cell to the alias vocabulary form, e.g. "Tot. Remunerativo" -> "tot_remunerativo".
func headerKey(h string) string {
	folded := normalizer.FoldText(strings.Trim(h, "\"' "))
	key := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, folded)
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	return strings.Trim(key, "_")
}

// countMatches returns how many distinct canonical columns a header row names.
func countMatches(cells []string) int {
	seen := make(map[string]bool)
	for _, c := range cells {
		if name, ok := headerAliases[headerKey(c)]; ok {
			seen[name] = true
		}
	}
	return len(seen)
}

// findHeaderRow locates the header row and picks the delimiter whose split yields
// the most recognized column names.
func findHeaderRow(lines []string) (rune, int, error) {
	nonEmpty := false
	for i, line := range lines {
		if i > maxScanRows { // Don't search more than 20 lines
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		nonEmpty = true

		best, bestCount := rune(0), 0
		for _, d := range delimiters {
			if n := countMatches(strings.Split(line, string(d))); n > bestCount {
				best, bestCount = d, n
			}
		}
		if bestCount >= 2 {
			return best, i, nil
		}
	}

	if !nonEmpty {
		return 0, 0, ErrEmptyData
	}
	return 0, 0, fmt.Errorf("%w: no recognizable header row", ErrMissingColumns)
}

// generateFingerprint creates a unique hash from header names
func generateFingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		if key := headerKey(h); key != "" {
			normalized = append(normalized, key)
		}
	}

	joined := strings.Join(normalized, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}
