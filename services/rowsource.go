package services

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Row is one data line of a tabular source. Columns holds the header
// names in source order and Values the cell text aligned with it.
type Row struct {
	Line    int
	Columns []string
	Values  []string
	// Spreadsheet is set when Values are raw spreadsheet cells, so numeric
	// date cells arrive as serial day numbers.
	Spreadsheet bool
}

// IsBlank reports whether every cell of the row is empty
func (r Row) IsBlank() bool {
	for _, v := range r.Values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// RowSource yields the data rows of a spreadsheet or delimited file. Every
// call to Rows reads the source from the beginning.
type RowSource interface {
	Name() string
	Rows() iter.Seq2[Row, error]
}

// SourceOptions selects the sheet of a workbook and the delimiter of a
// text file. A zero Delimiter means tab, or comma for .csv files whose
// header holds no tab.
type SourceOptions struct {
	Sheet     string
	Delimiter rune
}

// ErrUnsupportedSource is returned for file types that are not tabular
var ErrUnsupportedSource = errors.New("unsupported source file type")

type opener func() (io.ReadCloser, error)

func fileOpener(path string) opener {
	return func() (io.ReadCloser, error) {
		return os.Open(filepath.Clean(path))
	}
}

func bytesOpener(data []byte) opener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// OpenSource picks a row source for path by its extension
func OpenSource(path string, opts SourceOptions) (RowSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	return newSource(filepath.Base(path), fileOpener(path), opts)
}

// ReaderSource buffers an uploaded file so it can be read more than once
func ReaderSource(name string, r io.Reader, opts SourceOptions) (RowSource, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return newSource(name, bytesOpener(data), opts)
}

func newSource(name string, open opener, opts SourceOptions) (RowSource, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return &SpreadsheetSource{name: name, open: open, Sheet: opts.Sheet}, nil
	case ".csv", ".tsv", ".txt":
		delim := opts.Delimiter
		commaFallback := delim == 0 && ext == ".csv"
		if delim == 0 {
			delim = '\t'
		}
		return &DelimitedSource{name: name, open: open, Delimiter: delim, commaFallback: commaFallback}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, ext)
	}
}

// SpreadsheetSource reads the first sheet (or Sheet) of a workbook. The
// first row is the header.
type SpreadsheetSource struct {
	name  string
	open  opener
	Sheet string
}

// NewSpreadsheetSource creates a spreadsheet source over in-memory bytes
func NewSpreadsheetSource(name string, data []byte, sheet string) *SpreadsheetSource {
	return &SpreadsheetSource{name: name, open: bytesOpener(data), Sheet: sheet}
}

func (s *SpreadsheetSource) Name() string { return s.name }

func (s *SpreadsheetSource) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		rc, err := s.open()
		if err != nil {
			yield(Row{}, fmt.Errorf("failed to open spreadsheet: %w", err))
			return
		}
		defer rc.Close()

		f, err := excelize.OpenReader(rc, excelize.Options{RawCellValue: true})
		if err != nil {
			yield(Row{}, fmt.Errorf("failed to open spreadsheet: %w", err))
			return
		}
		defer f.Close()

		sheet := s.Sheet
		if sheet == "" {
			sheets := f.GetSheetList()
			if len(sheets) == 0 {
				yield(Row{}, fmt.Errorf("spreadsheet %s has no sheets", s.name))
				return
			}
			sheet = sheets[0]
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			yield(Row{}, fmt.Errorf("failed to read sheet %q: %w", sheet, err))
			return
		}
		if len(rows) == 0 {
			return
		}

		header := trimHeader(rows[0])
		for i, cells := range rows[1:] {
			row := Row{
				Line:        i + 2,
				Columns:     header,
				Values:      alignCells(cells, len(header)),
				Spreadsheet: true,
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// DelimitedSource reads tab or comma separated text with a header line
type DelimitedSource struct {
	name          string
	open          opener
	Delimiter     rune
	commaFallback bool
}

// NewDelimitedSource creates a delimited source over in-memory bytes
func NewDelimitedSource(name string, data []byte, delimiter rune) *DelimitedSource {
	if delimiter == 0 {
		delimiter = '\t'
	}
	return &DelimitedSource{name: name, open: bytesOpener(data), Delimiter: delimiter}
}

func (s *DelimitedSource) Name() string { return s.name }

func (s *DelimitedSource) Rows() iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		rc, err := s.open()
		if err != nil {
			yield(Row{}, fmt.Errorf("failed to open %s: %w", s.name, err))
			return
		}
		defer rc.Close()

		br := bufio.NewReader(rc)
		r := csv.NewReader(br)
		r.Comma = s.detectDelimiter(br)
		r.FieldsPerRecord = -1
		r.LazyQuotes = true

		headerRecord, err := r.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(Row{}, fmt.Errorf("failed to read header of %s: %w", s.name, err))
			return
		}
		if len(headerRecord) > 0 {
			headerRecord[0] = strings.TrimPrefix(headerRecord[0], "\ufeff")
		}
		header := trimHeader(headerRecord)

		for {
			record, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Row{}, fmt.Errorf("failed to read %s: %w", s.name, err))
				return
			}
			line, _ := r.FieldPos(0)
			row := Row{
				Line:    line,
				Columns: header,
				Values:  alignCells(record, len(header)),
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

func (s *DelimitedSource) detectDelimiter(br *bufio.Reader) rune {
	if !s.commaFallback {
		return s.Delimiter
	}
	peek, _ := br.Peek(4096)
	firstLine := peek
	if i := bytes.IndexByte(peek, '\n'); i >= 0 {
		firstLine = peek[:i]
	}
	if bytes.IndexByte(firstLine, '\t') >= 0 {
		return '\t'
	}
	return ','
}

func trimHeader(cells []string) []string {
	header := make([]string, len(cells))
	for i, c := range cells {
		header[i] = strings.TrimSpace(c)
	}
	return header
}

// alignCells pads or truncates a record to the header width. Cells past
// the last header are dropped.
func alignCells(cells []string, width int) []string {
	values := make([]string, width)
	copy(values, cells)
	return values
}
