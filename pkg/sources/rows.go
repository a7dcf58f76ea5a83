package sources

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// row exposes one raw record's fields by name
type row interface {
	get(field string) string
}

// rowReader yields rows until io.EOF
type rowReader interface {
	next() (row, error)
}

type csvRow struct {
	entry  Entry
	header map[string]int
	record []string
}

func (r csvRow) get(field string) string {
	idx, ok := r.header[r.entry.column(field)]
	if !ok || idx >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[idx])
}

type csvReader struct {
	entry  Entry
	reader *csv.Reader
	header map[string]int
}

func newCSVReader(entry Entry, src io.Reader) (*csvReader, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	columns, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header := make(map[string]int, len(columns))
	for i, col := range columns {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		if _, exists := header[col]; !exists {
			header[col] = i
		}
	}

	return &csvReader{entry: entry, reader: reader, header: header}, nil
}

func (r *csvReader) next() (row, error) {
	record, err := r.reader.Read()
	if err != nil {
		return nil, err
	}
	return csvRow{entry: r.entry, header: r.header, record: record}, nil
}

type ndjsonRow struct {
	exprs map[string]*jmespath.JMESPath
	doc   any
}

func (r ndjsonRow) get(field string) string {
	expr, ok := r.exprs[field]
	if !ok {
		return ""
	}
	value, err := expr.Search(r.doc)
	if err != nil {
		return ""
	}
	return stringify(value)
}

type ndjsonReader struct {
	scanner *bufio.Scanner
	exprs   map[string]*jmespath.JMESPath
	line    int
}

func newNDJSONReader(entry Entry, src io.Reader) (*ndjsonReader, error) {
	exprs := make(map[string]*jmespath.JMESPath, len(defaultColumns[entry.Kind]))
	for field := range defaultColumns[entry.Kind] {
		expression := entry.column(field)
		compiled, err := jmespath.Compile(quoteIdentifier(expression))
		if err != nil {
			return nil, fmt.Errorf("invalid expression %q for field %s: %w", expression, field, err)
		}
		exprs[field] = compiled
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ndjsonReader{scanner: scanner, exprs: exprs}, nil
}

func (r *ndjsonReader) next() (row, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var doc any
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return ndjsonRow{exprs: r.exprs, doc: doc}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// quoteIdentifier quotes bare column names that are not valid JMESPath identifiers,
// e.g. "Total Amount", so the default CSV column names work for NDJSON too.
func quoteIdentifier(expression string) string {
	if strings.ContainsAny(expression, " -/") && !strings.ContainsAny(expression, "\".[]|@(") {
		return strconv.Quote(expression)
	}
	return expression
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ";")
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
