package receipt

import (
	"fmt"
	"io"
	"strconv"

	"github.com/gocarina/gocsv"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Row is the CSV shape of a record; column order is paid_at, name, route, fare
type Row struct {
	PaidAt string `csv:"paid_at"`
	Name   string `csv:"name"`
	Route  string `csv:"route"`
	Fare   string `csv:"fare"`
}

// NewRow flattens a record into export cells. Missing values become empty cells.
func NewRow(r Record) *Row {
	return &Row{
		PaidAt: cell(r[FieldPaidAt]),
		Name:   cell(r[FieldName]),
		Route:  cell(r[FieldRoute]),
		Fare:   cell(r[FieldFare]),
	}
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// WriteCSV writes the records with a UTF-8 byte order mark so spreadsheet
// tools open the Korean text correctly.
func WriteCSV(w io.Writer, records []Record) error {
	rows := make([]*Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, NewRow(r))
	}

	bom := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	if err := gocsv.Marshal(rows, bom); err != nil {
		return fmt.Errorf("marshaling csv: %w", err)
	}
	if err := bom.Close(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
