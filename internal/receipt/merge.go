package receipt

import "github.com/zombor/taxi-receipts/internal/scanning"

// defaultBackFields stands in for the back side when no back photo exists
func defaultBackFields() scanning.Fields {
	return scanning.Fields{FieldName: "", FieldRoute: ""}
}

// Merge unions the front and back fields into one record. The two schemas
// share no field, so the order of the union does not matter.
func Merge(front, back scanning.Fields) Record {
	record := make(Record, len(front)+len(back))
	for k, v := range front {
		record[k] = v
	}
	for k, v := range back {
		record[k] = v
	}
	return record
}
