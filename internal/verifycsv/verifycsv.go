// Package verifycsv reads and writes the CSV files exchanged with businesses:
// the batch download and the verification results upload.
package verifycsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	ColTransactionID   = "transaction_id"
	ColVerified        = "verified"
	ColDecision        = "verification_decision"
	ColRejectionReason = "rejection_reason"
	ColBusinessNotes   = "business_notes"
)

// UploadColumns is the verification results schema, in file order.
var UploadColumns = []string{ColTransactionID, ColVerified, ColDecision, ColRejectionReason, ColBusinessNotes}

const MaxNotesLength = 1000

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Verified is the verified flag implied by the decision.
func (d Decision) Verified() bool {
	return d == DecisionApproved
}

// Row is one validated decision. Line is the 1-based line in the file, the
// header being line 1.
type Row struct {
	Line            int
	TransactionID   string
	Verified        bool
	Decision        Decision
	RejectionReason string
	BusinessNotes   string
}

type FieldError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value"`
}

// SchemaError means the header lacks required columns; no row was read.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

// DataError lists every row that failed type or shape validation.
type DataError struct {
	Errors []FieldError
}

func (e *DataError) Error() string {
	return fmt.Sprintf("%d invalid field(s) in verification file", len(e.Errors))
}

var ErrMalformed = errors.New("malformed csv")

// Parse validates the whole file before returning any row. A schema problem
// yields *SchemaError, any shape problem yields *DataError with all offending
// fields, and unreadable input wraps ErrMalformed.
func Parse(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &SchemaError{Missing: append([]string(nil), UploadColumns...)}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	index := headerIndex(header)
	var missing []string
	for _, col := range UploadColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	var (
		rows []Row
		errs []FieldError
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if blank(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		field := func(col string) string {
			i := index[col]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		row, rowErrs := parseRow(line, field)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		rows = append(rows, row)
	}
	if len(errs) > 0 {
		return nil, &DataError{Errors: errs}
	}
	return rows, nil
}

func parseRow(line int, field func(string) string) (Row, []FieldError) {
	var errs []FieldError
	fail := func(col, msg, value string) {
		errs = append(errs, FieldError{Row: line, Field: col, Message: msg, Value: value})
	}

	row := Row{
		Line:            line,
		TransactionID:   field(ColTransactionID),
		RejectionReason: field(ColRejectionReason),
		BusinessNotes:   field(ColBusinessNotes),
	}
	if row.TransactionID == "" {
		fail(ColTransactionID, "transaction_id is required", "")
	}

	rawVerified := field(ColVerified)
	switch rawVerified {
	case "true":
		row.Verified = true
	case "false":
		row.Verified = false
	default:
		fail(ColVerified, "verified must be true or false", rawVerified)
	}

	rawDecision := field(ColDecision)
	row.Decision = Decision(strings.ToLower(rawDecision))
	if !row.Decision.Valid() {
		fail(ColDecision, "verification_decision must be approved or rejected", rawDecision)
	} else if isBool(rawVerified) && row.Decision.Verified() != row.Verified {
		fail(ColDecision, "verification_decision does not match verified", rawDecision)
	}

	if row.Decision == DecisionRejected && row.RejectionReason == "" {
		fail(ColRejectionReason, "rejection_reason is required when the decision is rejected", "")
	}
	if utf8.RuneCountInString(row.BusinessNotes) > MaxNotesLength {
		fail(ColBusinessNotes, fmt.Sprintf("business_notes exceeds %d characters", MaxNotesLength), "")
	}
	return row, errs
}

// Encode writes rows in the upload schema. Parse(Encode(rows)) yields the
// same decisions.
func Encode(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(UploadColumns); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.TransactionID,
			fmt.Sprintf("%t", r.Verified),
			string(r.Decision),
			r.RejectionReason,
			r.BusinessNotes,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return index
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func isBool(s string) bool {
	return s == "true" || s == "false"
}
