// Package csvsource reads transaction batches from CSV uploads.
package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/linnemanlabs/triagedesk/internal/batch"
)

// Layout maps CSV header names onto canonical record fields.
type Layout struct {
	Name string

	// Columns maps an upper-case CSV header to a batch field or group
	// dimension. Several headers may map to the same field.
	Columns map[string]string

	Required   []string
	Defaults   map[string]string
	Dimensions []string
	Annotate   func(*batch.Transaction)
}

// Fraud is the layout of the scored UPI export used by the public and
// admin surfaces.
var Fraud = Layout{
	Name: "fraud",
	Columns: map[string]string{
		"TXN_TIMESTAMP":   batch.FieldTimestamp,
		"TIMESTAMP":       batch.FieldTimestamp,
		"TRANSACTION_ID":  batch.FieldID,
		"AMOUNT":          batch.FieldAmount,
		"PAYER_VPA":       batch.FieldFrom,
		"BENEFICIARY_VPA": batch.FieldTo,
		"RISK_SCORE":      batch.FieldRiskScore,
		"RISK_LEVEL":      batch.FieldRiskLevel,
		"EXPLANATION":     batch.FieldExplanation,
		"RISK_FACTORS":    batch.FieldRiskFactors,
		"IS_FRAUD":        batch.FieldFraud,
		"DEPARTMENT":      batch.DimDepartment,
		"SEMESTER":        batch.DimSemester,
	},
	Dimensions: []string{batch.DimDepartment, batch.DimSemester},
}

// Loan is the student loan disbursement export. Rows carry no score unless
// the scorer added one, so a missing RISK_SCORE reads as zero.
var Loan = Layout{
	Name: "loan",
	Columns: map[string]string{
		"TRANSACTION_DATE": batch.FieldTimestamp,
		"TRANSACTION_ID":   batch.FieldID,
		"LOAN_AMOUNT":      batch.FieldAmount,
		"STUDENT_ID":       batch.FieldFrom,
		"BANK_NAME":        batch.FieldTo,
		"RISK_SCORE":       batch.FieldRiskScore,
		"RISK_LEVEL":       batch.FieldRiskLevel,
		"EXPLANATION":      batch.FieldExplanation,
		"RISK_FACTORS":     batch.FieldRiskFactors,
		"IS_FRAUD":         batch.FieldFraud,
		"DEPARTMENT":       batch.DimDepartment,
		"SEMESTER":         batch.DimSemester,
	},
	Required: []string{
		batch.FieldTimestamp,
		batch.FieldID,
		batch.FieldAmount,
		batch.FieldFrom,
		batch.FieldTo,
		batch.DimDepartment,
		batch.DimSemester,
	},
	Defaults:   map[string]string{batch.FieldRiskScore: "0"},
	Dimensions: []string{batch.DimDepartment, batch.DimSemester},
	Annotate:   batch.AnnotateLoan,
}

// Parse reads all rows of r as records. The first row is the header.
// Unknown columns are ignored.
func Parse(r io.Reader, layout Layout) ([]batch.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &batch.MalformedError{Reason: "empty input, expected a header row"}
	}
	if err != nil {
		return nil, &batch.MalformedError{Reason: fmt.Sprintf("read header: %v", err)}
	}

	fields := make([]string, len(header))
	for i, h := range header {
		h = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		fields[i] = layout.Columns[h]
	}

	var records []batch.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			line := 0
			if errors.As(err, &pe) {
				line = pe.Line - 1
			}
			return nil, &batch.MalformedError{Row: line, Reason: err.Error()}
		}
		if blank(row) {
			continue
		}
		rec := make(batch.Record, len(row))
		for i, v := range row {
			if i < len(fields) && fields[i] != "" {
				rec[fields[i]] = v
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// Decode parses r and validates it into a batch.
func Decode(r io.Reader, layout Layout, source string) (*batch.Batch, error) {
	records, err := Parse(r, layout)
	if err != nil {
		return nil, err
	}
	return batch.FromRecords(records, batch.Options{
		Source:     source,
		Required:   layout.Required,
		Defaults:   layout.Defaults,
		Dimensions: layout.Dimensions,
		Annotate:   layout.Annotate,
	})
}

// Source is a batch.Source over a CSV stream.
type Source struct {
	r      io.Reader
	layout Layout
	name   string
}

// New returns a Source that decodes r with layout on Load.
func New(r io.Reader, layout Layout, name string) *Source {
	return &Source{r: r, layout: layout, name: name}
}

// Load implements batch.Source.
func (s *Source) Load(ctx context.Context) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Decode(s.r, s.layout, s.name)
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
