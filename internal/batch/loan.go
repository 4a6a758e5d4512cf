package batch

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FeeTolerance is how far a loan disbursement may stray from the semester
// fee and still count as matching.
var FeeTolerance = decimal.NewFromInt(5000)

var semesterFees = map[string]int64{
	"I": 45000, "II": 45000,
	"III": 50000, "IV": 50000,
	"V": 55000, "VI": 55000,
	"VII": 60000, "VIII": 60000,
}

// Departments eligible for the student loan programme.
var Departments = []string{
	"Computer Science",
	"Electronics",
	"Mechanical",
	"Civil",
	"Electrical",
	"Chemical",
	"Architecture",
}

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders an amount in rupees with thousands separators,
// rounded to whole units.
func FormatAmount(d decimal.Decimal) string {
	return amountPrinter.Sprintf("₹%d", d.Round(0).IntPart())
}

// SemesterFee returns the expected fee for a roman numeral semester.
func SemesterFee(semester string) (decimal.Decimal, bool) {
	fee, ok := semesterFees[strings.ToUpper(strings.TrimSpace(semester))]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(fee), true
}

// WithinFee reports whether amount is within FeeTolerance of the semester fee.
func WithinFee(semester string, amount decimal.Decimal) bool {
	fee, ok := SemesterFee(semester)
	if !ok {
		return false
	}
	return amount.Sub(fee).Abs().LessThanOrEqual(FeeTolerance)
}

// LoanNotes lists the verification observations for a loan disbursement.
func LoanNotes(t *Transaction) []string {
	var notes []string

	if dept, ok := t.Group(DimDepartment); ok && !validDepartment(dept) {
		notes = append(notes, "Invalid department: "+dept)
	}

	sem, _ := t.Group(DimSemester)
	if fee, ok := SemesterFee(sem); ok {
		diff := t.Amount.Sub(fee).Abs()
		switch {
		case diff.GreaterThan(FeeTolerance):
			notes = append(notes, fmt.Sprintf("Amount mismatch: expected %s, received %s",
				FormatAmount(fee), FormatAmount(t.Amount)))
		case diff.IsPositive():
			notes = append(notes, "Minor difference: "+FormatAmount(diff))
		default:
			notes = append(notes, "Amount matches semester fee")
		}
	} else if sem != "" {
		notes = append(notes, "Unknown semester: "+sem)
	}

	return notes
}

// AnnotateLoan appends loan verification notes to the risk factors and uses
// them as the explanation when the source sent none.
func AnnotateLoan(t *Transaction) {
	notes := LoanNotes(t)
	if len(notes) == 0 {
		return
	}
	t.RiskFactors = append(t.RiskFactors, notes...)
	if t.Explanation == "" {
		t.Explanation = strings.Join(notes, " | ")
	}
}

func validDepartment(dept string) bool {
	for _, d := range Departments {
		if strings.EqualFold(d, dept) {
			return true
		}
	}
	return false
}
