package batch

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Canonical record fields. Sources translate their own column or property
// names into these before calling FromRecords.
const (
	FieldTimestamp   = "timestamp"
	FieldID          = "transaction_id"
	FieldAmount      = "amount"
	FieldFrom        = "payer"
	FieldTo          = "beneficiary"
	FieldRiskScore   = "risk_score"
	FieldRiskLevel   = "risk_level"
	FieldExplanation = "explanation"
	FieldRiskFactors = "risk_factors"
	FieldFraud       = "is_fraud"
)

// DefaultRequired are the fields every record must carry unless Options
// says otherwise.
var DefaultRequired = []string{
	FieldTimestamp,
	FieldID,
	FieldAmount,
	FieldFrom,
	FieldTo,
	FieldRiskScore,
}

// Record is one raw row keyed by canonical field name. Group dimensions are
// carried under their dimension name.
type Record map[string]string

// Options controls how records become a Batch.
type Options struct {
	// Source names where the batch came from, for logs and reports.
	Source string

	// Required overrides DefaultRequired when non-nil.
	Required []string

	// Defaults fills fields that are absent or blank.
	Defaults map[string]string

	// Dimensions lists the group dimensions copied into Transaction.Groups.
	Dimensions []string

	// Annotate runs on every transaction after parsing.
	Annotate func(*Transaction)

	// Now stamps IngestedAt. Defaults to time.Now.
	Now func() time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"01/02/2006 15:04",
	"01/02/2006",
}

// FromRecords validates records and builds a Batch. Any missing required
// field, unparsable value or duplicate id fails the whole batch with an
// error matching ErrMalformedBatch; no partial batch is returned.
func FromRecords(records []Record, opts Options) (*Batch, error) {
	required := opts.Required
	if required == nil {
		required = DefaultRequired
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	b := &Batch{
		ID:           ulid.Make().String(),
		Source:       opts.Source,
		IngestedAt:   now().UTC(),
		Transactions: make([]Transaction, 0, len(records)),
		index:        make(map[string]int, len(records)),
	}

	for i, rec := range records {
		row := i + 1
		get := func(field string) string {
			v := strings.TrimSpace(rec[field])
			if v == "" {
				v = strings.TrimSpace(opts.Defaults[field])
			}
			return v
		}

		for _, f := range required {
			if get(f) == "" {
				return nil, malformed(row, f, "required field is missing")
			}
		}

		t, err := parseRecord(row, get, opts.Dimensions)
		if err != nil {
			return nil, err
		}
		if _, dup := b.index[t.ID]; dup {
			return nil, malformed(row, FieldID, "duplicate transaction id %q", t.ID)
		}
		if opts.Annotate != nil {
			opts.Annotate(&t)
		}

		b.index[t.ID] = len(b.Transactions)
		b.Transactions = append(b.Transactions, t)
	}

	return b, nil
}

func parseRecord(row int, get func(string) string, dims []string) (Transaction, error) {
	t := Transaction{
		ID:          get(FieldID),
		From:        get(FieldFrom),
		To:          get(FieldTo),
		RiskLevel:   get(FieldRiskLevel),
		Explanation: get(FieldExplanation),
		RiskFactors: splitFactors(get(FieldRiskFactors)),
	}
	if t.ID == "" {
		return t, malformed(row, FieldID, "required field is missing")
	}

	if v := get(FieldTimestamp); v != "" {
		ts, err := parseTimestamp(v)
		if err != nil {
			return t, malformed(row, FieldTimestamp, "unrecognised timestamp %q", v)
		}
		t.Timestamp = ts
	}

	if v := get(FieldAmount); v != "" {
		amt, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
		if err != nil {
			return t, malformed(row, FieldAmount, "not a number: %q", v)
		}
		if amt.IsNegative() {
			return t, malformed(row, FieldAmount, "must not be negative")
		}
		t.Amount = amt
	}

	if v := get(FieldRiskScore); v != "" {
		score, err := parseScore(v)
		if err != nil {
			return t, malformed(row, FieldRiskScore, "%v", err)
		}
		t.RiskScore = score
	}

	if v := get(FieldFraud); v != "" {
		flag, err := parseFlag(v)
		if err != nil {
			return t, malformed(row, FieldFraud, "not a boolean: %q", v)
		}
		t.Fraud = &flag
	}

	for _, dim := range dims {
		if v := get(dim); v != "" {
			if t.Groups == nil {
				t.Groups = make(map[string]string, len(dims))
			}
			t.Groups[dim] = v
		}
	}

	return t, nil
}

func parseTimestamp(v string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, err
}

func parseScore(v string) (int, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) {
		return 0, errInvalidScore(v)
	}
	score := int(math.Round(f))
	if score < 0 || score > 100 {
		return 0, errInvalidScore(v)
	}
	return score, nil
}

type errInvalidScore string

func (e errInvalidScore) Error() string {
	return "risk score must be a number in [0,100], got " + strconv.Quote(string(e))
}

func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func splitFactors(v string) []string {
	if v == "" {
		return nil
	}
	sep := "|"
	if !strings.Contains(v, sep) {
		sep = ";"
	}
	var out []string
	for _, f := range strings.Split(v, sep) {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
