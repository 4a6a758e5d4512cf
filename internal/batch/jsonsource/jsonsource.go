// Package jsonsource reads transaction batches posted as JSON, either a bare
// array of records or an object with a "transactions" array.
package jsonsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/linnemanlabs/triagedesk/internal/batch"
)

var aliases = map[string]string{
	"id":              batch.FieldID,
	"txn_id":          batch.FieldID,
	"txn_timestamp":   batch.FieldTimestamp,
	"from":            batch.FieldFrom,
	"payer_vpa":       batch.FieldFrom,
	"to":              batch.FieldTo,
	"beneficiary_vpa": batch.FieldTo,
	"fraud":           batch.FieldFraud,
}

// Decode reads a JSON batch from r.
func Decode(r io.Reader, opts batch.Options) (*batch.Batch, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, &batch.MalformedError{Reason: "empty body"}
	}

	var rows []map[string]any
	if raw[0] == '[' {
		err = unmarshal(raw, &rows)
	} else {
		var env struct {
			Transactions []map[string]any `json:"transactions"`
		}
		err = unmarshal(raw, &env)
		rows = env.Transactions
	}
	if err != nil {
		return nil, &batch.MalformedError{Reason: "invalid JSON: " + err.Error()}
	}

	records := make([]batch.Record, 0, len(rows))
	for i, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, &batch.MalformedError{Row: i + 1, Reason: err.Error()}
		}
		records = append(records, rec)
	}
	return batch.FromRecords(records, opts)
}

func unmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func toRecord(row map[string]any) (batch.Record, error) {
	rec := make(batch.Record, len(row))
	for k, v := range row {
		key := strings.ToLower(strings.TrimSpace(k))
		if a, ok := aliases[key]; ok {
			key = a
		}
		s, err := stringify(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		rec[key] = s
	}
	return rec, nil
}

func stringify(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			s, err := stringify(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "|"), nil
	}
	return "", fmt.Errorf("unsupported value of type %T", v)
}

// Source is a batch.Source over a JSON stream.
type Source struct {
	r    io.Reader
	opts batch.Options
}

// New returns a Source decoding r with opts.
func New(r io.Reader, opts batch.Options) *Source {
	return &Source{r: r, opts: opts}
}

// Load implements batch.Source.
func (s *Source) Load(ctx context.Context) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Decode(s.r, s.opts)
}
