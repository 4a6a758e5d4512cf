package graphsource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagedesk/internal/batch"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/batch/graphsource")

// DefaultQuery reads every scored transfer, optionally limited to one
// labelled batch. Column aliases are batch field names.
const DefaultQuery = `MATCH (p:Account)-[t:TRANSFERRED]->(b:Account)
WHERE $batch = '' OR t.batch = $batch
RETURN t.id AS transaction_id,
       t.timestamp AS timestamp,
       t.amount AS amount,
       p.vpa AS payer,
       b.vpa AS beneficiary,
       t.risk_score AS risk_score,
       t.risk_level AS risk_level,
       t.explanation AS explanation,
       t.risk_factors AS risk_factors,
       t.is_fraud AS is_fraud,
       t.department AS department,
       t.semester AS semester
ORDER BY t.timestamp`

// Source is a batch.Source backed by a graph query.
type Source struct {
	client Client
	query  string
	label  string
	opts   batch.Options
}

// New returns a Source. An empty label loads every transfer.
func New(client Client, label string, opts batch.Options) *Source {
	if opts.Source == "" {
		opts.Source = "graph"
	}
	return &Source{client: client, query: DefaultQuery, label: label, opts: opts}
}

// WithQuery replaces the Cypher statement. It must return the same aliases
// as DefaultQuery and accept a $batch parameter.
func (s *Source) WithQuery(q string) *Source {
	s.query = q
	return s
}

// Load implements batch.Source.
func (s *Source) Load(ctx context.Context) (*batch.Batch, error) {
	ctx, span := tracer.Start(ctx, "graphsource.Load", trace.WithAttributes(
		attribute.String("db.system", "neo4j"),
		attribute.String("db.operation.name", "MATCH"),
		attribute.String("triagedesk.batch.label", s.label),
	))
	defer span.End()

	res, err := s.client.ExecuteRead(ctx, s.query, map[string]any{"batch": s.label})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("graph query: %w", err)
	}

	records := make([]batch.Record, 0, len(res.Records))
	for _, r := range res.Records {
		rec := make(batch.Record, len(r))
		for k, v := range r {
			rec[k] = stringify(v)
		}
		records = append(records, rec)
	}
	span.SetAttributes(attribute.Int("triagedesk.batch.size", len(records)))

	b, err := batch.FromRecords(records, s.opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return b, nil
}

type timeValue interface{ Time() time.Time }

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case timeValue:
		return x.Time().UTC().Format(time.RFC3339Nano)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, stringify(e))
		}
		return strings.Join(parts, "|")
	}
	return fmt.Sprint(v)
}
