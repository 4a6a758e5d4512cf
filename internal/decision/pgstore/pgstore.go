// Package pgstore provides a PostgreSQL implementation of decision.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/triagedesk/internal/decision"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

var tracer = otel.Tracer("github.com/linnemanlabs/triagedesk/internal/decision/pgstore")

//go:embed schema.sql
var schema string

// Store persists decisions in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller
// owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const decisionColumns = `id, surface, transaction_id, batch_id, from_status, to_status, actor, role, created_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Current returns the latest decision for a transaction.
func (s *Store) Current(ctx context.Context, surface, txID string) (*decision.Decision, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Current", "SELECT")
	defer span.End()

	query := `SELECT ` + decisionColumns + ` FROM decisions
		WHERE id = (SELECT decision_id FROM decision_heads WHERE surface = $1 AND transaction_id = $2)`
	d, err := scanDecision(s.pool.QueryRow(ctx, query, surface, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("select current: %w", err))
	}
	return d, true, nil
}

// Record appends d and moves the transaction head, in one transaction.
func (s *Store) Record(ctx context.Context, d *decision.Decision, initial ledger.Status) error {
	ctx, span := startSpan(ctx, "pgstore.Record", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if _, err := tx.Exec(ctx,
		`INSERT INTO decisions (`+decisionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.Surface, d.TransactionID, d.BatchID, string(d.From), string(d.To), d.Actor, d.Role, d.CreatedAt,
	); err != nil {
		return fail(span, fmt.Errorf("insert decision: %w", err))
	}

	// a transaction with no head, or a head from another batch, is at the
	// initial status, so only a decision from initial may create or take it
	var headSQL string
	if d.From == initial {
		headSQL = `INSERT INTO decision_heads (surface, transaction_id, batch_id, status, decision_id, updated_at)
			VALUES ($1, $2, $7, $3, $4, $5)
			ON CONFLICT (surface, transaction_id) DO UPDATE
			SET batch_id = EXCLUDED.batch_id, status = EXCLUDED.status,
			    decision_id = EXCLUDED.decision_id, updated_at = EXCLUDED.updated_at
			WHERE decision_heads.batch_id <> EXCLUDED.batch_id OR decision_heads.status = $6`
	} else {
		headSQL = `UPDATE decision_heads
			SET status = $3, decision_id = $4, updated_at = $5
			WHERE surface = $1 AND transaction_id = $2 AND batch_id = $7 AND status = $6`
	}
	tag, err := tx.Exec(ctx, headSQL, d.Surface, d.TransactionID, string(d.To), d.ID, d.CreatedAt, string(d.From), d.BatchID)
	if err != nil {
		return fail(span, fmt.Errorf("move head: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not %s", decision.ErrStatusMismatch, d.TransactionID, d.From)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// History returns every decision for a transaction, oldest first.
func (s *Store) History(ctx context.Context, surface, txID string) ([]*decision.Decision, error) {
	ctx, span := startSpan(ctx, "pgstore.History", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+decisionColumns+` FROM decisions
		WHERE surface = $1 AND transaction_id = $2
		ORDER BY created_at, id`, surface, txID)
	if err != nil {
		return nil, fail(span, fmt.Errorf("select history: %w", err))
	}
	defer rows.Close()

	var out []*decision.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fail(span, fmt.Errorf("scan decision: %w", err))
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("rows: %w", err))
	}
	return out, nil
}

func scanDecision(row pgx.Row) (*decision.Decision, error) {
	var d decision.Decision
	var from, to string
	if err := row.Scan(&d.ID, &d.Surface, &d.TransactionID, &d.BatchID, &from, &to, &d.Actor, &d.Role, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.From, d.To = ledger.Status(from), ledger.Status(to)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}
