package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const maxChainDepth = 8

// Diagnostics is the server-side view of a failure. It never reaches clients.
type Diagnostics struct {
	Message      string
	Code         Code
	Retryable    bool
	Chain        []string
	PGCode       string
	PGConstraint string
	PGTable      string
	PGDetail     string
}

// Diagnose unwraps err and collects its code plus any Postgres error detail
// from either driver.
func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{
		Message:   err.Error(),
		Code:      CodeInternal,
		Retryable: Retryable(err),
	}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil && len(d.Chain) < maxChainDepth; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail
	case errors.As(err, &pqErr):
		d.PGCode, d.PGConstraint, d.PGTable, d.PGDetail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}
	return d
}

// LogFields flattens the diagnostics for structured logging, skipping empty
// Postgres fields.
func (d Diagnostics) LogFields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_code":  d.Code,
		"retryable":   d.Retryable,
		"error_chain": d.Chain,
	}
	for key, value := range map[string]string{
		"pg_code":       d.PGCode,
		"pg_constraint": d.PGConstraint,
		"pg_table":      d.PGTable,
		"pg_detail":     d.PGDetail,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
