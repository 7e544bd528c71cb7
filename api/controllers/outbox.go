package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/types"

	"github.com/doncapon/yemisshop-sub004/api/responses"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 200
)

type DeadLetterReader interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type deadLetterResponse struct {
	ID            uuid.UUID       `json:"id"`
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	ErrorReason   string          `json:"error_reason"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	FailedAt      time.Time       `json:"failed_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func toDeadLetterResponse(row models.OutboxDLQ, withPayload bool) deadLetterResponse {
	resp := deadLetterResponse{
		ID:            row.ID,
		EventID:       row.EventID,
		EventType:     string(row.EventType),
		AggregateType: string(row.AggregateType),
		AggregateID:   row.AggregateID,
		ErrorReason:   string(row.ErrorReason),
		ErrorMessage:  row.ErrorMessage,
		AttemptCount:  row.AttemptCount,
		FailedAt:      row.FailedAt,
	}
	if withPayload {
		resp.Payload = row.Payload
	}
	return resp
}

// AdminListDeadLetters returns dead-lettered outbox rows newest first. It
// accepts limit, event_type and a before cursor (RFC3339) taken from the last
// item's failed_at.
func AdminListDeadLetters(svc DeadLetterReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		filter, err := parseDeadLetterFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list dead letters"))
			return
		}
		items := make([]deadLetterResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, toDeadLetterResponse(row, false))
		}
		meta := types.ListMeta{Count: len(items)}
		if len(rows) == filter.Limit {
			meta.NextBefore = rows[len(rows)-1].FailedAt.UTC().Format(time.RFC3339Nano)
		}
		responses.WriteList(w, items, meta)
	}
}

// AdminGetDeadLetter returns one dead-lettered event including its payload.
func AdminGetDeadLetter(svc DeadLetterReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		eventID, err := parseUUIDParam(r, "eventId", "event")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := svc.FindByEventID(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load dead letter"))
			return
		}
		if row == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found"))
			return
		}
		responses.WriteSuccess(w, toDeadLetterResponse(*row, true))
	}
}

func parseDeadLetterFilter(r *http.Request) (outbox.DLQFilter, error) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return outbox.DLQFilter{}, err
	}
	filter := outbox.DLQFilter{Limit: limit}
	if raw := strings.TrimSpace(q.Get("event_type")); raw != "" {
		eventType, err := enums.ParseOutboxEventType(raw)
		if err != nil {
			return outbox.DLQFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown event_type")
		}
		filter.EventType = eventType
	}
	if raw := strings.TrimSpace(q.Get("before")); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return outbox.DLQFilter{}, pkgerrors.New(pkgerrors.CodeValidation, "before must be an RFC3339 timestamp")
		}
		filter.Before = &before
	}
	return filter, nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultDeadLetterLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer")
	}
	if limit > maxDeadLetterLimit {
		limit = maxDeadLetterLimit
	}
	return limit, nil
}
