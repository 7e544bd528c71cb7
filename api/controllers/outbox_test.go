package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
)

type stubDeadLetters struct {
	rows       []models.OutboxDLQ
	err        error
	lastFilter *outbox.DLQFilter
}

func (s *stubDeadLetters) List(_ context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error) {
	s.lastFilter = &filter
	return s.rows, s.err
}

func (s *stubDeadLetters) FindByEventID(_ context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	if s.err != nil {
		return nil, s.err
	}
	for i := range s.rows {
		if s.rows[i].EventID == eventID {
			return &s.rows[i], nil
		}
	}
	return nil, nil
}

func deadLetterRow() models.OutboxDLQ {
	msg := "unsupported event type"
	return models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       uuid.New(),
		EventType:     enums.EventPaymentPaid,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
		AttemptCount:  3,
		FailedAt:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestAdminListDeadLettersOmitsPayload(t *testing.T) {
	svc := &stubDeadLetters{rows: []models.OutboxDLQ{deadLetterRow()}}
	rec := httptest.NewRecorder()
	AdminListDeadLetters(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?limit=500", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastFilter)
	assert.Equal(t, maxDeadLetterLimit, svc.lastFilter.Limit)
	var envelope struct {
		Data []deadLetterResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "non_retryable", envelope.Data[0].ErrorReason)
	assert.Empty(t, envelope.Data[0].Payload)
}

func TestAdminListDeadLettersRejectsBadLimit(t *testing.T) {
	svc := &stubDeadLetters{}
	rec := httptest.NewRecorder()
	AdminListDeadLetters(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?limit=-2", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.lastFilter)

	for _, query := range []string{"/?event_type=order_shipped", "/?before=yesterday"} {
		rec = httptest.NewRecorder()
		AdminListDeadLetters(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
	assert.Nil(t, svc.lastFilter)
}

func TestAdminListDeadLettersPassesFilters(t *testing.T) {
	svc := &stubDeadLetters{}
	rec := httptest.NewRecorder()
	target := "/?event_type=payment_paid&before=2026-03-01T08:00:00Z"
	AdminListDeadLetters(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.lastFilter)
	assert.Equal(t, enums.EventPaymentPaid, svc.lastFilter.EventType)
	require.NotNil(t, svc.lastFilter.Before)
	assert.True(t, svc.lastFilter.Before.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, defaultDeadLetterLimit, svc.lastFilter.Limit)
}

func TestAdminListDeadLettersStoreFailure(t *testing.T) {
	svc := &stubDeadLetters{err: errors.New("connection reset")}
	rec := httptest.NewRecorder()
	AdminListDeadLetters(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, svc.lastFilter)
}

func TestAdminGetDeadLetter(t *testing.T) {
	row := deadLetterRow()
	svc := &stubDeadLetters{rows: []models.OutboxDLQ{row}}

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"eventId": row.EventID.String()})
	rec := httptest.NewRecorder()
	AdminGetDeadLetter(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var envelope struct {
		Data deadLetterResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, row.EventID, envelope.Data.EventID)
	assert.JSONEq(t, `{"version":1}`, string(envelope.Data.Payload))

	req = withURLParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"eventId": uuid.NewString()})
	rec = httptest.NewRecorder()
	AdminGetDeadLetter(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
