package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saledrop-pipeline/internal/db/dbtest"
	"saledrop-pipeline/internal/ledger"
	"saledrop-pipeline/internal/models"
	"saledrop-pipeline/internal/pipeline"
	"saledrop-pipeline/internal/promotions"
	"saledrop-pipeline/internal/repository"
)

type fakeScheduler struct {
	running bool
	stats   pipeline.Stats
	err     error
}

func (f *fakeScheduler) Start() error {
	if f.running {
		return errors.New("scheduler is already running")
	}
	f.running = true
	return nil
}

func (f *fakeScheduler) Stop() error {
	f.running = false
	return nil
}

func (f *fakeScheduler) IsRunning() bool { return f.running }

func (f *fakeScheduler) RunOnce(context.Context) (pipeline.Stats, error) { return f.stats, f.err }

func (f *fakeScheduler) GetNextRun() time.Time { return time.Time{} }

func (f *fakeScheduler) GetLastRun() time.Time { return time.Time{} }

type fakeQueue struct {
	addresses []string
	err       error
}

func (f *fakeQueue) EnqueueForAddress(address string) error {
	f.addresses = append(f.addresses, address)
	return f.err
}

type fakeReader struct {
	majorOnly bool
	limit     int
}

func (f *fakeReader) Recent(_ context.Context, limit int, majorOnly bool) ([]models.LedgerEntry, error) {
	f.limit, f.majorOnly = limit, majorOnly
	return []models.LedgerEntry{{Task: ledger.TaskWebhook, MajorError: true, Error: "boom"}}, nil
}

type fakePromotions struct {
	err     error
	storeID uint
}

func (f *fakePromotions) Create(_ context.Context, storeID uint, req *models.PromotionRequest) (*models.PromotionalMessage, error) {
	f.storeID = storeID
	if f.err != nil {
		return nil, f.err
	}
	return &models.PromotionalMessage{ID: 7, StoreID: storeID, Title: req.Title}, nil
}

func (f *fakePromotions) Update(_ context.Context, id uint, req *models.PromotionRequest) (*models.PromotionalMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.PromotionalMessage{ID: id, Title: req.Title}, nil
}

func (f *fakePromotions) LimitStatus(_ context.Context, storeID uint) (*models.LimitStatusResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.LimitStatusResponse{StoreID: storeID, AtLimit: true}, nil
}

func (f *fakePromotions) Approve(context.Context, uint) error { return f.err }

type fixture struct {
	router *gin.Engine
	sched  *fakeScheduler
	queue  *fakeQueue
	ledger *ledger.Memory
	reader *fakeReader
	promos *fakePromotions
	repo   *repository.Repository
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		router: gin.New(),
		sched:  &fakeScheduler{},
		queue:  &fakeQueue{},
		ledger: &ledger.Memory{},
		reader: &fakeReader{},
		promos: &fakePromotions{},
	}
	conn := dbtest.New(t)
	f.repo = repository.New(conn)
	h := NewHandlers(conn, f.sched, f.queue, f.ledger, f.reader, f.promos, f.repo)
	h.SetupRoutes(f.router)
	return f
}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func envelope(payload string) []byte {
	data := base64.StdEncoding.EncodeToString([]byte(payload))
	return []byte(fmt.Sprintf(`{"message":{"data":%q,"messageId":"1"},"subscription":"s"}`, data))
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Database)
	assert.Equal(t, "stopped", resp.Metrics["scheduler"])
}

func TestGmailWebhookQueuesMailbox(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/webhooks/gmail", envelope(`{"emailAddress":"general@example.com","historyId":42}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, []string{"general@example.com"}, f.queue.addresses)
}

func TestGmailWebhookRejectsMalformed(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/webhooks/gmail", envelope(`{"historyId":42}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.queue.addresses)
}

func TestGmailWebhookUnknownMailbox(t *testing.T) {
	f := newFixture(t)
	f.queue.err = fmt.Errorf("%w: %q", pipeline.ErrUnknownMailbox, "x@example.com")

	w := f.do(http.MethodPost, "/webhooks/gmail", envelope(`{"emailAddress":"x@example.com"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	entries := f.ledger.ByTask(ledger.TaskWebhook)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Major)
}

func TestGmailWebhookQueueClosed(t *testing.T) {
	f := newFixture(t)
	f.queue.err = pipeline.ErrQueueClosed

	w := f.do(http.MethodPost, "/webhooks/gmail", envelope(`{"emailAddress":"general@example.com"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.ledger.ByTask(ledger.TaskWebhook), 1)
}

func TestGetErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/errors?major=true&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.reader.majorOnly)
	assert.Equal(t, 5, f.reader.limit)

	var entries []models.LedgerEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	w = f.do(http.MethodGet, "/api/v1/errors?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	f := newFixture(t)
	f.sched.stats = pipeline.Stats{Claimed: 3, Analyzed: 2}

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/scheduler/start", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/scheduler/start", nil).Code)

	w := f.do(http.MethodGet, "/api/v1/scheduler/status", nil)
	assert.Contains(t, w.Body.String(), `"status":"running"`)

	w = f.do(http.MethodPost, "/api/v1/scheduler/run-once", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats pipeline.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Analyzed)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/scheduler/stop", nil).Code)
	assert.False(t, f.sched.running)
}

func TestCreatePromotion(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"author_id":1,"link":"https://shop.example.com","title":"Zomer sale"}`)

	w := f.do(http.MethodPost, "/api/v1/stores/4/promotions", body)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, uint(4), f.promos.storeID)
	assert.Contains(t, w.Body.String(), "Zomer sale")
}

func TestPromotionErrorMapping(t *testing.T) {
	body := []byte(`{"author_id":1,"link":"https://shop.example.com","title":"Zomer sale"}`)
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"rate limited", &promotions.LimitError{Message: "Limiet bereikt."}, http.StatusTooManyRequests},
		{"invalid", fmt.Errorf("%w: title", promotions.ErrInvalidRequest), http.StatusBadRequest},
		{"not found", repository.ErrNotFound, http.StatusNotFound},
		{"already sent", promotions.ErrAlreadySent, http.StatusConflict},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.promos.err = tt.err

			w := f.do(http.MethodPut, "/api/v1/promotions/3", body)

			assert.Equal(t, tt.code, w.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			if tt.code == http.StatusInternalServerError {
				assert.Equal(t, InternalErrorMessage, resp.Message)
				assert.NotContains(t, w.Body.String(), "db down")
			}
		})
	}
}

func TestLimitMessageReturned(t *testing.T) {
	f := newFixture(t)
	f.promos.err = &promotions.LimitError{Message: "Limiet bereikt."}

	w := f.do(http.MethodPost, "/api/v1/stores/4/promotions", []byte(`{"author_id":1,"link":"https://a.example","title":"x"}`))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Limiet bereikt.")
}

func TestLimitStatusAndApprove(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/stores/9/promotions/limit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"store_id":9,"at_limit":true,"violated":false}`, w.Body.String())

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/promotions/9/approve", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/promotions/abc/approve", nil).Code)

	f.promos.err = promotions.ErrInvalidTransition
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/promotions/9/approve", nil).Code)
}

func TestRecordLinkVisit(t *testing.T) {
	f := newFixture(t)
	user := models.User{Email: "v@example.com", Gender: models.GenderBoth}
	require.NoError(t, f.repo.DB().Create(&user).Error)
	link := &models.ResolvedLink{TrackedURL: "https://t.example.com/a", RedirectURL: "https://shop.example.com/a"}
	created, err := f.repo.CreateLink(context.Background(), link)
	require.NoError(t, err)
	require.True(t, created)
	body := []byte(fmt.Sprintf(`{"user_id":%d}`, user.ID))

	path := fmt.Sprintf("/api/v1/links/%d/visits", link.ID)
	for i := 0; i < 2; i++ {
		w := f.do(http.MethodPost, path, body)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, fmt.Sprintf(`{"link_id":%d,"visits":1}`, link.ID), w.Body.String())
	}

	w := f.do(http.MethodPost, path, []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, fmt.Sprintf("/api/v1/links/%d/visits", link.ID+100), body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	count, err := f.repo.CountLinkVisits(context.Background(), link.ID+100)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGetMessage(t *testing.T) {
	f := newFixture(t)
	msg := models.RawMessage{Sender: "news@shop.example.com", Inbox: "general@example.com", Subject: "Sale", ReceivedAt: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	created, err := f.repo.InsertRawMessage(context.Background(), &msg)
	require.NoError(t, err)
	require.True(t, created)

	w := f.do(http.MethodGet, fmt.Sprintf("/api/v1/messages/%d", msg.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Sale", got.Subject)
	assert.False(t, got.InAnalysis)

	w = f.do(http.MethodGet, "/api/v1/messages/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
