package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"milk-ticket-backend/internal/auth"
	handler "milk-ticket-backend/internal/handlers"
	"milk-ticket-backend/internal/ingest"
	"milk-ticket-backend/internal/lock"
	"milk-ticket-backend/internal/models"
	"milk-ticket-backend/internal/routes"
	service "milk-ticket-backend/internal/services/reconciliation"
	"milk-ticket-backend/internal/services/review"
	"milk-ticket-backend/internal/services/tickets"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ticketStore backs both the review navigator and reconciliation runs.
type ticketStore struct {
	mu      sync.Mutex
	tickets []*models.MilkTicket
	edits   []*models.TicketEditLog
}

func (s *ticketStore) byID() []*models.MilkTicket {
	out := append([]*models.MilkTicket(nil), s.tickets...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *ticketStore) first(match func(*models.MilkTicket) bool, reverse bool) (*models.MilkTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.byID()
	if reverse {
		sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	}
	for _, t := range all {
		if match(t) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *ticketStore) NextUnprocessed(context.Context) (*models.MilkTicket, error) {
	return s.first(func(t *models.MilkTicket) bool { return !t.Processed }, false)
}

func (s *ticketStore) FindByLoadBatchID(_ context.Context, key string) (*models.MilkTicket, error) {
	return s.first(func(t *models.MilkTicket) bool { return t.LoadBatchID == key }, false)
}

func (s *ticketStore) PreviousUnprocessed(_ context.Context, id uint) (*models.MilkTicket, error) {
	return s.first(func(t *models.MilkTicket) bool { return !t.Processed && t.ID < id }, true)
}

func (s *ticketStore) NextUnprocessedAfter(_ context.Context, id uint) (*models.MilkTicket, error) {
	return s.first(func(t *models.MilkTicket) bool { return !t.Processed && t.ID > id }, false)
}

func (s *ticketStore) SaveEdit(_ context.Context, ticket *models.MilkTicket, entry *models.TicketEditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tickets {
		if t.ID == ticket.ID {
			cp := *ticket
			s.tickets[i] = &cp
			s.edits = append(s.edits, entry)
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *ticketStore) ListAll(context.Context) ([]models.MilkTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MilkTicket
	for _, t := range s.byID() {
		out = append(out, *t)
	}
	return out, nil
}

func (s *ticketStore) EditHistory(_ context.Context, ticketID uint) ([]models.TicketEditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TicketEditLog
	for i := len(s.edits) - 1; i >= 0; i-- {
		if s.edits[i].TicketID == ticketID {
			out = append(out, *s.edits[i])
		}
	}
	return out, nil
}

func (s *ticketStore) ExistingKeys(context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make(map[string]struct{})
	for _, t := range s.tickets {
		keys[t.LoadBatchID] = struct{}{}
	}
	return keys, nil
}

func (s *ticketStore) InsertBatch(_ context.Context, batch []*models.MilkTicket) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range batch {
		t.ID = uint(len(s.tickets) + 1)
		s.tickets = append(s.tickets, t)
	}
	return nil, nil
}

type runStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]models.ImportRun
}

func (s *runStore) CreateRun(_ context.Context, filename string) (*models.ImportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := models.ImportRun{ID: uuid.New(), Filename: filename, Status: models.RunStatusProcessing}
	s.runs[run.ID] = run
	return &run, nil
}

func (s *runStore) UpdateProgress(context.Context, uuid.UUID, int) error { return nil }

func (s *runStore) FinishRun(_ context.Context, run *models.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *runStore) GetRun(_ context.Context, id uuid.UUID) (*models.ImportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &run, nil
}

type testServer struct {
	router *gin.Engine
	store  *ticketStore
	locker *lock.LocalLocker
	token  string
}

func f64(v float64) *float64 { return &v }

func exportRecords() []ingest.TransactionRecord {
	var records []ingest.TransactionRecord
	for _, id := range []string{"N1", "N2"} {
		records = append(records,
			ingest.TransactionRecord{LoadBatchID: id, State: ingest.StateUnloaded, DriverName: "Pat", Facility: "PLANT01", Timestamp: "2024-10-15 13:45:00"},
			ingest.TransactionRecord{LoadBatchID: id, State: ingest.StateLoaded, Facility: "FARM0012", Weight: f64(250)},
		)
	}
	return records
}

func newTestServer(t *testing.T, ticketsInStore ...*models.MilkTicket) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	authn, err := auth.NewStaticAuthenticator("operator", hash, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewStaticAuthenticator: %v", err)
	}

	store := &ticketStore{tickets: ticketsInStore}
	locker := lock.NewLocalLocker()
	recon := service.NewReconciliationService(store, &runStore{runs: make(map[uuid.UUID]models.ImportRun)},
		tickets.NewBuilder("", ""), locker, logger, service.Options{BatchSize: 10}).
		WithReader(func(string, string) ([]ingest.TransactionRecord, ingest.Stats, error) {
			records := exportRecords()
			return records, ingest.Stats{RowsRead: len(records)}, nil
		})

	r := gin.New()
	routes.Mount(r, handler.NewReconciliationHandler(recon), handler.NewTicketHandler(review.NewNavigator(store, logger)), authn)

	token, err := authn.Authenticate(context.Background(), auth.Credentials{Username: "operator", Password: "s3cret"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return &testServer{router: r, store: store, locker: locker, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	return s.do(t, method, path, body, "application/json")
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func storedTicket(id uint, key string, processed bool) *models.MilkTicket {
	temp := 37.5
	return &models.MilkTicket{
		ID:          id,
		LoadBatchID: key,
		DriverName:  "Pat",
		Facility:    "PLANT0042",
		Timestamp:   time.Date(2024, 10, 15, 13, 45, 0, 0, time.UTC),
		FarmPickups: []byte(`[{"Producer Number":"FAR","Converted Pounds":500,"Gauge Rod":12,"Temp":36,"Date & Time":"2024-10-15 08:00:00"}]`),
		Processed:   processed,
		Temperature: &temp,
	}
}

type ticketResponse struct {
	Ticket       models.MilkTicket `json:"ticket"`
	Pickups      []models.Pickup   `json:"pickups"`
	TankWeightID string            `json:"tank_weight_id"`
	Previous     string            `json:"previous_load_batch_id"`
	Next         string            `json:"next_load_batch_id"`
}

func TestHealthAndAuth(t *testing.T) {
	srv := newTestServer(t)
	srv.token = ""

	if w := srv.do(t, http.MethodGet, "/api/health", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if w := srv.do(t, http.MethodGet, "/api/tickets/next", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", w.Code)
	}

	bad := srv.doJSON(t, http.MethodPost, "/api/auth/login", auth.Credentials{Username: "operator", Password: "nope"})
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", bad.Code)
	}

	good := srv.doJSON(t, http.MethodPost, "/api/auth/login", auth.Credentials{Username: "operator", Password: "s3cret"})
	if good.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", good.Code, good.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	decode(t, good, &body)
	srv.token = body.Token
	if w := srv.do(t, http.MethodGet, "/api/tickets", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", w.Code)
	}
}

func TestNextTicketView(t *testing.T) {
	srv := newTestServer(t,
		storedTicket(1, "B1", true),
		storedTicket(2, "B2", false),
		storedTicket(3, "B3", false),
	)

	w := srv.do(t, http.MethodGet, "/api/tickets/next", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var view ticketResponse
	decode(t, w, &view)
	if view.Ticket.LoadBatchID != "B2" || view.Previous != "" || view.Next != "B3" {
		t.Fatalf("view = %+v", view)
	}
	if view.TankWeightID != "ANT0042 37.5" || len(view.Pickups) != 1 {
		t.Fatalf("view = %+v", view)
	}

	byKey := srv.do(t, http.MethodGet, "/api/tickets/B1", nil, "")
	decode(t, byKey, &view)
	if view.Ticket.LoadBatchID != "B1" || view.Next != "B2" {
		t.Fatalf("by key view = %+v", view)
	}
}

func TestTicketNotFoundMessages(t *testing.T) {
	srv := newTestServer(t, storedTicket(1, "B1", true))

	var body struct {
		Error string `json:"error"`
	}
	w := srv.do(t, http.MethodGet, "/api/tickets/next", nil, "")
	decode(t, w, &body)
	if w.Code != http.StatusNotFound || body.Error != "All milk tickets have been processed." {
		t.Fatalf("next: %d %q", w.Code, body.Error)
	}

	w = srv.do(t, http.MethodGet, "/api/tickets/B9", nil, "")
	decode(t, w, &body)
	if w.Code != http.StatusNotFound || body.Error != "No milk ticket found for the provided load batch ID." {
		t.Fatalf("by key: %d %q", w.Code, body.Error)
	}
}

func TestUpdateTicket(t *testing.T) {
	srv := newTestServer(t, storedTicket(1, "B1", false), storedTicket(2, "B2", false))

	edit := review.EditFields{
		DriverName:         "Sam Hauler",
		Facility:           "PLANT0042",
		BulkSamplerLicense: "BSL-77",
		BTUNo:              "BTU-9",
		Timestamp:          "2024-10-16 06:30:00",
	}
	w := srv.doJSON(t, http.MethodPut, "/api/tickets/B1", edit)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Next string `json:"next_load_batch_id"`
	}
	decode(t, w, &body)
	if body.Next != "B2" {
		t.Fatalf("next = %q, want B2", body.Next)
	}

	stored, _ := srv.store.FindByLoadBatchID(context.Background(), "B1")
	if !stored.Processed || stored.DriverName != "Sam Hauler" {
		t.Fatalf("stored = %+v", stored)
	}
	if len(srv.store.edits) != 1 || srv.store.edits[0].PerformedBy != "operator" {
		t.Fatalf("edits = %+v", srv.store.edits)
	}

	history := srv.do(t, http.MethodGet, "/api/tickets/B1/history", nil, "")
	var entries struct {
		Items []models.TicketEditLog `json:"items"`
	}
	decode(t, history, &entries)
	if history.Code != http.StatusOK || len(entries.Items) != 1 || entries.Items[0].LoadBatchID != "B1" {
		t.Fatalf("history = %d %s", history.Code, history.Body.String())
	}

	edit.DriverName = ""
	if w := srv.doJSON(t, http.MethodPut, "/api/tickets/B2", edit); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid edit status = %d", w.Code)
	}
	if w := srv.doJSON(t, http.MethodPut, "/api/tickets/B9", edit); w.Code != http.StatusNotFound {
		t.Fatalf("unknown ticket status = %d", w.Code)
	}
}

func TestRunReconciliation(t *testing.T) {
	srv := newTestServer(t)

	w := srv.doJSON(t, http.MethodPost, "/api/reconciliation/run", map[string]any{"source_path": "/data/export.xlsx"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Result service.Result `json:"result"`
	}
	decode(t, w, &body)
	if body.Result.Inserted != 2 {
		t.Fatalf("result = %+v", body.Result)
	}

	run := srv.do(t, http.MethodGet, "/api/reconciliation/runs/"+body.Result.RunID.String(), nil, "")
	var record models.ImportRun
	decode(t, run, &record)
	if run.Code != http.StatusOK || record.Status != models.RunStatusCompleted || record.InsertedCount != 2 {
		t.Fatalf("run = %d %+v", run.Code, record)
	}

	if w := srv.doJSON(t, http.MethodPost, "/api/reconciliation/run", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing path status = %d", w.Code)
	}
	if w := srv.do(t, http.MethodGet, "/api/reconciliation/runs/not-a-uuid", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad run id status = %d", w.Code)
	}
	if w := srv.do(t, http.MethodGet, "/api/reconciliation/runs/"+uuid.NewString(), nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown run status = %d", w.Code)
	}
}

func TestRunWhileLocked(t *testing.T) {
	srv := newTestServer(t)
	release, err := srv.locker.Acquire(context.Background(), "milk-tickets:reconcile")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release(context.Background())

	w := srv.doJSON(t, http.MethodPost, "/api/reconciliation/run", map[string]any{"source_path": "export.xlsx"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestPreview(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(t, http.MethodGet, "/api/reconciliation/preview?source_path=export.xlsx&limit=1", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Count int `json:"count"`
	}
	decode(t, w, &body)
	if body.Count != 1 || len(srv.store.tickets) != 0 {
		t.Fatalf("count = %d, stored = %d", body.Count, len(srv.store.tickets))
	}

	if w := srv.do(t, http.MethodGet, "/api/reconciliation/preview", nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing path status = %d", w.Code)
	}
}

func TestUploadRunsInBackground(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "export.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte(strings.Join(ingest.RequiredColumns, ",") + "\n"))
	_ = mw.Close()

	w := srv.do(t, http.MethodPost, "/api/reconciliation/upload", &buf, mw.FormDataContentType())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		RunID string `json:"run_id"`
	}
	decode(t, w, &body)

	deadline := time.Now().Add(5 * time.Second)
	for {
		run := srv.do(t, http.MethodGet, "/api/reconciliation/runs/"+body.RunID, nil, "")
		var record models.ImportRun
		decode(t, run, &record)
		if record.Status == models.RunStatusCompleted {
			if record.InsertedCount != 2 {
				t.Fatalf("run = %+v", record)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("run still %q after deadline", record.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUploadRejectsUnknownExtension(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "export.pdf")
	_, _ = part.Write([]byte("%PDF"))
	_ = mw.Close()

	if w := srv.do(t, http.MethodPost, "/api/reconciliation/upload", &buf, mw.FormDataContentType()); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
