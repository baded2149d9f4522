package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/alazzawimahmoud/math-stream/internal/adapters/memorybus"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/sqlite"
	"github.com/alazzawimahmoud/math-stream/internal/adapters/ttlcache"
	"github.com/alazzawimahmoud/math-stream/internal/app"
	"github.com/alazzawimahmoud/math-stream/internal/domain"
	"github.com/alazzawimahmoud/math-stream/internal/ports"
)

type apiEnv struct {
	handler http.Handler
	store   *sqlite.ComputationsRepository
	queue   *sqlite.JobsRepository
	bus     *memorybus.Bus
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := sqlite.NewComputationsRepository(db.SQL)
	queue := sqlite.NewJobsRepository(db.SQL)
	bus := memorybus.New()
	t.Cleanup(bus.Close)

	svc := app.NewComputationService(store, app.NewDispatcher(queue), ttlcache.NewSnapshotCache(time.Minute))
	srv := NewServer(zerolog.Nop(), svc, bus)
	return &apiEnv{handler: srv.Router(), store: store, queue: queue, bus: bus}
}

func (e *apiEnv) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) createComputation(t *testing.T, user string) app.ComputationDTO {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/computations/", user, `{"a":10,"b":5,"mode":"classic"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var dto app.ComputationDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
		t.Fatalf("invalid create response: %v", err)
	}
	return dto
}

func (e *apiEnv) completeAll(t *testing.T, id string) {
	t.Helper()
	for _, op := range domain.Operations {
		v := 1.0
		if _, err := e.store.SetTerminal(context.Background(), id, op, domain.ResultValue{Result: &v}); err != nil {
			t.Fatalf("SetTerminal(%s): %v", op, err)
		}
	}
}

func TestCreate_RequiresUser(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/computations/", "", `{"a":1,"b":2,"mode":"classic"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/computations/", "u1", `{"a":1,"b":2,"mode":"quantum"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad mode, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/computations/", "u1", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", rec.Code)
	}
}

func TestCreate_ReturnsPendingComputation(t *testing.T) {
	env := newAPIEnv(t)
	dto := env.createComputation(t, "u1")

	if dto.ID == "" || dto.OwnerID != "u1" {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if dto.Status != domain.StatusPending || len(dto.Results) != 4 {
		t.Fatalf("expected pending computation with 4 results, got %+v", dto)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/computations/unknown", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetStatus_RequiresUser(t *testing.T) {
	env := newAPIEnv(t)
	dto := env.createComputation(t, "u1")

	rec := env.do(t, http.MethodGet, "/api/v1/computations/"+dto.ID, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rec.Code)
	}

	// Authentifié mais pas propriétaire: la lecture de statut passe.
	rec = env.do(t, http.MethodGet, "/api/v1/computations/"+dto.ID, "u2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for non-owner read, got %d", rec.Code)
	}
}

func TestGetStatus_ReturnsTotalProgressAndFromCache(t *testing.T) {
	env := newAPIEnv(t)
	dto := env.createComputation(t, "u1")
	env.completeAll(t, dto.ID)

	rec := env.do(t, http.MethodGet, "/api/v1/computations/"+dto.ID, "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status app.StatusDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if status.Status != domain.StatusCompleted || status.TotalProgress != 100 {
		t.Fatalf("expected completed/100, got %s/%d", status.Status, status.TotalProgress)
	}
	if status.FromCache {
		t.Fatalf("first read must be live")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/computations/"+dto.ID, "u1", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !status.FromCache {
		t.Fatalf("second read comes from the snapshot cache")
	}
}

func TestHistory_ScopedToOwner(t *testing.T) {
	env := newAPIEnv(t)
	env.createComputation(t, "u1")
	env.createComputation(t, "u1")
	env.createComputation(t, "u2")

	rec := env.do(t, http.MethodGet, "/api/v1/computations/?limit=10", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var history app.HistoryDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(history.Items) != 2 || history.Total != 2 || history.HasMore {
		t.Fatalf("expected u1's 2 computations, got %d/%d/%v", len(history.Items), history.Total, history.HasMore)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/computations/", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rec.Code)
	}
}

func TestEvents_AuthAndOwnership(t *testing.T) {
	env := newAPIEnv(t)
	dto := env.createComputation(t, "u1")

	rec := env.do(t, http.MethodGet, "/api/v1/computations/"+dto.ID+"/events", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/computations/unknown/events", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/computations/"+dto.ID+"/events", "u2", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong owner, got %d", rec.Code)
	}
}

func TestEvents_CompletedComputationSendsSingleSnapshot(t *testing.T) {
	env := newAPIEnv(t)
	dto := env.createComputation(t, "u1")
	env.completeAll(t, dto.ID)

	rec := env.do(t, http.MethodGet, "/api/v1/computations/"+dto.ID+"/events", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	body := rec.Body.String()
	if got := strings.Count(body, "event: update"); got != 1 {
		t.Fatalf("expected exactly one event, got %d (%s)", got, body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("expected completed snapshot, got %s", body)
	}
	if !strings.Contains(body, `"totalProgress":100`) {
		t.Fatalf("expected totalProgress 100, got %s", body)
	}
}

// staleReadStore sert une première lecture prise juste avant la
// complétion, comme quand les 4 opérations terminent entre la lecture
// initiale du handler et son abonnement au bus.
type staleReadStore struct {
	ports.ComputationStore
	staleReads int
}

func (s *staleReadStore) Get(ctx context.Context, id string) (domain.Computation, error) {
	c, err := s.ComputationStore.Get(ctx, id)
	if err != nil {
		return c, err
	}
	if s.staleReads > 0 {
		s.staleReads--
		c.Status = domain.StatusProcessing
	}
	return c, nil
}

func TestEvents_CompletionBeforeSubscribeStillCloses(t *testing.T) {
	db, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := sqlite.NewComputationsRepository(db.SQL)
	queue := sqlite.NewJobsRepository(db.SQL)
	bus := memorybus.New()
	t.Cleanup(bus.Close)

	stale := &staleReadStore{ComputationStore: repo, staleReads: 1}
	svc := app.NewComputationService(stale, app.NewDispatcher(queue), ttlcache.NewSnapshotCache(time.Minute))
	handler := NewServer(zerolog.Nop(), svc, bus).Router()

	dto, err := svc.Create(context.Background(), "u1", app.CreateComputationRequest{A: 10, B: 5, Mode: domain.ModeClassic})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, op := range domain.Operations {
		v := 1.0
		if _, err := repo.SetTerminal(context.Background(), dto.ID, op, domain.ResultValue{Result: &v}); err != nil {
			t.Fatalf("SetTerminal(%s): %v", op, err)
		}
	}

	// La première lecture voit encore processing; la publication
	// "completed" est déjà passée, rien ne viendra plus par le bus. La
	// relecture post-abonnement doit fermer le flux quand même.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/computations/"+dto.ID+"/events", nil)
	req.Header.Set("X-User-Id", "u1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never closed the stream")
	}

	body := rec.Body.String()
	if got := strings.Count(body, "event: update"); got != 1 {
		t.Fatalf("expected exactly one event, got %d (%s)", got, body)
	}
	if !strings.Contains(body, `"status":"completed"`) {
		t.Fatalf("expected completed snapshot, got %s", body)
	}
}

func TestEvents_StreamsUntilCompleted(t *testing.T) {
	env := newAPIEnv(t)
	dto := env.createComputation(t, "u1")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/computations/"+dto.ID+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("X-User-Id", "u1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Terminer les 4 opérations pendant que le flux est ouvert, puis
	// publier l'instantané final sur le bus.
	go func() {
		time.Sleep(50 * time.Millisecond)
		for _, op := range domain.Operations {
			v := 1.0
			if _, err := env.store.SetTerminal(context.Background(), dto.ID, op, domain.ResultValue{Result: &v}); err != nil {
				t.Errorf("SetTerminal(%s): %v", op, err)
				return
			}
		}
		c, err := env.store.Get(context.Background(), dto.ID)
		if err != nil {
			t.Errorf("Get: %v", err)
			return
		}
		env.bus.Publish(dto.ID, domain.NewUpdate(c))
	}()

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 512)
		for {
			n, err := resp.Body.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if err != nil {
				done <- string(buf)
				return
			}
		}
	}()

	select {
	case body := <-done:
		if !strings.Contains(body, `"status":"completed"`) {
			t.Fatalf("expected stream to end with completed snapshot, got %s", body)
		}
		if strings.Count(body, "event: update") < 2 {
			t.Fatalf("expected initial snapshot plus completion event, got %s", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("stream did not terminate after completion")
	}
}
