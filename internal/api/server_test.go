package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hybridstencil/internal/accel"
	_ "github.com/samcharles93/hybridstencil/internal/accel/emulated"
	"github.com/samcharles93/hybridstencil/internal/harness"
	"github.com/samcharles93/hybridstencil/internal/hybrid"
)

// fakeRun emits the driver events of a short run and reports a fixed ratio.
// When gate is non-nil it blocks until gate is closed.
func fakeRun(gate chan struct{}) RunFunc {
	return func(ctx context.Context, opts harness.Options) (*harness.Report, error) {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if opts.Config.Seed == 666 {
			return nil, accel.Status("clBuildProgram", -11)
		}
		for i := 0; i < opts.Config.Iterations; i++ {
			opts.Observer(hybrid.Event{Iteration: i, State: hybrid.StateDispatch})
			opts.Observer(hybrid.Event{Iteration: i, State: hybrid.StateWait})
			opts.Observer(hybrid.Event{Iteration: i, State: hybrid.StateExchange})
		}
		opts.Observer(hybrid.Event{Iteration: opts.Config.Iterations, State: hybrid.StateDone})
		return &harness.Report{Config: opts.Config, Ratio: 2}, nil
	}
}

type testServer struct {
	srv *Server
	e   *echo.Echo
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	if opts.Run == nil {
		opts.Run = fakeRun(nil)
	}
	srv := NewServer(opts)
	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Wait()
	})
	e := echo.New()
	srv.Register(e)
	return &testServer{srv: srv, e: e}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func (ts *testServer) waitStatus(t *testing.T, id string, want Status) RunRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := ts.srv.Store().Get(id)
		if ok && rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached %s", id, want)
	return RunRecord{}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/v1/runs", `{"xdim":64,"ydim":32,"accel_rows":16,"iterations":3}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
	}
	created := decode[CreateRunResponse](t, rec)
	if !strings.HasPrefix(created.ID, "run_") || created.Status != StatusQueued {
		t.Fatalf("created: %+v", created)
	}

	done := ts.waitStatus(t, created.ID, StatusCompleted)
	if done.Report == nil || done.Report.Ratio != 2 || done.StartedAt == nil || done.FinishedAt == nil {
		t.Fatalf("completed record: %+v", done)
	}

	got := decode[RunRecord](t, ts.do(t, http.MethodGet, "/v1/runs/"+created.ID, ""))
	if got.ID != created.ID || got.Status != StatusCompleted {
		t.Fatalf("get: %+v", got)
	}
	// Omitted fields take the server defaults.
	if got.Request.XDim != 64 || got.Request.Seed != hybrid.DefaultSeed {
		t.Fatalf("request: %+v", got.Request)
	}

	list := decode[ListRunsResponse](t, ts.do(t, http.MethodGet, "/v1/runs", ""))
	if len(list.Data) != 1 || list.Data[0].ID != created.ID {
		t.Fatalf("list: %+v", list)
	}
}

func TestRunFailureIsRecorded(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodPost, "/v1/runs", `{"xdim":16,"ydim":16,"accel_rows":8,"iterations":1,"seed":666}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status: %d", rec.Code)
	}
	failed := ts.waitStatus(t, decode[CreateRunResponse](t, rec).ID, StatusFailed)
	if !strings.Contains(failed.Error, "clBuildProgram") || failed.Report != nil {
		t.Fatalf("failed record: %+v", failed)
	}
}

func TestCreateRunRejectsInvalid(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	bodies := []string{
		`{"xdim":0}`,
		`{"ydim":8,"accel_rows":9}`,
		`{"iterations":-1}`,
		`{"device_type":"fpga"}`,
		`{"backend":"cuda"}`,
		`{not json`,
		`{"xdim":65536,"ydim":65536}`,
		`{"xdim":1099511627776,"ydim":1099511627776}`,
	}
	for _, body := range bodies {
		rec := ts.do(t, http.MethodPost, "/v1/runs", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d", body, rec.Code)
			continue
		}
		if e := decode[ErrorBody](t, rec); e.Error.Type != "invalid_request_error" {
			t.Errorf("%s: error type %q", body, e.Error.Type)
		}
	}
	if n := len(ts.srv.Store().List()); n != 0 {
		t.Fatalf("invalid submissions were stored: %d", n)
	}
}

func TestCreateRunRateLimited(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	defer close(gate)
	ts := newTestServer(t, Options{RunsPerMinute: 2, Run: fakeRun(gate)})
	small := `{"xdim":16,"ydim":16,"accel_rows":0,"iterations":1}`
	for i := 0; i < 2; i++ {
		if rec := ts.do(t, http.MethodPost, "/v1/runs", small); rec.Code != http.StatusAccepted {
			t.Fatalf("submission %d: got %d", i, rec.Code)
		}
	}
	rec := ts.do(t, http.MethodPost, "/v1/runs", small)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third submission: got %d", rec.Code)
	}
}

func TestCreateRunQueueFull(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	defer close(gate)
	ts := newTestServer(t, Options{QueueSize: 1, Run: fakeRun(gate)})
	small := `{"xdim":16,"ydim":16,"accel_rows":0,"iterations":1}`

	first := decode[CreateRunResponse](t, ts.do(t, http.MethodPost, "/v1/runs", small))
	ts.waitStatus(t, first.ID, StatusRunning)
	if rec := ts.do(t, http.MethodPost, "/v1/runs", small); rec.Code != http.StatusAccepted {
		t.Fatalf("queued submission: got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/v1/runs", small); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("overflow submission: got %d", rec.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	for _, path := range []string{"/v1/runs/run_missing", "/v1/runs/run_missing/events"} {
		if rec := ts.do(t, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s: got %d", path, rec.Code)
		}
	}
}

func TestDevices(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodGet, "/v1/devices?backend=emulated", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[DevicesResponse](t, rec)
	if got.Backend != accel.Emulated || len(got.Devices) != 1 || got.Devices[0].Type != accel.DeviceTypeAccelerator {
		t.Fatalf("devices: %+v", got)
	}
	if rec := ts.do(t, http.MethodGet, "/v1/devices?backend=cuda", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown backend: got %d", rec.Code)
	}
}

func TestRunEventsStream(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	ts := newTestServer(t, Options{Run: fakeRun(gate)})
	hs := httptest.NewServer(ts.e)
	defer hs.Close()

	created := decode[CreateRunResponse](t, ts.do(t, http.MethodPost, "/v1/runs", `{"xdim":16,"ydim":16,"accel_rows":8,"iterations":2}`))

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/runs/" + created.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription exists once the upgrade completed; release the run.
	close(gate)

	var (
		events []hybrid.Event
		final  *RunRecord
	)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for final == nil {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg struct {
			Type  string `json:"type"`
			Event *struct {
				Iteration int    `json:"iteration"`
				State     string `json:"state"`
			} `json:"event"`
			Run *RunRecord `json:"run"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		switch msg.Type {
		case "event":
			events = append(events, hybrid.Event{Iteration: msg.Event.Iteration})
			if msg.Event.State == "done" && msg.Event.Iteration != 2 {
				t.Fatalf("done event at iteration %d", msg.Event.Iteration)
			}
		case "run":
			final = msg.Run
		}
	}
	if len(events) != 7 {
		t.Fatalf("got %d events, want 7", len(events))
	}
	if final.ID != created.ID || final.Status != StatusCompleted {
		t.Fatalf("final record: %+v", final)
	}

	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestRunEventsAfterCompletion(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{})
	hs := httptest.NewServer(ts.e)
	defer hs.Close()

	created := decode[CreateRunResponse](t, ts.do(t, http.MethodPost, "/v1/runs", `{"xdim":16,"ydim":16,"accel_rows":0,"iterations":1}`))
	ts.waitStatus(t, created.ID, StatusCompleted)

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/runs/" + created.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "run" || msg.Run == nil || msg.Run.Status != StatusCompleted {
		t.Fatalf("message: %s", data)
	}
}

func TestDecodeRunRequestErrors(t *testing.T) {
	t.Parallel()

	srv := NewServer(Options{})
	_, err := srv.decodeRunRequest(strings.NewReader(`{"accel_rows":5000}`))
	if !errors.Is(err, ErrInvalidRequest) || !errors.Is(err, hybrid.ErrInvalidConfig) {
		t.Fatalf("expected invalid request wrapping invalid config, got %v", err)
	}
	var re *RequestError
	if !errors.As(err, &re) || re.Field != "config" {
		t.Fatalf("expected config field error, got %v", err)
	}

	req, err := srv.decodeRunRequest(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty body: %v", err)
	}
	if req.Config != hybrid.DefaultConfig() {
		t.Fatalf("empty body should yield defaults, got %+v", req.Config)
	}
}

func TestCreateRunLimits(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, Options{MaxCells: 1000})
	rec := ts.do(t, http.MethodPost, "/v1/runs", `{"xdim":64,"ydim":64,"accel_rows":0,"iterations":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized grid: got %d body=%s", rec.Code, rec.Body.String())
	}
	if e := decode[ErrorBody](t, rec); !strings.Contains(e.Error.Message, "server limit") {
		t.Fatalf("message %q", e.Error.Message)
	}

	rec = ts.do(t, http.MethodPost, "/v1/runs", `{"xdim":8,"ydim":8,"accel_rows":0,"iterations":1}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("small grid: got %d body=%s", rec.Code, rec.Body.String())
	}

	big := `{"xdim":8,"ydim":8,"pad":"` + strings.Repeat("x", maxRequestBytes) + `"}`
	rec = ts.do(t, http.MethodPost, "/v1/runs", big)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body: got %d", rec.Code)
	}
	if n := len(ts.srv.Store().List()); n != 1 {
		t.Fatalf("stored runs: %d", n)
	}
}
