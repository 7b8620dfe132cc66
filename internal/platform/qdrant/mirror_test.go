package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body any) *http.Response {
	raw, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type recorded struct {
	method string
	path   string
	body   map[string]any
}

type fakeQdrant struct {
	mu          sync.Mutex
	calls       []recorded
	collections map[string]bool
	searchItems []map[string]any
	failWith    int
	transport   error
}

func (f *fakeQdrant) roundTrip(r *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := recorded{method: r.Method, path: r.URL.Path}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
	}
	f.calls = append(f.calls, rec)
	if f.transport != nil {
		return nil, f.transport
	}
	if f.failWith != 0 {
		return jsonResponse(f.failWith, map[string]any{"status": map[string]any{"error": "boom"}}), nil
	}
	const prefix = "/collections/"
	name := r.URL.Path[len(prefix):]
	if i := bytes.IndexByte([]byte(name), '/'); i >= 0 {
		name = name[:i]
	}
	switch {
	case r.Method == http.MethodGet:
		if !f.collections[name] {
			return jsonResponse(http.StatusNotFound, map[string]any{"status": map[string]any{"error": "not found"}}), nil
		}
		return jsonResponse(http.StatusOK, map[string]any{"status": "ok", "result": map[string]any{}}), nil
	case r.Method == http.MethodPut && r.URL.Path == prefix+name:
		f.collections[name] = true
		return jsonResponse(http.StatusOK, map[string]any{"status": "ok", "result": true}), nil
	case r.Method == http.MethodPut:
		if !f.collections[name] {
			return jsonResponse(http.StatusNotFound, map[string]any{"status": map[string]any{"error": "not found"}}), nil
		}
		return jsonResponse(http.StatusOK, map[string]any{"status": "ok", "result": map[string]any{"status": "completed"}}), nil
	case r.Method == http.MethodPost:
		if !f.collections[name] {
			return jsonResponse(http.StatusNotFound, map[string]any{"status": map[string]any{"error": "not found"}}), nil
		}
		return jsonResponse(http.StatusOK, map[string]any{"status": "ok", "result": f.searchItems}), nil
	}
	return jsonResponse(http.StatusMethodNotAllowed, nil), nil
}

func newTestMirror(t *testing.T, f *fakeQdrant, now func() time.Time) *Mirror {
	t.Helper()
	if f.collections == nil {
		f.collections = map[string]bool{}
	}
	m, err := NewMirror(logger.NewNop(), Config{Enabled: true, URL: "http://qdrant.local:6333"},
		WithHTTPClient(&http.Client{Transport: roundTripFunc(f.roundTrip)}),
		WithClock(now),
	)
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	return m
}

func TestUpsertCreatesCollectionOnceAndCaches(t *testing.T) {
	f := &fakeQdrant{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestMirror(t, f, func() time.Time { return now })
	id := uuid.New()

	if ok := m.Upsert(context.Background(), id, []float64{0.6, 0.8}, map[string]any{"style": "doodle"}, "text-embedding-3-small"); !ok {
		t.Fatalf("first upsert failed: calls=%+v", f.calls)
	}
	if len(f.calls) != 3 || f.calls[0].method != http.MethodGet || f.calls[1].method != http.MethodPut || f.calls[2].path != "/collections/postsecret_text-embedding-3-small/points" {
		t.Fatalf("create sequence: got=%+v", f.calls)
	}
	size := f.calls[1].body["vectors"].(map[string]any)["size"]
	if size != float64(2) {
		t.Fatalf("collection size: want=2 got=%v", size)
	}
	point := f.calls[2].body["points"].([]any)[0].(map[string]any)
	if point["id"] != m.pointID(id) || point["payload"].(map[string]any)["subject_id"] != id.String() {
		t.Fatalf("point: got=%+v", point)
	}

	if ok := m.Upsert(context.Background(), id, []float64{1, 0}, nil, "text-embedding-3-small"); !ok {
		t.Fatalf("second upsert failed")
	}
	if len(f.calls) != 4 {
		t.Fatalf("cached collection must skip the existence check: calls=%d", len(f.calls))
	}

	now = now.Add(2 * time.Hour)
	m.Upsert(context.Background(), id, []float64{1, 0}, nil, "text-embedding-3-small")
	if len(f.calls) != 6 || f.calls[4].method != http.MethodGet {
		t.Fatalf("expired cache must re-check: got=%+v", f.calls[4:])
	}
}

func TestUpsertFailureReturnsFalse(t *testing.T) {
	f := &fakeQdrant{failWith: http.StatusInternalServerError}
	m := newTestMirror(t, f, nil)
	if m.Upsert(context.Background(), uuid.New(), []float64{1}, nil, "m") {
		t.Fatalf("upsert against failing server must return false")
	}
	f2 := &fakeQdrant{transport: errors.New("connection refused")}
	if newTestMirror(t, f2, nil).Upsert(context.Background(), uuid.New(), []float64{1}, nil, "m") {
		t.Fatalf("upsert on transport error must return false")
	}
}

func TestDisabledMirrorIsUnavailable(t *testing.T) {
	f := &fakeQdrant{}
	m, err := NewMirror(logger.NewNop(), Config{}, WithHTTPClient(&http.Client{Transport: roundTripFunc(f.roundTrip)}))
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	if m.Upsert(context.Background(), uuid.New(), []float64{1}, nil, "m") {
		t.Fatalf("disabled upsert must return false")
	}
	if got, ok := m.Search(context.Background(), []float64{1}, "m", 5, 0, nil); ok || got != nil {
		t.Fatalf("disabled search must be unavailable: %v %v", got, ok)
	}
	if len(f.calls) != 0 {
		t.Fatalf("disabled mirror made %d calls", len(f.calls))
	}
}

func TestSearchTriState(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	f := &fakeQdrant{
		collections: map[string]bool{"postsecret_m": true},
		searchItems: []map[string]any{
			{"id": "p1", "score": 0.7, "payload": map[string]any{"subject_id": a.String()}},
			{"id": "p2", "score": 0.9, "payload": map[string]any{"subject_id": b.String()}},
			{"id": "p3", "score": 0.8, "payload": map[string]any{}},
		},
	}
	m := newTestMirror(t, f, nil)

	got, ok := m.Search(context.Background(), []float64{1, 0}, "m", 3, 0.5, Filter{"style": "doodle"})
	if !ok || len(got) != 2 || got[0].SubjectID != b || got[1].SubjectID != a {
		t.Fatalf("search: ok=%v got=%+v", ok, got)
	}
	req := f.calls[0].body
	if req["limit"] != float64(3+searchOverFetch) || req["score_threshold"] != 0.5 {
		t.Fatalf("search request: got=%+v", req)
	}
	if _, ok := req["filter"]; !ok {
		t.Fatalf("filter not sent: %+v", req)
	}

	f.searchItems = []map[string]any{}
	got, ok = m.Search(context.Background(), []float64{1, 0}, "m", 3, 0, nil)
	if !ok || got == nil || len(got) != 0 {
		t.Fatalf("empty result must be available and non-nil: ok=%v got=%v", ok, got)
	}

	if got, ok := m.Search(context.Background(), []float64{1, 0}, "missing", 3, 0, nil); ok || got != nil {
		t.Fatalf("missing collection must be unavailable: ok=%v got=%v", ok, got)
	}

	f.failWith = http.StatusBadGateway
	if _, ok := m.Search(context.Background(), []float64{1, 0}, "m", 3, 0, nil); ok {
		t.Fatalf("http error must be unavailable")
	}
}

func TestSearchRejectsBadFilterAsUnavailable(t *testing.T) {
	f := &fakeQdrant{collections: map[string]bool{"postsecret_m": true}}
	m := newTestMirror(t, f, nil)
	if _, ok := m.Search(context.Background(), []float64{1}, "m", 3, 0, Filter{"$xor": []any{}}); ok {
		t.Fatalf("unsupported filter must be unavailable")
	}
	if len(f.calls) != 0 {
		t.Fatalf("invalid filter must not reach qdrant")
	}
}

func TestCollectionNameIsSanitized(t *testing.T) {
	m, _ := NewMirror(logger.NewNop(), Config{CollectionPrefix: "ps"})
	if got := m.Collection("Org/Model v2"); got != "ps_org_model_v2" {
		t.Fatalf("collection: got=%q", got)
	}
}

func TestSearchDecodesLargeResults(t *testing.T) {
	const limit = 100
	f := &fakeQdrant{collections: map[string]bool{"postsecret_m": true}}
	note := string(bytes.Repeat([]byte("x"), 256))
	for i := 0; i < limit+searchOverFetch; i++ {
		f.searchItems = append(f.searchItems, map[string]any{
			"id":      uuid.NewString(),
			"score":   0.5,
			"payload": map[string]any{"subject_id": uuid.NewString(), "note": note},
		})
	}
	m := newTestMirror(t, f, nil)

	got, ok := m.Search(context.Background(), []float64{1, 0}, "m", limit, 0, nil)
	if !ok || len(got) != limit+searchOverFetch {
		t.Fatalf("large search: ok=%v hits=%d", ok, len(got))
	}
}

func TestErrorBodyIsTruncated(t *testing.T) {
	f := &fakeQdrant{collections: map[string]bool{"postsecret_m": true}}
	m := newTestMirror(t, f, nil)
	huge := string(bytes.Repeat([]byte("e"), 8*maxErrorBodyBytes))
	m.http = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, map[string]any{"status": map[string]any{"error": huge}}), nil
	})}

	err := m.doJSON(context.Background(), "search", http.MethodPost, "/collections/postsecret_m/points/search", map[string]any{}, nil)
	var qe *Error
	if !errors.As(err, &qe) || qe.Kind != KindUnavailable || qe.Status != http.StatusInternalServerError || !qe.Transient() {
		t.Fatalf("want transient unavailable error, got %v", err)
	}
	if len(qe.Detail) > maxErrorBodyBytes+len("...") {
		t.Fatalf("error detail not truncated: %d bytes", len(qe.Detail))
	}
}

func TestStatusFailureKinds(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusNotFound, KindMissingCollection},
		{http.StatusConflict, KindConflict},
		{http.StatusBadRequest, KindRejected},
		{http.StatusTooManyRequests, KindUnavailable},
		{http.StatusServiceUnavailable, KindUnavailable},
	}
	for _, tc := range cases {
		if err := statusFailure("search", tc.status, nil); !IsKind(err, tc.kind) {
			t.Fatalf("status %d: want=%s got=%v", tc.status, tc.kind, err)
		}
	}
}
