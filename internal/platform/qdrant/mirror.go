package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/postsecret-pipeline/internal/platform/logger"
)

const (
	payloadSubjectIDKey = "subject_id"
	maxErrorBodyBytes   = 1024
	// maxResponseBodyBytes bounds a successful response; search results stay far below it.
	maxResponseBodyBytes = 32 << 20
	// searchOverFetch leaves room for the caller to drop the query subject itself.
	searchOverFetch = 5
)

var pointIDNamespaceUUID = uuid.MustParse("6f1d8c2e-5b0a-4f3e-9d41-2a7c3e9b8f10")

var collectionUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Match is one ANN hit.
type Match struct {
	SubjectID uuid.UUID
	Score     float64
}

// Mirror is a best-effort copy of subject embeddings in Qdrant, one collection per model.
// Write failures are logged and reported as false; search failures report "unavailable".
type Mirror struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
	now     func() time.Time

	mu    sync.Mutex
	ready map[string]time.Time
}

type Option func(*Mirror)

func WithHTTPClient(h *http.Client) Option {
	return func(m *Mirror) {
		if h != nil {
			m.http = h
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Mirror) {
		if now != nil {
			m.now = now
		}
	}
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantSearchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewMirror(log *logger.Logger, cfg Config, opts ...Option) (*Mirror, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	m := &Mirror{
		log:     log.With("service", "VectorIndexMirror"),
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		now:     time.Now,
		ready:   map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.Enabled {
		m.log.Info("Qdrant mirror enabled", "url", m.baseURL, "collection_prefix", cfg.CollectionPrefix, "distance", cfg.Distance)
	}
	return m, nil
}

func (m *Mirror) Enabled() bool { return m != nil && m.cfg.Enabled }

// Collection names the collection holding vectors for model.
func (m *Mirror) Collection(model string) string {
	name := collectionUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(model)), "_")
	if name == "" {
		name = "default"
	}
	return m.cfg.CollectionPrefix + "_" + name
}

// Upsert writes one subject's vector. It never returns an error; false means not mirrored.
func (m *Mirror) Upsert(ctx context.Context, subjectID uuid.UUID, vector []float64, payload map[string]any, model string) bool {
	if !m.Enabled() {
		return false
	}
	const op = "upsert"
	if subjectID == uuid.Nil || len(vector) == 0 {
		m.log.Warn("qdrant upsert skipped: invalid point", "subject_id", subjectID, "dim", len(vector))
		return false
	}
	collection := m.Collection(model)
	if err := m.ensureCollection(ctx, collection, len(vector)); err != nil {
		m.logFailure(op, collection, err)
		return false
	}

	body := clonePayload(payload)
	body[payloadSubjectIDKey] = subjectID.String()
	body["model"] = model
	req := map[string]any{
		"points": []map[string]any{{
			"id":      m.pointID(subjectID),
			"vector":  vector,
			"payload": body,
		}},
	}
	if err := m.doJSON(ctx, op, http.MethodPut, collectionPath(collection, "/points?wait=true"), req, nil); err != nil {
		if IsKind(err, KindMissingCollection) {
			m.forget(collection)
		}
		m.logFailure(op, collection, err)
		return false
	}
	return true
}

// Search queries the model's collection. available=false means the index could not answer and the
// caller should fall back; available=true with no matches is a real empty result.
func (m *Mirror) Search(ctx context.Context, vector []float64, model string, limit int, minScore float64, filter Filter) (matches []Match, available bool) {
	if !m.Enabled() || len(vector) == 0 {
		return nil, false
	}
	const op = "search"
	if limit <= 0 {
		limit = 10
	}
	cond, err := Compile(filter)
	if err != nil {
		m.logFailure(op, "", err)
		return nil, false
	}
	collection := m.Collection(model)
	req := map[string]any{
		"vector":          vector,
		"limit":           limit + searchOverFetch,
		"with_payload":    []string{payloadSubjectIDKey},
		"with_vector":     false,
		"score_threshold": minScore,
	}
	if f := cond.Qdrant(); f != nil {
		req["filter"] = f
	}
	var raw []qdrantSearchResultItem
	if err := m.doJSON(ctx, op, http.MethodPost, collectionPath(collection, "/points/search"), req, &raw); err != nil {
		if IsKind(err, KindMissingCollection) {
			m.forget(collection)
		}
		m.logFailure(op, collection, err)
		return nil, false
	}

	out := make([]Match, 0, len(raw))
	for _, item := range raw {
		id := subjectFromPayload(item.Payload)
		if id == uuid.Nil || item.Score < minScore {
			continue
		}
		out = append(out, Match{SubjectID: id, Score: normalizeScore(m.cfg.Distance, item.Score)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].SubjectID.String() < out[j].SubjectID.String()
		}
		return out[i].Score > out[j].Score
	})
	return out, true
}

// ensureCollection creates the collection on first use. Positive results are cached for CacheTTL;
// a racing duplicate create is harmless because Qdrant answers 409 for existing collections.
func (m *Mirror) ensureCollection(ctx context.Context, collection string, dim int) error {
	now := m.now()
	m.mu.Lock()
	at, ok := m.ready[collection]
	m.mu.Unlock()
	if ok && now.Sub(at) < m.cfg.CacheTTL {
		return nil
	}

	err := m.doJSON(ctx, "collection_check", http.MethodGet, collectionPath(collection, ""), nil, nil)
	switch {
	case err == nil:
	case IsKind(err, KindMissingCollection):
		size := m.cfg.VectorDim
		if size <= 0 {
			size = dim
		}
		create := map[string]any{"vectors": map[string]any{"size": size, "distance": m.cfg.Distance}}
		cerr := m.doJSON(ctx, "collection_create", http.MethodPut, collectionPath(collection, ""), create, nil)
		if cerr != nil && !IsKind(cerr, KindConflict) {
			return cerr
		}
		m.log.Info("qdrant collection created", "collection", collection, "size", size, "distance", m.cfg.Distance)
	default:
		return err
	}

	m.mu.Lock()
	m.ready[collection] = now
	m.mu.Unlock()
	return nil
}

func (m *Mirror) forget(collection string) {
	m.mu.Lock()
	delete(m.ready, collection)
	m.mu.Unlock()
}

func (m *Mirror) logFailure(op, collection string, err error) {
	kv := []interface{}{"op", op, "collection", collection, "error", err}
	var e *Error
	if errors.As(err, &e) {
		kv = append(kv, "kind", e.Kind, "status", e.Status, "transient", e.Transient())
	}
	m.log.Warn("qdrant mirror call failed", kv...)
}

func (m *Mirror) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fail(op, KindEncode, "encode request failed", err)
		}
		body = &buf
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return fail(op, KindTransport, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("api-key", m.cfg.APIKey)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return statusFailure(op, resp.StatusCode, raw)
	}

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if readErr != nil {
		return fail(op, KindDecode, "read response failed", readErr)
	}
	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fail(op, KindDecode, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &Error{Kind: KindRejected, Op: op, Status: resp.StatusCode, Detail: statusErr}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fail(op, KindDecode, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fail(op, KindTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fail(op, KindTimeout, message, err)
	}
	return fail(op, KindTransport, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}
	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}
	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func subjectFromPayload(p map[string]any) uuid.UUID {
	s, _ := p[payloadSubjectIDKey].(string)
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// pointID is deterministic so re-upserting a subject replaces its point.
func (m *Mirror) pointID(subjectID uuid.UUID) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(subjectID.String())).String()
}

func collectionPath(collection, suffix string) string {
	return "/collections/" + collection + suffix
}

func normalizeScore(distance string, score float64) float64 {
	switch strings.ToLower(strings.TrimSpace(distance)) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		return score
	}
}
