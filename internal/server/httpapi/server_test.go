package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/trunkwatch/trunkwatch/internal/access"
	"github.com/trunkwatch/trunkwatch/internal/broadcast"
	"github.com/trunkwatch/trunkwatch/internal/history"
	"github.com/trunkwatch/trunkwatch/internal/identity"
	"github.com/trunkwatch/trunkwatch/internal/ingest"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

const testImportToken = "recorder-secret"

type fixture struct {
	handler http.Handler
	archive *history.MemoryArchive
	catalog *ingest.MemoryCatalog
}

func newFixture(policy access.Policy, users ...identity.User) *fixture {
	archive := history.NewMemoryArchive()
	catalog := ingest.NewMemoryCatalog()
	b := broadcast.New(policy, broadcast.NewStaticDirectory())
	gateway := ingest.NewGateway(catalog, archive, b)
	resolver := identity.NewStaticResolver(users)
	handler := NewHandler(gateway, b, archive, catalog, resolver, Options{
		ImportToken:   testImportToken,
		BackfillLimit: 50,
		WriteTimeout:  2 * time.Second,
	})
	return &fixture{handler: handler, archive: archive, catalog: catalog}
}

func importBody(talkgroup int) []byte {
	now := float64(time.Now().Unix())
	raw, _ := json.Marshal(map[string]any{
		"system":         "county",
		"talkgroup":      talkgroup,
		"start_time":     now,
		"stop_time":      now + 10,
		"audio_filename": fmt.Sprintf("county-%d.mp3", talkgroup),
		"srcList":        []map[string]any{{"src": 70}},
	})
	return raw
}

func postImport(handler http.Handler, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, importPath, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestImportRequiresToken(t *testing.T) {
	f := newFixture(access.Policy{})
	if rec := postImport(f.handler, "", importBody(1001)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d, want 401", rec.Code)
	}
	if rec := postImport(f.handler, "wrong", importBody(1001)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d, want 401", rec.Code)
	}
}

func TestImportCreatesThenDeduplicates(t *testing.T) {
	f := newFixture(access.Policy{})
	body := importBody(1001)

	rec := postImport(f.handler, testImportToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first import: status %d body %s", rec.Code, rec.Body.String())
	}
	var first struct {
		TransmissionID string `json:"transmission_id"`
		Created        bool   `json:"created"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil || !first.Created {
		t.Fatalf("first import response: %s", rec.Body.String())
	}

	rec = postImport(f.handler, testImportToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("retried import: status %d, want 200", rec.Code)
	}
	var second struct {
		TransmissionID string `json:"transmission_id"`
		Created        bool   `json:"created"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &second)
	if second.Created || second.TransmissionID != first.TransmissionID {
		t.Fatalf("retry response: %s", rec.Body.String())
	}
}

func TestImportValidationSurfacesReason(t *testing.T) {
	f := newFixture(access.Policy{})
	raw, _ := json.Marshal(map[string]any{"system": "", "talkgroup": 1})
	rec := postImport(f.handler, testImportToken, raw)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing_system") {
		t.Fatalf("reason missing from body: %s", rec.Body.String())
	}
}

func TestImportMalformedJSON(t *testing.T) {
	f := newFixture(access.Policy{})
	rec := postImport(f.handler, testImportToken, []byte("{not json"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestImportDisabledWithoutConfiguredToken(t *testing.T) {
	archive := history.NewMemoryArchive()
	catalog := ingest.NewMemoryCatalog()
	b := broadcast.New(access.Policy{}, nil)
	handler := NewHandler(ingest.NewGateway(catalog, archive, b), b, archive, catalog,
		identity.NewStaticResolver(nil), Options{})
	rec := postImport(handler, "anything", importBody(1001))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401 when imports disabled", rec.Code)
	}
}

func TestTalkgroupListingFiltersByAccess(t *testing.T) {
	f := newFixture(access.Policy{Restrict: true}, identity.User{
		Token:      "tok-1",
		Name:       "dispatcher",
		Talkgroups: []string{"county-tg-1001"},
	})
	f.catalog.PutTalkgroup(schema.Talkgroup{
		System: "county", DecimalID: 1001, Slug: "county-tg-1001", Public: false,
	})
	f.catalog.PutTalkgroup(schema.Talkgroup{
		System: "county", DecimalID: 2002, Slug: "county-tg-2002", Public: true,
	})
	f.catalog.PutTalkgroup(schema.Talkgroup{
		System: "county", DecimalID: 3003, Slug: "county-tg-3003", Public: false,
	})

	fetch := func(token string) []schema.Talkgroup {
		req := httptest.NewRequest(http.MethodGet, talkgroupsPath, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
		}
		var payload struct {
			Results []schema.Talkgroup `json:"results"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return payload.Results
	}

	anon := fetch("")
	if len(anon) != 1 || anon[0].Slug != "county-tg-2002" {
		t.Fatalf("anonymous sees %+v, want only the public talkgroup", anon)
	}
	granted := fetch("tok-1")
	if len(granted) != 1 || granted[0].Slug != "county-tg-1001" {
		t.Fatalf("restricted user sees %+v, want only the granted talkgroup", granted)
	}
}

func TestTransmissionsEndpointAppliesScopeAndWindow(t *testing.T) {
	f := newFixture(access.Policy{AnonymousHistory: 30 * time.Minute})
	now := time.Now()
	recent := schema.Transmission{
		ID: uuid.New(), System: "county", TalkgroupSlug: "county-tg-1001",
		TalkgroupPublic: true, StartTime: now.Add(-5 * time.Minute), HasAudio: true,
	}
	aged := schema.Transmission{
		ID: uuid.New(), System: "county", TalkgroupSlug: "county-tg-1001",
		TalkgroupPublic: true, StartTime: now.Add(-2 * time.Hour), HasAudio: true,
	}
	other := schema.Transmission{
		ID: uuid.New(), System: "county", TalkgroupSlug: "county-tg-2002",
		TalkgroupPublic: true, StartTime: now.Add(-1 * time.Minute), HasAudio: true,
	}
	for _, tx := range []schema.Transmission{recent, aged, other} {
		if _, err := f.archive.Append(context.Background(), tx); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet,
		transmissionsPath+"?scope=talkgroup:county-tg-1001", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Results []schema.Transmission `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Results) != 1 || payload.Results[0].ID != recent.ID {
		t.Fatalf("results %+v, want only the recent in-scope transmission", payload.Results)
	}
}

func TestTransmissionsEndpointRejectsBadScope(t *testing.T) {
	f := newFixture(access.Policy{})
	req := httptest.NewRequest(http.MethodGet, transmissionsPath+"?scope=bogus", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestTranscriptionAttachLifecycle(t *testing.T) {
	f := newFixture(access.Policy{})
	tx := schema.Transmission{
		ID: uuid.New(), System: "county", TalkgroupSlug: "county-tg-1001",
		TalkgroupPublic: true, StartTime: time.Now(), HasAudio: true,
	}
	if _, err := f.archive.Append(context.Background(), tx); err != nil {
		t.Fatalf("append: %v", err)
	}

	post := func(id, text string) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(map[string]any{"transmission_id": id, "text": text})
		req := httptest.NewRequest(http.MethodPost, transcriptionsPath, bytes.NewReader(raw))
		req.Header.Set("Authorization", "Token "+testImportToken)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(uuid.NewString(), "engine 7 responding"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown transmission: status %d, want 404", rec.Code)
	}
	if rec := post(tx.ID.String(), "engine 7 responding"); rec.Code != http.StatusCreated {
		t.Fatalf("attach: status %d body %s", rec.Code, rec.Body.String())
	}
	// Append-only: a second attach does not replace the original text.
	if rec := post(tx.ID.String(), "revised text"); rec.Code != http.StatusCreated {
		t.Fatalf("re-attach: status %d", rec.Code)
	}
	items, err := f.archive.FetchRecent(context.Background(), schema.GlobalScope(), time.Time{}, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("fetch: %v", err)
	}
	if items[0].Transcription != "engine 7 responding" {
		t.Fatalf("transcription = %q, original was replaced", items[0].Transcription)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(access.Policy{})
	req := httptest.NewRequest(http.MethodDelete, importPath, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); !strings.Contains(allow, http.MethodPost) {
		t.Fatalf("Allow header = %q", allow)
	}
}

func TestRateLimitedImport(t *testing.T) {
	archive := history.NewMemoryArchive()
	catalog := ingest.NewMemoryCatalog()
	b := broadcast.New(access.Policy{}, nil)
	handler := NewHandler(ingest.NewGateway(catalog, archive, b), b, archive, catalog,
		identity.NewStaticResolver(nil), Options{
			ImportToken: testImportToken,
			ImportRate:  1,
			ImportBurst: 1,
		})

	if rec := postImport(handler, testImportToken, importBody(1001)); rec.Code != http.StatusCreated {
		t.Fatalf("first import: status %d", rec.Code)
	}
	if rec := postImport(handler, testImportToken, importBody(1002)); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: status %d, want 429", rec.Code)
	}
}

func readEnvelope(t *testing.T, ctx context.Context, ws *websocket.Conn) streamEnvelope {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode stream envelope: %v", err)
	}
	return env
}

func TestStreamSessionBackfillThenLive(t *testing.T) {
	f := newFixture(access.Policy{AnonymousHistory: time.Hour})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	// Seed history through the import pipeline.
	if rec := postImport(f.handler, testImportToken, importBody(1001)); rec.Code != http.StatusCreated {
		t.Fatalf("seed import: status %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + streamPath
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	if env := readEnvelope(t, ctx, ws); env.Type != "transmission" {
		t.Fatalf("backfill envelope type %q, want transmission", env.Type)
	}

	// Live delivery after the seam.
	if rec := postImport(f.handler, testImportToken, importBody(2002)); rec.Code != http.StatusCreated {
		t.Fatalf("live import: status %d", rec.Code)
	}
	if env := readEnvelope(t, ctx, ws); env.Type != "transmission" {
		t.Fatalf("live envelope type %q, want transmission", env.Type)
	}

	// Control channel: ping and subscribe acks.
	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if env := readEnvelope(t, ctx, ws); env.Type != "pong" {
		t.Fatalf("ping reply type %q, want pong", env.Type)
	}
	if err := ws.Write(ctx, websocket.MessageText,
		[]byte(`{"type":"subscribe","channel":"talkgroup:county-tg-3003"}`)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if env := readEnvelope(t, ctx, ws); env.Type != "subscribed" {
		t.Fatalf("subscribe reply type %q, want subscribed", env.Type)
	}
}
