// Package httpapi exposes the recorder import endpoint, the read API, and
// the websocket stream.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/trunkwatch/trunkwatch/errs"
	"github.com/trunkwatch/trunkwatch/internal/broadcast"
	"github.com/trunkwatch/trunkwatch/internal/history"
	"github.com/trunkwatch/trunkwatch/internal/identity"
	"github.com/trunkwatch/trunkwatch/internal/ingest"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	importPath         = "/api/v2/import_transmission"
	talkgroupsPath     = "/api/v2/talkgroups"
	transmissionsPath  = "/api/v2/transmissions"
	transcriptionsPath = "/api/v2/transcriptions"
	streamPath         = "/ws"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// TalkgroupLister lists the talkgroup catalog for the read API.
type TalkgroupLister interface {
	ListTalkgroups(ctx context.Context) ([]schema.Talkgroup, error)
}

// Options carries the handler's tunables.
type Options struct {
	// ImportToken authorizes recorder uploads. Empty disables the import
	// endpoint.
	ImportToken string

	// ImportRate bounds upload throughput in requests per second; zero
	// disables rate limiting.
	ImportRate  float64
	ImportBurst int

	BackfillLimit int
	WriteTimeout  time.Duration
}

type server struct {
	gateway     *ingest.Gateway
	broadcaster *broadcast.Broadcaster
	archive     history.Archive
	lister      TalkgroupLister
	resolver    identity.Resolver
	opts        Options
	limiter     *rate.Limiter
}

// NewHandler assembles the HTTP surface.
func NewHandler(
	gateway *ingest.Gateway,
	broadcaster *broadcast.Broadcaster,
	archive history.Archive,
	lister TalkgroupLister,
	resolver identity.Resolver,
	opts Options,
) http.Handler {
	if opts.BackfillLimit <= 0 {
		opts.BackfillLimit = history.DefaultBackfillLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	s := &server{
		gateway:     gateway,
		broadcaster: broadcaster,
		archive:     archive,
		lister:      lister,
		resolver:    resolver,
		opts:        opts,
	}
	if opts.ImportRate > 0 {
		burst := opts.ImportBurst
		if burst <= 0 {
			burst = int(opts.ImportRate)
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.ImportRate), burst)
	}

	mux := http.NewServeMux()
	mux.Handle(importPath, s.methodHandlers(map[string]handlerFunc{
		http.MethodPost: s.importTransmission,
	}))
	mux.Handle(talkgroupsPath, s.methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.listTalkgroups,
	}))
	mux.Handle(transmissionsPath, s.methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.listTransmissions,
	}))
	mux.Handle(transcriptionsPath, s.methodHandlers(map[string]handlerFunc{
		http.MethodPost: s.attachTranscription,
	}))
	mux.Handle(streamPath, s.methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.stream,
	}))
	return withCORS(mux)
}

func (s *server) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

// importTransmission handles recorder uploads.
func (s *server) importTransmission(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "import rate exceeded")
		return
	}
	if !s.importAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "missing or invalid import token")
		return
	}

	var req ingest.ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.gateway.Import(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"status":          "success",
		"transmission_id": res.TransmissionID,
		"created":         res.Created,
	})
}

// listTalkgroups returns the catalog, filtered by the caller's access.
func (s *server) listTalkgroups(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveOrReject(w, r)
	if !ok {
		return
	}
	talkgroups, err := s.lister.ListTalkgroups(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "talkgroup catalog unavailable")
		return
	}
	policy := s.broadcaster.Policy()
	visible := make([]schema.Talkgroup, 0, len(talkgroups))
	for _, tg := range talkgroups {
		if policy.PermitsTalkgroup(id, tg.Slug, tg.Public) {
			visible = append(visible, tg)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": visible})
}

// listTransmissions serves scoped history with the caller's look-back window
// applied.
func (s *server) listTransmissions(w http.ResponseWriter, r *http.Request) {
	id, ok := s.resolveOrReject(w, r)
	if !ok {
		return
	}
	scope, err := schema.ParseScopeKey(r.URL.Query().Get("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := s.opts.BackfillLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	policy := s.broadcaster.Policy()
	cutoff := policy.HistoryCutoff(id, time.Now())
	items, err := s.archive.FetchRecent(r.Context(), scope, cutoff, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	visible := make([]schema.Transmission, 0, len(items))
	for _, tx := range items {
		if policy.Permits(id, tx) {
			visible = append(visible, tx)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": visible})
}

type transcriptionPayload struct {
	TransmissionID string  `json:"transmission_id"`
	Text           string  `json:"text"`
	Automated      *bool   `json:"automated,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	Language       string  `json:"language,omitempty"`
}

// attachTranscription records a transcription for an existing transmission.
func (s *server) attachTranscription(w http.ResponseWriter, r *http.Request) {
	if !s.importAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "missing or invalid import token")
		return
	}
	var payload transcriptionPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	txID, err := uuid.Parse(strings.TrimSpace(payload.TransmissionID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "transmission_id must be a UUID")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	automated := payload.Automated == nil || *payload.Automated
	err = s.archive.AttachTranscription(r.Context(), schema.Transcription{
		TransmissionID: txID,
		Text:           payload.Text,
		Automated:      automated,
		Confidence:     payload.Confidence,
		Language:       payload.Language,
		CreatedAt:      time.Now().UTC(),
	})
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transmission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "transcription store unavailable")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
}

// importAuthorized checks "Authorization: Token <x>" against the configured
// import token with a constant-time compare.
func (s *server) importAuthorized(r *http.Request) bool {
	if s.opts.ImportToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Token") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.opts.ImportToken)) == 1
}

// subscriberToken extracts the caller credential from the Bearer header or
// the token query parameter.
func subscriberToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *server) resolveOrReject(w http.ResponseWriter, r *http.Request) (schema.Identity, bool) {
	id, err := s.resolver.Resolve(r.Context(), subscriberToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid subscriber token")
		return schema.Identity{}, false
	}
	return id, true
}

func decodeJSON(r *http.Request, target any) error {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(target); err != nil {
		return errors.New("malformed JSON body")
	}
	return nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	var e *errs.E
	if !errors.As(err, &e) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch e.Code {
	case errs.CodeInvalid:
		status = http.StatusBadRequest
	case errs.CodeAuth:
		status = http.StatusUnauthorized
	case errs.CodeNotFound:
		status = http.StatusNotFound
	case errs.CodeConflict:
		status = http.StatusConflict
	case errs.CodeRateLimited:
		status = http.StatusTooManyRequests
	case errs.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	if e.HTTP > 0 {
		status = e.HTTP
	}
	writeJSON(w, status, map[string]string{
		"status": "error",
		"error":  e.Message,
		"reason": string(e.Reason),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
