package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/trunkwatch/trunkwatch/internal/broadcast"
	"github.com/trunkwatch/trunkwatch/internal/observability"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// wsSink writes stream envelopes to one websocket. A mutex serializes the
// delivery loop and control acknowledgements onto the wire.
type wsSink struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

type streamEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (s *wsSink) Send(ctx context.Context, tx schema.Transmission) error {
	return s.write(ctx, streamEnvelope{Type: "transmission", Data: tx})
}

func (s *wsSink) write(ctx context.Context, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, raw)
}

type controlMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// stream upgrades the request and runs one subscriber session: resolve
// identity, subscribe, backfill, then pump live deliveries until the client
// goes away.
func (s *server) stream(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolver.Resolve(r.Context(), subscriberToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid subscriber token")
		return
	}
	scope := schema.GlobalScope()
	if raw := r.URL.Query().Get("scope"); raw != "" {
		scope, err = schema.ParseScopeKey(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}

	sink := &wsSink{conn: ws, timeout: s.opts.WriteTimeout}
	conn := s.broadcaster.NewConnection(id, sink)

	// Narrow scopes ride alongside the firehose so the main feed keeps
	// flowing while a talkgroup is focused.
	scopes := []schema.ScopeKey{scope}
	if scope.Kind != schema.ScopeGlobal {
		scopes = append(scopes, schema.GlobalScope())
	}
	s.broadcaster.Subscribe(conn, scopes...)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.Backfill(ctx, s.archive, scope, s.opts.BackfillLimit); err != nil {
		conn.Close()
		_ = ws.Close(websocket.StatusInternalError, "backfill unavailable")
		return
	}
	conn.Activate()

	go s.readControl(ctx, cancel, ws, sink, conn)

	conn.Run(ctx)
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// readControl consumes client control messages until the connection drops.
// A read error means the peer is gone; it cancels the delivery loop.
func (s *server) readControl(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, sink *wsSink, conn *broadcast.Connection) {
	defer cancel()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.ackError(ctx, sink, "malformed control message")
			continue
		}
		switch msg.Type {
		case "ping":
			_ = sink.write(ctx, streamEnvelope{Type: "pong"})
		case "subscribe":
			key, err := schema.ParseScopeKey(msg.Channel)
			if err != nil {
				s.ackError(ctx, sink, "unknown channel")
				continue
			}
			s.broadcaster.Subscribe(conn, key)
			_ = sink.write(ctx, streamEnvelope{Type: "subscribed", Data: key.String()})
		case "unsubscribe":
			key, err := schema.ParseScopeKey(msg.Channel)
			if err != nil {
				s.ackError(ctx, sink, "unknown channel")
				continue
			}
			s.broadcaster.Unsubscribe(conn, key)
			_ = sink.write(ctx, streamEnvelope{Type: "unsubscribed", Data: key.String()})
		default:
			s.ackError(ctx, sink, "unknown control type")
		}
	}
}

func (s *server) ackError(ctx context.Context, sink *wsSink, message string) {
	if err := sink.write(ctx, streamEnvelope{Type: "error", Data: message}); err != nil {
		observability.Log().Debug("control ack failed",
			observability.Field{Key: "error", Value: err.Error()})
	}
}
