// Package dashboardstream forwards outbox-published domain events to
// connected dashboard clients over a tenant-scoped websocket connection.
// It is fed only after internal/eventbus.Publish is called downstream of
// a committed outbox row — never a substitute for the durable path, so a
// dropped websocket frame never loses a domain event.
package dashboardstream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ocx/opscore/internal/auth"
	"github.com/ocx/opscore/internal/eventbus"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub upgrades incoming connections and relays each tenant's event-bus
// subscription to its sockets.
type Hub struct {
	bus    *eventbus.Bus
	issuer *auth.TokenIssuer
	logger zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHub builds a Hub bound to bus; issuer authenticates the upgrade
// handshake the same way requireAuth does for regular HTTP routes.
func NewHub(bus *eventbus.Bus, issuer *auth.TokenIssuer, logger zerolog.Logger) *Hub {
	return &Hub{
		bus:    bus,
		issuer: issuer,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // CORS is enforced upstream by the HTTP surface
		},
	}
}

// ServeHTTP upgrades the connection and streams every event published
// for the caller's tenant until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerOrQueryToken(r)
	if token == "" {
		http.Error(w, "missing access token", http.StatusUnauthorized)
		return
	}
	claims, err := h.issuer.ParseAccess(token)
	if err != nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("dashboard websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(claims.TenantID)
	defer h.bus.Unsubscribe(claims.TenantID, sub)

	go h.drainReads(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			frame, err := event.SSEFormat()
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainReads discards client frames (this stream is server-to-client
// only) but still needs to observe read errors/close frames promptly so
// the write loop above can exit on disconnect.
func (h *Hub) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func bearerOrQueryToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.URL.Query().Get("token")
}
