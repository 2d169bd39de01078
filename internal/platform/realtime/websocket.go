package realtime

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medalert/medalert/internal/platform/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler serves the live alert stream over WebSocket.
type Handler struct {
	hub        *Hub
	buffer     int
	logger     zerolog.Logger
	upgrader   gorillawebsocket.Upgrader
	pingPeriod time.Duration
}

// NewHandler creates a stream handler whose subscriptions queue up to buffer
// events. allowedOrigins restricts the Origin header when non-empty.
func NewHandler(hub *Hub, buffer int, allowedOrigins []string, logger zerolog.Logger) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Handler{
		hub:    hub,
		buffer: buffer,
		logger: logger.With().Str("component", "alert-stream").Logger(),
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				if _, ok := origins["*"]; ok {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		pingPeriod: pingPeriod,
	}
}

// RegisterRoutes mounts the stream on g. It must be registered before any
// /alerts/:id route so the static path wins.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/alerts/stream", h.Stream)
}

// filterFor scopes the subscription to the caller's hospital. Query
// parameters can only narrow it.
func filterFor(c echo.Context, actor auth.Actor) (Filter, error) {
	f := Filter{HospitalID: actor.HospitalID, DepartmentID: c.QueryParam("department")}
	if f.HospitalID == "" {
		if !actor.HasAnyRole(auth.RoleAdmin) {
			return f, echo.NewHTTPError(http.StatusForbidden, "hospital scope required")
		}
		f.HospitalID = c.QueryParam("hospital")
	}
	if v := c.QueryParam("max_urgency"); v != "" {
		u, err := strconv.Atoi(v)
		if err != nil || u < 1 || u > 5 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "max_urgency must be between 1 and 5")
		}
		f.MaxUrgency = u
	}
	return f, nil
}

// Stream subscribes the caller, upgrades the connection, sends a
// connection.ready frame and then every matching event until the client goes
// away.
func (h *Handler) Stream(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	filter, err := filterFor(c, actor)
	if err != nil {
		return err
	}

	sub, err := h.hub.Subscribe(filter, h.buffer)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "stream unavailable")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.hub.Unsubscribe(sub)
		// Upgrade has already written the HTTP error.
		return nil
	}

	log := h.logger.With().
		Str("subscription_id", sub.ID).
		Str("user_id", actor.UserID).
		Str("hospital_id", filter.HospitalID).
		Logger()
	log.Info().Msg("stream connected")

	go h.writePump(sub, ws, log)
	h.readPump(sub, ws)
	log.Info().Msg("stream disconnected")
	return nil
}

// readPump discards client frames and returns once the peer is gone.
func (h *Handler) readPump(sub *Subscription, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unsubscribe(sub)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(sub *Subscription, ws *gorillawebsocket.Conn, log zerolog.Logger) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	write := func(ev Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("type", ev.Type).Msg("failed to marshal event")
			return true
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(gorillawebsocket.TextMessage, data) == nil
	}

	if !write(Event{ID: sub.ID, Type: TypeConnectionReady, Timestamp: time.Now().UTC()}) {
		return
	}

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if !write(ev) {
				return
			}
			if sub.TakeLagged() {
				log.Warn().Msg("subscriber lagged, events dropped")
				if !write(Event{ID: sub.ID, Type: TypeResyncRequired, Timestamp: time.Now().UTC()}) {
					return
				}
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
