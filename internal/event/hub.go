// Package event streams execution summaries to browsers over server-sent events.
package event

import (
	"context"
	"net/http"

	"github.com/alexandrevicenzi/go-sse"
	"github.com/goccy/go-json"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const channel = "queries"

// Hub fans out query summaries to every connected client
type Hub struct {
	srv *sse.Server
	log zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		srv: sse.NewServer(&sse.Options{
			Headers: map[string]string{
				"Cache-Control": "no-store",
			},
			ChannelNameFunc: func(*http.Request) string { return channel },
		}),
		log: log.With().Str("component", "event").Logger(),
	}
}

func (h *Hub) RegisterHandlers(g *echo.Group) {
	g.GET("", echo.WrapHandler(h.srv))
}

// Clients reports how many subscribers are connected
func (h *Hub) Clients() int {
	return h.srv.ClientCount()
}

// Publish sends data as a JSON event of type typ
func (h *Hub) Publish(id, typ string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	h.srv.SendMessage(channel, sse.NewMessage(id, string(b), typ))
	return nil
}

// Observe publishes a finished query
func (h *Hub) Observe(_ context.Context, s query.Summary) {
	if err := h.Publish(s.ID, "query", s); err != nil {
		h.log.Warn().Err(err).Str("id", s.ID).Msg("failed to publish summary")
	}
}

func (h *Hub) Shutdown() {
	h.srv.Shutdown()
}
