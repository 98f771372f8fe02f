// Package api serves the query tool and its operational views over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/felixge/fgprof"
	"github.com/goccy/go-json"
	"github.com/kaz/mysqlquery/internal/history"
	"github.com/kaz/mysqlquery/internal/pool"
	"github.com/kaz/mysqlquery/internal/profile"
	"github.com/kaz/mysqlquery/internal/query"
	"github.com/kaz/mysqlquery/internal/tool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const defaultHistoryLimit = 50

type (
	Invoker interface {
		Invoke(ctx context.Context, args map[string]any) tool.Result
	}

	HistoryReader interface {
		List(limit int) ([]history.Entry, error)
		Digest(top int) (history.Digest, error)
	}

	PoolStater interface {
		Stats() []pool.SourceStats
	}

	ProfileLister interface {
		List() []profile.Profile
	}

	// EventHandlers mounts the event stream
	EventHandlers interface {
		RegisterHandlers(g *echo.Group)
	}

	Deps struct {
		Tool     Invoker
		History  HistoryReader
		Pools    PoolStater
		Profiles ProfileLister
		Events   EventHandlers
	}
)

type Server struct {
	e    *echo.Echo
	deps Deps
	log  zerolog.Logger
}

func New(deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		e:    echo.New(),
		deps: deps,
		log:  log.With().Str("component", "api").Logger(),
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.JSONSerializer = serializer{}
	s.e.Use(middleware.Recover())
	s.e.Use(s.requestLog)

	s.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.e.GET("/debug/fgprof", echo.WrapHandler(fgprof.Handler()))

	api := s.e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("Cache-Control", "no-store")
			return next(c)
		}
	})
	api.POST("/query", s.runQuery)
	api.GET("/history", s.listHistory)
	api.GET("/history/digest", s.historyDigest)
	api.GET("/pools", s.listPools)
	api.GET("/connections", s.listConnections)
	api.GET("/health", s.health)
	if deps.Events != nil {
		deps.Events.RegisterHandlers(api.Group("/event"))
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("starting api server")
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// StatusFor maps an error kind to the HTTP status returned for it
func StatusFor(kind query.Kind) int {
	switch kind {
	case query.KindValidation:
		return http.StatusBadRequest
	case query.KindConnectivity:
		return http.StatusServiceUnavailable
	case query.KindExecution:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) runQuery(c echo.Context) error {
	args := map[string]any{}
	if err := json.NewDecoder(c.Request().Body).Decode(&args); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("failed to decode request: %v", err))
	}

	res := s.deps.Tool.Invoke(c.Request().Context(), args)
	status := http.StatusOK
	if res.IsError {
		status = StatusFor(res.Kind)
	}
	return c.Blob(status, echo.MIMEApplicationJSON, []byte(res.Text))
}

func (s *Server) listHistory(c echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid limit: %q", raw))
		}
		limit = n
	}

	if s.deps.History == nil {
		return echo.NewHTTPError(http.StatusNotFound, history.ErrDisabled.Error())
	}
	entries, err := s.deps.History.List(limit)
	if errors.Is(err, history.ErrDisabled) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to read history: %v", err))
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) historyDigest(c echo.Context) error {
	top := history.DefaultTopPatterns
	if raw := c.QueryParam("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid top: %q", raw))
		}
		top = n
	}

	if s.deps.History == nil {
		return echo.NewHTTPError(http.StatusNotFound, history.ErrDisabled.Error())
	}
	d, err := s.deps.History.Digest(top)
	if errors.Is(err, history.ErrDisabled) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to digest history: %v", err))
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) listPools(c echo.Context) error {
	if s.deps.Pools == nil {
		return c.JSON(http.StatusOK, []pool.SourceStats{})
	}
	return c.JSON(http.StatusOK, s.deps.Pools.Stats())
}

func (s *Server) listConnections(c echo.Context) error {
	if s.deps.Profiles == nil {
		return c.JSON(http.StatusOK, []profile.Profile{})
	}
	return c.JSON(http.StatusOK, s.deps.Profiles.List())
}

func (s *Server) health(c echo.Context) error {
	pools := 0
	if s.deps.Pools != nil {
		pools = len(s.deps.Pools.Stats())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"pools":  pools,
	})
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.log.Debug().
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Int("status", c.Response().Status).
			Msg("request")
		return nil
	}
}
