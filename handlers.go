package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"safe-route-server/geo"
	"safe-route-server/metrics"
	"safe-route-server/navigation"
	"safe-route-server/planner"
	"safe-route-server/risk"
	"safe-route-server/zonesource"
)

type server struct {
	cfg      Config
	planner  *planner.Planner
	zones    *zonesource.Store
	sessions *navigation.Registry
	metrics  *metrics.Registry
	logger   *slog.Logger
	started  time.Time
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		otelgin.Middleware("safe-route-server"),
		requestLogger(s.logger, s.metrics),
		cors.New(s.corsConfig()),
	)

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	if s.cfg.Server.RateLimit > 0 {
		api.Use(rateLimitMiddleware(newClientLimiter(s.cfg.Server.RateLimit, s.cfg.Server.RateWindow), s.metrics))
	}
	api.POST("/route", s.handleRoute)
	api.POST("/risk/analyze-risk", s.handleAnalyzeRisk)
	api.GET("/zones", s.handleZones)

	// position feeds post every 0.5-1 s for the whole drive, so sessions
	// stay outside the request limiter
	nav := r.Group("/api/navigation/sessions")
	nav.POST("", s.handleStartSession)
	nav.GET("/:id", s.handleGetSession)
	nav.POST("/:id/position", s.handlePosition)
	nav.PUT("/:id/route", s.handleReplaceRoute)
	nav.DELETE("/:id", s.handleStopSession)
	nav.GET("/:id/ws", s.handleSessionSocket)

	return r
}

func (s *server) corsConfig() cors.Config {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Content-Type", "Authorization", requestIDHeader}
	config.ExposeHeaders = []string{"Content-Length", requestIDHeader}
	if allowsAnyOrigin(s.cfg.Server.AllowedOrigins) {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = s.cfg.Server.AllowedOrigins
	config.AllowCredentials = true
	return config
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"nodes":    s.planner.Graph().NodeCount(),
		"zones":    len(s.zones.Zones()),
		"sessions": s.sessions.Len(),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

type routeRequest struct {
	StartLat     *float64 `json:"startLat" binding:"required,latitude"`
	StartLon     *float64 `json:"startLon" binding:"required,longitude"`
	EndLat       *float64 `json:"endLat" binding:"required,latitude"`
	EndLon       *float64 `json:"endLon" binding:"required,longitude"`
	Alternatives int      `json:"alternatives"`
}

type routeResponse struct {
	Success       bool            `json:"success"`
	Routes        []planner.Route `json:"routes"`
	SafePathIndex int             `json:"safePathIndex"`
	Message       string          `json:"message,omitempty"`
}

func (s *server) handleRoute(c *gin.Context) {
	var req routeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.planner.ComputeRoutes(c.Request.Context(), planner.Request{
		Start:        geo.Coordinate{Lat: *req.StartLat, Lon: *req.StartLon},
		End:          geo.Coordinate{Lat: *req.EndLat, Lon: *req.EndLon},
		Alternatives: req.Alternatives,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := routeResponse{Success: true, Routes: result.Routes, SafePathIndex: result.SafePathIndex}
	if len(result.Routes) == 0 {
		resp.Message = "no route found between these points"
	}
	c.JSON(http.StatusOK, resp)
}

type analyzeRiskRequest struct {
	Routes []struct {
		Geometry [][]float64 `json:"geometry" binding:"required"`
	} `json:"routes" binding:"required,dive"`
	Zones []risk.ZoneInput `json:"zones"`
}

type bestRoute struct {
	Index     int             `json:"index"`
	RiskScore float64         `json:"riskScore"`
	Details   risk.Assessment `json:"details"`
}

func (s *server) handleAnalyzeRisk(c *gin.Context) {
	var req analyzeRiskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	geometries := make([][]geo.Coordinate, len(req.Routes))
	for i, route := range req.Routes {
		coords, ok := planner.FromLatLonPairs(route.Geometry)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "route geometry must be a list of [lat, lon] pairs"})
			return
		}
		for _, p := range coords {
			if !p.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": planner.ErrInvalidCoordinate.Error()})
				return
			}
		}
		geometries[i] = coords
	}

	var zones []risk.Zone
	if req.Zones != nil {
		zones = risk.Normalize(req.Zones, s.loggerFor(c))
	}

	report, err := s.planner.EvaluateRisk(c.Request.Context(), geometries, zones)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := gin.H{
		"success":           true,
		"analysis":          report.Analysis,
		"safePathIndex":     report.SafePathIndex,
		"safePathRiskScore": report.SafePathRiskScore,
		"debug": gin.H{
			"proximityThreshold": report.ProximityThreshold,
			"totalZones":         report.TotalZones,
			"totalDetections":    report.TotalDetections,
		},
	}
	if report.SafePathIndex >= 0 {
		resp["bestRoute"] = bestRoute{
			Index:     report.SafePathIndex,
			RiskScore: report.SafePathRiskScore,
			Details:   report.Analysis[report.SafePathIndex],
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleZones(c *gin.Context) {
	zones := s.zones.Zones()
	if zones == nil {
		zones = []risk.Zone{}
	}
	c.JSON(http.StatusOK, gin.H{
		"zones":    zones,
		"count":    len(zones),
		"source":   s.zones.Source(),
		"loadedAt": s.zones.LoadedAt(),
	})
}

type startSessionRequest struct {
	Geometry       [][]float64 `json:"geometry" binding:"required,min=1"`
	DestinationLat *float64    `json:"destinationLat" binding:"required,latitude"`
	DestinationLon *float64    `json:"destinationLon" binding:"required,longitude"`
	Mode           string      `json:"mode" binding:"omitempty,oneof=live simulation"`
}

func (s *server) handleStartSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	geometry, ok := planner.FromLatLonPairs(req.Geometry)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "geometry must be a list of [lat, lon] pairs"})
		return
	}

	cfg := s.cfg.Navigation
	if req.Mode == "simulation" {
		cfg.ThresholdMeters = navigation.SimulationConfig().ThresholdMeters
	}
	destination := geo.Coordinate{Lat: *req.DestinationLat, Lon: *req.DestinationLon}

	sess, err := s.sessions.Start(planner.Route{Geometry: geometry}, destination, cfg)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.loggerFor(c).Info("navigation session started", "session_id", sess.ID(), "mode", req.Mode)
	c.JSON(http.StatusCreated, gin.H{
		"sessionId":       sess.ID(),
		"state":           sess.State(),
		"thresholdMeters": sess.Config().ThresholdMeters,
	})
}

func (s *server) session(c *gin.Context) (*navigation.Session, bool) {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return sess, true
}

func (s *server) handleGetSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

type positionRequest struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lon *float64 `json:"lon" binding:"required"`
}

func (s *server) handlePosition(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	update, err := sess.Track(c.Request.Context(), geo.Coordinate{Lat: *req.Lat, Lon: *req.Lon})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, update)
	case errors.Is(err, navigation.ErrNoAlternateRoute),
		errors.Is(err, navigation.ErrRecalculationTimeout),
		errors.Is(err, navigation.ErrRecalculationCancelled):
		// the session is back to monitoring on its previous route
		c.JSON(http.StatusOK, gin.H{
			"state":     update.State,
			"alerts":    update.Alerts,
			"deviation": update.Deviation,
			"warning":   err.Error(),
		})
	default:
		s.respondError(c, err)
	}
}

type replaceRouteRequest struct {
	Geometry [][]float64 `json:"geometry" binding:"required,min=1"`
}

func (s *server) handleReplaceRoute(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req replaceRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	geometry, ok := planner.FromLatLonPairs(req.Geometry)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "geometry must be a list of [lat, lon] pairs"})
		return
	}
	if err := sess.ReplaceRoute(planner.Route{Geometry: geometry}); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

func (s *server) handleStopSession(c *gin.Context) {
	if err := s.sessions.Stop(c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowsAnyOrigin(s.cfg.Server.AllowedOrigins) {
				return true
			}
			for _, o := range s.cfg.Server.AllowedOrigins {
				if strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

type positionMessage struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// handleSessionSocket streams session events to the client and feeds the
// positions it sends into the session.
func (s *server) handleSessionSocket(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	logger := s.loggerFor(c).With("session_id", sess.ID())

	upgrader := s.upgrader()
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	events, unsubscribe := sess.Subscribe(64)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	feed := make(chan geo.Coordinate, 16)
	go func() {
		defer cancel()
		defer close(feed)
		for {
			var msg positionMessage
			if err := ws.ReadJSON(&msg); err != nil {
				logger.Info("websocket client disconnected", "error", err.Error())
				return
			}
			select {
			case feed <- geo.Coordinate{Lat: msg.Lat, Lon: msg.Lon}:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		if err := sess.Run(ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("session feed stopped", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"),
					time.Now().Add(time.Second))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(ev); err != nil {
				logger.Warn("failed to write websocket event", "error", err)
				return
			}
		}
	}
}

func (s *server) loggerFor(c *gin.Context) *slog.Logger {
	return s.logger.With("request_id", c.GetString("request_id"), "handler", c.FullPath())
}

// respondError maps domain errors to HTTP statuses.
func (s *server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, planner.ErrInvalidCoordinate),
		errors.Is(err, navigation.ErrInvalidPosition),
		errors.Is(err, navigation.ErrEmptyRoute):
		status = http.StatusBadRequest
	case errors.Is(err, navigation.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, planner.ErrGraphNotLoaded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	_ = c.Error(err)
	if status == http.StatusInternalServerError {
		s.loggerFor(c).Error("request failed", "error", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
