package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"flow-analytics-service/internal/analytics"
	"flow-analytics-service/internal/auth"
	"flow-analytics-service/internal/domain/flow"
	"flow-analytics-service/internal/service"
)

type Handler struct {
	flowService *service.FlowService
	auth        *auth.Manager
	limiter     *rate.Limiter
	gatherer    prometheus.Gatherer
	log         zerolog.Logger
}

// NewHandler wires the API. A nil limiter disables ingest throttling and a
// nil gatherer serves the default registry.
func NewHandler(
	flowService *service.FlowService,
	authManager *auth.Manager,
	limiter *rate.Limiter,
	gatherer prometheus.Gatherer,
	log zerolog.Logger,
) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		flowService: flowService,
		auth:        authManager,
		limiter:     limiter,
		gatherer:    gatherer,
		log:         log.With().Str("component", "http").Logger(),
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/events", h.rateLimit(), h.createEvent)
		public.POST("/auth/login", h.login)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/dashboard", h.dashboard)
		protected.GET("/sessions", h.listSessions)
		protected.GET("/alerts", h.listAlerts)
		protected.GET("/insights", h.insights)
		protected.GET("/vehicles/search", h.searchVehicles)
		protected.GET("/vehicles/:plate", h.vehicleInsight)
		protected.GET("/watchlist", h.watchlist)
		protected.POST("/watchlist", h.addToWatchlist)
		protected.DELETE("/watchlist/:plate", h.removeFromWatchlist)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter != nil && !h.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse("rate limit exceeded"))
			return
		}
		c.Next()
	}
}

func (h *Handler) createEvent(c *gin.Context) {
	var payload flow.EventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.flowService.ProcessIncomingEvent(c.Request.Context(), payload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "ok",
		"event_id":    result.EventID,
		"plate":       result.Plate,
		"location":    result.Location,
		"watchlisted": result.Watchlisted,
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	token, expiresAt, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.Warn().Str("username", req.Username).Msg("failed login")
			c.JSON(http.StatusUnauthorized, errorResponse(err.Error()))
			return
		}
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{
		"token":      token,
		"expires_at": expiresAt,
	}))
}

// query reads the range and the view filters shared by every
// analytics endpoint.
func (h *Handler) query(c *gin.Context) (service.Query, error) {
	r, err := h.flowService.ResolveRange(
		strings.TrimSpace(c.Query("range")),
		strings.TrimSpace(c.Query("from")),
		strings.TrimSpace(c.Query("to")),
	)
	if err != nil {
		return service.Query{}, err
	}
	return service.Query{
		Range:       r,
		Plate:       strings.TrimSpace(c.Query("plate")),
		VehicleType: strings.TrimSpace(c.Query("vehicle_type")),
		Location:    strings.TrimSpace(c.Query("location")),
		Color:       strings.TrimSpace(c.Query("color")),
	}, nil
}

func (h *Handler) dashboard(c *gin.Context) {
	q, err := h.query(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var g analytics.Granularity
	if raw := c.Query("granularity"); raw != "" {
		if g, err = analytics.ParseGranularity(raw); err != nil {
			h.handleError(c, err)
			return
		}
	}

	dashboard, err := h.flowService.Dashboard(c.Request.Context(), q, g)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(dashboard))
}

func (h *Handler) listSessions(c *gin.Context) {
	q, err := h.query(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	filter := service.SessionFilter{
		Search:      strings.TrimSpace(c.Query("search")),
		Status:      flow.SessionStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		EntryGate:   strings.TrimSpace(c.Query("entry_gate")),
		FlowPattern: strings.TrimSpace(c.Query("flow_pattern")),
		Sort:        strings.TrimSpace(c.Query("sort")),
	}
	// Type and colour act as row filters here so the facets still list every
	// value.
	filter.VehicleType, q.VehicleType = q.VehicleType, ""
	filter.Color, q.Color = q.Color, ""

	page := service.Page{}
	if p := c.Query("page"); p != "" {
		if parsed, err := parseInt(p); err == nil && parsed > 0 {
			page.Number = parsed
		}
	}
	if s := c.Query("page_size"); s != "" {
		if parsed, err := parseInt(s); err == nil && parsed > 0 {
			page.Size = parsed
		}
	}

	sessions, err := h.flowService.Sessions(c.Request.Context(), q, filter, page)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(sessions))
}

func (h *Handler) listAlerts(c *gin.Context) {
	q, err := h.query(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	alertType := flow.AlertType(strings.ToUpper(strings.TrimSpace(c.Query("type"))))
	alerts, err := h.flowService.Alerts(c.Request.Context(), q, alertType)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(alerts))
}

func (h *Handler) insights(c *gin.Context) {
	q, err := h.query(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	insights, err := h.flowService.Insights(c.Request.Context(), q)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(insights))
}

func (h *Handler) searchVehicles(c *gin.Context) {
	search := strings.TrimSpace(c.Query("q"))
	if search == "" {
		c.JSON(http.StatusBadRequest, errorResponse("q parameter is required"))
		return
	}

	q, err := h.query(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	vehicles, err := h.flowService.SearchVehicles(c.Request.Context(), q, search)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(vehicles))
}

func (h *Handler) vehicleInsight(c *gin.Context) {
	q, err := h.query(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	detail, err := h.flowService.VehicleInsight(c.Request.Context(), q, c.Param("plate"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(detail))
}

// watchlist lists watched vehicles with their activity over the range.
func (h *Handler) watchlist(c *gin.Context) {
	q, err := h.query(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	items, err := h.flowService.WatchlistOverview(c.Request.Context(), q)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(items))
}

type watchlistRequest struct {
	Plate string `json:"plate" binding:"required"`
	Note  string `json:"note"`
}

func (h *Handler) addToWatchlist(c *gin.Context) {
	var req watchlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	entry, err := h.flowService.AddToWatchlist(c.Request.Context(), req.Plate, req.Note, auth.Username(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(entry))
}

func (h *Handler) removeFromWatchlist(c *gin.Context) {
	if err := h.flowService.RemoveFromWatchlist(c.Request.Context(), c.Param("plate")); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, analytics.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
