package botbridge

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// OpsServer is the small operator-facing HTTP surface: health, metrics and
// dead-letter management. The platform's main API lives elsewhere; this
// surface exists so ops tooling can watch the bridge and replay dead letters.
type OpsServer struct {
	bridge   *Bridge
	replayer *Replayer
	metrics  http.Handler
}

// NewOpsServer builds the ops surface. metricsHandler serves the pull-based
// metrics exposition (see NewPrometheusMetrics); pass nil to omit the route.
func NewOpsServer(bridge *Bridge, metricsHandler http.Handler) *OpsServer {
	return &OpsServer{
		bridge:   bridge,
		replayer: bridge.Replayer(),
		metrics:  metricsHandler,
	}
}

// Router builds the gin engine with every ops route mounted.
func (s *OpsServer) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	router.GET("/dead-letters", s.listDeadLetters)
	router.GET("/dead-letters/:id", s.getDeadLetter)
	router.POST("/dead-letters/:id/replay", s.replayDeadLetter)

	return router
}

func (s *OpsServer) health(c *gin.Context) {
	report := s.bridge.Health(c.Request.Context())
	status := http.StatusOK
	if !report.Reachable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *OpsServer) listDeadLetters(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}
	records, err := s.bridge.DeadLetters().List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": deadLetterViews(records)})
}

func (s *OpsServer) getDeadLetter(c *gin.Context) {
	record, err := s.bridge.DeadLetters().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
		return
	}
	c.JSON(http.StatusOK, deadLetterView(*record))
}

type replayRequest struct {
	ActorUserID    int64 `json:"actor_user_id" binding:"required"`
	TimeoutSeconds int   `json:"timeout_seconds"`
}

func (s *OpsServer) replayDeadLetter(c *gin.Context) {
	var req replayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	result, err := s.replayer.Replay(c.Request.Context(), c.Param("id"), req.ActorUserID, timeout)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !result.Found {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead letter not found"})
		return
	}
	// A dead-lettered replay is still a handled outcome for the operator, not
	// a server error; the dead-letter id in the body is the handle to retry.
	c.JSON(http.StatusOK, result)
}

type deadLetterViewModel struct {
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	ActorUserID       int64       `json:"actor_user_id"`
	Payload           interface{} `json:"payload"`
	AttemptCommandIDs []string    `json:"attempt_command_ids"`
	AttemptCount      int         `json:"attempt_count"`
	Error             string      `json:"error"`
	FailedAt          time.Time   `json:"failed_at"`
}

func deadLetterView(r DeadLetterRecord) deadLetterViewModel {
	return deadLetterViewModel{
		ID:                r.ID,
		Type:              r.Type,
		ActorUserID:       r.ActorUserID,
		Payload:           r.Payload,
		AttemptCommandIDs: r.AttemptCommandIDs,
		AttemptCount:      r.AttemptCount,
		Error:             r.Error,
		FailedAt:          r.FailedAt,
	}
}

func deadLetterViews(records []DeadLetterRecord) []deadLetterViewModel {
	views := make([]deadLetterViewModel, 0, len(records))
	for _, r := range records {
		views = append(views, deadLetterView(r))
	}
	return views
}
