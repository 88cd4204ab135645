package renewal

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusResponse is the body of GET /v1/renewal/status.
type StatusResponse struct {
	Statistics   StatsSnapshot `json:"statistics"`
	NextRunMs    int64         `json:"next_run_ms"`
	Scheduled    bool          `json:"scheduled"`
	BreakerState string        `json:"breaker_state,omitempty"`
}

// StatusService exposes read-only engine state over HTTP.
type StatusService struct {
	engine  *Engine
	breaker func() string
}

// NewStatusService creates the status API. breaker may be nil.
func NewStatusService(engine *Engine, breaker func() string) *StatusService {
	if engine == nil {
		panic("renewal: engine must not be nil")
	}
	return &StatusService{engine: engine, breaker: breaker}
}

// RegisterRoutes registers the status route.
func (s *StatusService) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/renewal/status", s.StatusHandler)
}

// StatusHandler returns counters, last-error state and the pending schedule. No side effects.
func (s *StatusService) StatusHandler(c *gin.Context) {
	delay, scheduled := s.engine.NextRun()
	resp := StatusResponse{
		Statistics: s.engine.Stats().Snapshot(),
		NextRunMs:  delay.Milliseconds(),
		Scheduled:  scheduled,
	}
	if s.breaker != nil {
		resp.BreakerState = s.breaker()
	}
	c.JSON(http.StatusOK, resp)
}
