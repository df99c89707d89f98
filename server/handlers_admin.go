// handlers_admin.go - /health, /models, /metrics, /status
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	if s.draining.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "draining",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.activeConns.Load(),
		"streams":     s.Streams.Count(),
	})
}

func (s *Server) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.Registry.List()})
}

func (s *Server) handleMetrics(c *gin.Context) {
	models := s.Metrics.Models()
	summaries := make([]ModelMetricsSummary, 0, len(models))
	for _, m := range models {
		summaries = append(summaries, s.Metrics.Summary(m))
	}
	c.JSON(http.StatusOK, gin.H{"models": summaries})
}

// handleStatus returns a composite debug view: per-model per-priority
// queue depths, the full registry contents, live connection and
// stream counts, and uptime. One snapshot endpoint for operators
// instead of four curl calls.
func (s *Server) handleStatus(c *gin.Context) {
	type queueStatus struct {
		Model  string `json:"model"`
		High   int    `json:"high"`
		Normal int    `json:"normal"`
		Low    int    `json:"low"`
	}

	names := s.Scheduler.Models()
	queues := make([]queueStatus, 0, len(names))
	for _, name := range names {
		high, normal, low := s.Scheduler.QueueDepths(name)
		queues = append(queues, queueStatus{Model: name, High: high, Normal: normal, Low: low})
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime_s":    s.Uptime().Seconds(),
		"connections": s.activeConns.Load(),
		"streams":     s.Streams.Count(),
		"draining":    s.draining.Load(),
		"models":      s.Registry.List(),
		"queues":      queues,
	})
}
