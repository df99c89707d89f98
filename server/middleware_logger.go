// middleware_logger.go - Strukturierter Audit-Trail
//
// Jeder HTTP-Request erzeugt zwei zap-Eintraege: einen bei Admission
// (Request-Id, Methode, Pfad, Remote-Adresse) und einen bei Abschluss
// (Request-Id, Status, Latenz). Client-Id, Model und Prioritaet fehlen
// in diesen beiden Eintraegen. Jede abgeschlossene Inferenz erzeugt
// zusaetzlich einen Eintrag mit Request-Id, Client-Id, Model,
// Prioritaet, Token-Anzahl, Ausgang und Latenz. Abweisungen durch den
// Rate-Limiter erzeugen einen eigenen Warn-Eintrag; Scheduler-Abweisungen
// erscheinen nur im Abschluss-Eintrag mit ihrem Status.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestAudit emits the admission record and attaches a requestID and
// a start-time-based completion logger to the gin context.
func RequestAudit(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		logger.Info("request admitted",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote", c.ClientIP()),
		)

		c.Next()

		logger.Info("request completed",
			zap.String("request_id", requestID),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// LogInferenceOutcome records one completed inference's audit line.
// Called directly by handlers, since completion for streaming requests
// happens well after the admission log emitted by RequestAudit.
func LogInferenceOutcome(logger *zap.Logger, requestID, clientID, model string, priority string, tokens int, reason CloseReason, latency time.Duration) {
	logger.Info("inference completed",
		zap.String("request_id", requestID),
		zap.String("client_id", clientID),
		zap.String("model", model),
		zap.String("priority", priority),
		zap.Int("tokens", tokens),
		zap.String("reason", string(reason)),
		zap.Duration("latency", latency),
	)
}

// NewAuditLogger builds a zap.Logger configured the way the rest of
// the ambient stack expects: zap's development (console) config when
// debug is true, its production (JSON) config otherwise.
func NewAuditLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
