package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"futures-trading-agent/internal/presentation"
)

// handleHealth reports liveness and the state of each backing service
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.deps.Health))
	healthy := true
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// GET /api/status
func (s *Server) handleStatus(c *gin.Context) {
	out := gin.H{"ws_clients": s.hub.GetClientCount()}

	if s.deps.Scheduler != nil {
		out["scheduler"] = s.deps.Scheduler.Status()
	}
	if s.deps.Flags != nil {
		flags, err := s.deps.Flags.Read(c.Request.Context())
		if err != nil {
			out["flags_error"] = err.Error()
		}
		out["paused"] = flags.Paused
		out["emergency"] = flags.Emergency
	}
	if s.deps.Breaker != nil {
		out["circuit_breaker"] = s.deps.Breaker.Stats()
	}
	if s.deps.View != nil {
		out["summary"] = s.deps.View.View().Summary
	}
	successResponse(c, out)
}

// GET /api/view returns the whole presentation view
func (s *Server) handleView(c *gin.Context) {
	successResponse(c, s.deps.View.View())
}

// GET /api/positions
func (s *Server) handlePositions(c *gin.Context) {
	v := s.deps.View.View()
	successResponse(c, gin.H{
		"positions": v.Positions,
		"summary":   v.Summary,
	})
}

// GET /api/trades?symbol=BTCUSDT&limit=50&source=db
func (s *Server) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	symbol := strings.ToUpper(c.Query("symbol"))

	if c.Query("source") == "db" {
		if s.deps.History == nil {
			errorResponse(c, http.StatusServiceUnavailable, "trade history database not configured")
			return
		}
		trades, err := s.deps.History.RecentTrades(c.Request.Context(), symbol, limit)
		if err != nil {
			s.logger.WithError(err).Error("failed to load trade history")
			errorResponse(c, http.StatusInternalServerError, "failed to load trade history")
			return
		}
		successResponse(c, trades)
		return
	}

	rows := s.deps.View.Trades()
	out := make([]presentation.TradeRow, 0, limit)
	for _, r := range rows {
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	successResponse(c, out)
}

// GET /api/messages
func (s *Server) handleMessages(c *gin.Context) {
	successResponse(c, s.deps.View.Messages())
}

// GET /api/risk
func (s *Server) handleRisk(c *gin.Context) {
	if s.deps.Risk == nil {
		errorResponse(c, http.StatusNotFound, "risk gate not available")
		return
	}
	successResponse(c, s.deps.Risk.Stats())
}

// POST /api/control/pause
func (s *Server) handlePause(c *gin.Context) {
	s.setFlag(c, "pause", func(ctx context.Context) error { return s.deps.Flags.SetPaused(ctx, true) },
		"Trading paused by operator. Protective exits remain active.")
}

// POST /api/control/resume
func (s *Server) handleResume(c *gin.Context) {
	s.setFlag(c, "resume", func(ctx context.Context) error { return s.deps.Flags.SetPaused(ctx, false) },
		"Trading resumed by operator.")
}

// POST /api/control/emergency-close
func (s *Server) handleEmergencyClose(c *gin.Context) {
	s.setFlag(c, "emergency_close", func(ctx context.Context) error { return s.deps.Flags.SetEmergency(ctx, true) },
		"Emergency close requested. All positions will be closed next cycle.")
}

func (s *Server) setFlag(c *gin.Context, action string, set func(context.Context) error, message string) {
	who := s.operator(c)
	if err := set(c.Request.Context()); err != nil {
		s.logger.WithError(err).Error("control action failed", "action", action, "operator", who)
		errorResponse(c, http.StatusInternalServerError, "failed to set control flag: "+err.Error())
		return
	}
	s.logger.Warn("control action", "action", action, "operator", who)
	if s.deps.View != nil {
		s.deps.View.AddMessage("control", message)
	}
	flags, _ := s.deps.Flags.Read(c.Request.Context())
	successResponse(c, gin.H{
		"action":    action,
		"paused":    flags.Paused,
		"emergency": flags.Emergency,
	})
}

// POST /api/control/circuit-breaker/reset
func (s *Server) handleBreakerReset(c *gin.Context) {
	if s.deps.Breaker == nil {
		errorResponse(c, http.StatusNotFound, "circuit breaker not enabled")
		return
	}
	s.deps.Breaker.ForceReset()
	s.logger.Warn("circuit breaker reset", "operator", s.operator(c))
	successResponse(c, s.deps.Breaker.Stats())
}
