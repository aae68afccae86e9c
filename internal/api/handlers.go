package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"alpha-trade-engine/internal/database"
	"alpha-trade-engine/internal/events"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	code := http.StatusOK
	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			dbStatus = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":   statusWord(code),
		"database": dbStatus,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{"engine": s.engine.Status()}
	if s.bus != nil {
		resp["bus"] = s.bus.Status()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMonitors(c *gin.Context) {
	status := s.engine.Status()
	c.JSON(http.StatusOK, gin.H{
		"entry_monitors": status.EntryMonitors,
		"exit_monitors":  status.ExitMonitors,
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusOK, gin.H{"events": nil})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": s.bus.Recent(limit)})
}

func (s *Server) handleSignalIntake(c *gin.Context) {
	var signal database.Signal
	if err := c.ShouldBindJSON(&signal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal body"})
		return
	}
	if err := s.engine.IngestSignal(c.Request.Context(), &signal); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"signal_id": signal.ID, "status": signal.Status})
}

func (s *Server) handleWeightsReload(c *gin.Context) {
	if s.weights == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "scoring loader not configured"})
		return
	}
	if err := s.weights.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.bus != nil {
		s.bus.Publish("ops_server", events.EventConfigReloaded, nil)
	}
	s.logger.Info().Msg("Model weights reloaded")
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

func (s *Server) handleUnpause(c *gin.Context) {
	userID := c.Param("id")
	if err := s.engine.UnpauseUser(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unpaused", "user_id": userID})
}

type autoTradeRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAutoTrade(c *gin.Context) {
	userID := c.Param("id")
	var req autoTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := s.engine.ToggleAutoTrade(c.Request.Context(), userID, req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "enabled": req.Enabled})
}

func (s *Server) handleUserStats(c *gin.Context) {
	stats, err := s.engine.UserStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no stats for user"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleUserCredits(c *gin.Context) {
	if s.credits == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "credit service not configured"})
		return
	}
	userID := c.Param("id")
	balance, err := s.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balance": balance})
}

func (s *Server) handleUserConfig(c *gin.Context) {
	var cfg database.StrategyConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config body"})
		return
	}
	cfg.UserID = c.Param("id")
	if err := s.engine.CreateUserConfig(c.Request.Context(), &cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "user_id": cfg.UserID})
}
