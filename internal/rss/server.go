package rss

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tg_forwarder/internal/model"
)

// ConfigSource looks up per-rule feed configuration.
type ConfigSource interface {
	GetRSSConfig(ctx context.Context, ruleID int64) (*model.RSSConfig, error)
}

// DefaultMaxItems caps rules without an explicit RSS config.
const DefaultMaxItems = 50

// Server exposes the entry store over HTTP: the feed and media endpoints
// are public, the mutating API is restricted to loopback and private
// networks.
type Server struct {
	store        *Store
	configs      ConfigSource
	baseURL      string
	mediaBaseURL string
	log          *slog.Logger
	engine       *gin.Engine
}

// NewServer wires the routes onto a gin engine.
func NewServer(store *Store, configs ConfigSource, baseURL, mediaBaseURL string, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		store:        store,
		configs:      configs,
		baseURL:      baseURL,
		mediaBaseURL: mediaBaseURL,
		log:          log,
		engine:       gin.New(),
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/rss/feed/:rule_id", s.handleFeed)
	s.engine.GET("/media/:rule_id/:filename", s.handleMedia)

	api := s.engine.Group("/api")
	api.GET("/entries/:rule_id", s.handleList)
	api.POST("/entries/:rule_id/add", s.requireLocal, s.handleAdd)
	api.DELETE("/entries/:rule_id/:entry_id", s.requireLocal, s.handleDelete)
	api.DELETE("/rule/:rule_id", s.requireLocal, s.handleDeleteRule)

	return s
}

// Handler returns the HTTP handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves HTTP until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireLocal rejects requests from public networks with 403.
func (s *Server) requireLocal(c *gin.Context) {
	ip := net.ParseIP(c.ClientIP())
	if ip == nil || !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"status": "error", "message": "forbidden"})
		return
	}
	c.Next()
}

func (s *Server) ruleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("rule_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid rule id"})
		return 0, false
	}
	return id, true
}

func (s *Server) ruleConfig(c *gin.Context, ruleID int64) *model.RSSConfig {
	cfg, err := s.configs.GetRSSConfig(c.Request.Context(), ruleID)
	if err != nil {
		s.log.Error("load rss config", "rule_id", ruleID, "error", err)
	}
	if cfg == nil {
		cfg = &model.RSSConfig{RuleID: ruleID, MaxItems: DefaultMaxItems}
	}
	return cfg
}

func (s *Server) handleFeed(c *gin.Context) {
	ruleID, ok := s.ruleID(c)
	if !ok {
		return
	}
	entries, err := s.store.List(ruleID)
	if err != nil {
		s.log.Error("list entries", "rule_id", ruleID, "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	feed, err := s.store.RenderFeed(s.ruleConfig(c, ruleID), entries, s.baseURL, s.mediaBaseURL)
	if err != nil {
		s.log.Error("render feed", "rule_id", ruleID, "error", err)
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", feed)
}

func (s *Server) handleMedia(c *gin.Context) {
	ruleID, ok := s.ruleID(c)
	if !ok {
		return
	}
	path := s.store.MediaPath(ruleID, c.Param("filename"))
	if _, err := os.Stat(path); err != nil {
		c.String(http.StatusNotFound, "not found")
		return
	}
	c.Header("Content-Type", mimeByName(path))
	c.File(path)
}

func (s *Server) handleList(c *gin.Context) {
	ruleID, ok := s.ruleID(c)
	if !ok {
		return
	}
	entries, err := s.store.List(ruleID)
	if err != nil {
		s.log.Error("list entries", "rule_id", ruleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	limit := intQuery(c, "limit", len(entries))
	offset := intQuery(c, "offset", 0)
	if offset > len(entries) {
		offset = len(entries)
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "entries": entries[offset:end], "total": len(entries)})
}

func (s *Server) handleAdd(c *gin.Context) {
	ruleID, ok := s.ruleID(c)
	if !ok {
		return
	}
	var entry Entry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid entry: " + err.Error()})
		return
	}
	cfg := s.ruleConfig(c, ruleID)
	if err := s.store.Add(ruleID, &entry, cfg.MaxItems); err != nil {
		s.log.Error("add entry", "rule_id", ruleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": entry.ID})
}

func (s *Server) handleDelete(c *gin.Context) {
	ruleID, ok := s.ruleID(c)
	if !ok {
		return
	}
	err := s.store.Delete(ruleID, c.Param("entry_id"))
	if errors.Is(err, ErrEntryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "entry not found"})
		return
	}
	if err != nil {
		s.log.Error("delete entry", "rule_id", ruleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) handleDeleteRule(c *gin.Context) {
	ruleID, ok := s.ruleID(c)
	if !ok {
		return
	}
	if err := s.store.DeleteRule(ruleID); err != nil {
		s.log.Error("delete rule entries", "rule_id", ruleID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
