package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/domain"
	"github.com/dreamworksanimation/arras4-node/local_daemon/session"
)

// nodePrefix is the compatibility alias named in spec §6: "/node/1" is
// accepted and treated identically to the unprefixed path.
const nodePrefix = "/node/1"

// Server is the node agent's HTTP control surface (spec §6). Grounded
// on the teacher's LocalDaemonPrometheusManager HTTP bootstrap
// (gin.New, gin.Logger, cors.Default, http.Server), generalized from a
// single /prometheus route into the full session/tag/status route
// table, plus the ban-list gate on unmatched GETs (spec 4.H).
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener

	agent *NodeAgent
	log   logger.Logger
}

// NewServer builds the gin engine and registers every route named in
// spec §6, under both the bare path and the nodePrefix alias.
func NewServer(a *NodeAgent) *Server {
	s := &Server{agent: a}
	config.InitLogger(&s.log, s)

	s.engine = gin.New()
	s.engine.Use(gin.Logger())
	s.engine.Use(cors.Default())
	s.engine.NoRoute(s.handleUnmatched)

	for _, prefix := range []string{"", nodePrefix} {
		s.engine.GET(prefix+"/health", s.handleHealth)
		s.engine.GET(prefix+"/status", s.handleStatus)
		s.engine.GET(prefix+"/sessions", s.handleListSessions)
		s.engine.GET(prefix+"/sessions/:id/status", s.handleSessionStatus)
		s.engine.GET(prefix+"/sessions/:id/performance", s.handleSessionPerformance)
		s.engine.POST(prefix+"/sessions", s.handleCreateSession)
		s.engine.PUT(prefix+"/sessions/modify", s.handleModifySession)
		s.engine.PUT(prefix+"/sessions/:id/status", s.handleSignalSession)
		s.engine.DELETE(prefix+"/sessions/:id", s.handleDeleteSession)
	}

	s.engine.PUT("/registration", s.handleShutdownMode)
	s.engine.PUT("/status", s.handleShutdownMode)
	s.engine.PUT("/node/tags", s.handleUpdateTags)
	s.engine.DELETE("/node/tag/:name", s.handleDeleteTag)
	s.engine.DELETE("/node/tags", s.handleDeleteTag)
	s.engine.GET("/metrics", s.handleMetrics)

	return s
}

// Listen binds the configured port (0 lets the OS pick one) without
// starting to serve, so callers can learn the bound port before Serve
// blocks.
func (s *Server) Listen(port int) (int, error) {
	l, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return 0, err
	}
	s.listener = l
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Handler returns the underlying gin engine, for tests that want to
// drive the route table via httptest without binding a real port.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve blocks, serving HTTP on the listener bound by Listen.
func (s *Server) Serve() error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(s.listener)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// handleUnmatched implements the ban-list gate named in spec 4.H /
// error kind 7: an unmatched GET from a source already banned gets
// 429 without incrementing further; otherwise it's recorded, and gets
// 429 if that recording crosses the ban threshold, 404 if not.
func (s *Server) handleUnmatched(c *gin.Context) {
	addr := clientAddr(c)

	if c.Request.Method != http.MethodGet {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such route"})
		return
	}

	if s.agent.bans.IsBanned(addr) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many unknown requests from this source"})
		return
	}

	if s.agent.bans.RecordUnknown(addr) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many unknown requests from this source"})
		return
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "no such route"})
}

func clientAddr(c *gin.Context) string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.agent.checkHealth(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "DOWN", "info": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.agent.Status())
}

func (s *Server) handleMetrics(c *gin.Context) {
	s.agent.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleListSessions(c *gin.Context) {
	active := s.agent.sessions.ListActive()
	out := make([]string, 0, len(active))
	for _, id := range active {
		out = append(out, id.String())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) parseSessionId(c *gin.Context) (ids.SessionId, bool) {
	id, err := ids.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "malformed session id"})
		return ids.SessionId{}, false
	}
	return id, true
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	id, ok := s.parseSessionId(c)
	if !ok {
		return
	}
	status, err := s.agent.sessions.GetStatus(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSessionPerformance(c *gin.Context) {
	id, ok := s.parseSessionId(c)
	if !ok {
		return
	}
	perf, err := s.agent.sessions.GetPerformance(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (s *Server) handleCreateSession(c *gin.Context) {
	if s.agent.isClosed() {
		c.JSON(http.StatusConflict, gin.H{"error": domain.ErrNodeClosed.Error()})
		return
	}

	var def session.Definition
	id, ok := s.bindDefinition(c, &def)
	if !ok {
		return
	}

	resp, err := s.agent.sessions.Create(c.Request.Context(), id, def)
	if err != nil {
		if err == session.ErrShuttingDown || err == session.ErrAlreadyExists {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.agent.metrics.SessionsCreatedCounter.Inc()
	s.agent.metrics.ActiveSessionsGauge.Set(float64(len(s.agent.sessions.ListActive())))
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleModifySession(c *gin.Context) {
	var def session.Definition
	id, ok := s.bindDefinition(c, &def)
	if !ok {
		return
	}

	resp, err := s.agent.sessions.Modify(c.Request.Context(), id, def)
	if err != nil {
		status := http.StatusInternalServerError
		if err == session.ErrBusy {
			status = http.StatusConflict
		} else if strings.Contains(err.Error(), "no session") {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// bindDefinition decodes the request body into def and extracts the
// session id from its sole config entry (spec §6 session definition
// object is keyed by node id at the top level, each per-node entry wraps
// its config in a "config" object, and each config carries its own
// sessionId).
func (s *Server) bindDefinition(c *gin.Context, def *session.Definition) (ids.SessionId, bool) {
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return ids.SessionId{}, false
	}

	def.Config = make(map[string]session.Config)
	var sessionId ids.SessionId

	for k, v := range raw {
		if k == "routing" {
			if err := s.bindRouting(c, v, def); err != nil {
				return ids.SessionId{}, false
			}
			continue
		}

		var entry struct {
			Config session.Config `json:"config"`
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return ids.SessionId{}, false
		}
		def.Config[k] = entry.Config
		sessionId = entry.Config.SessionId
	}

	if sessionId.IsNull() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session definition missing sessionId"})
		return ids.SessionId{}, false
	}

	return sessionId, true
}

// bindRouting decodes the "routing" object, whose keys are either a
// session id (mapping to a session.Routing block) or the literal
// "messageFilter" (spec §6 session definition object: messageFilter
// sits alongside the per-session routing entries, not at the request's
// top level).
func (s *Server) bindRouting(c *gin.Context, raw json.RawMessage, def *session.Definition) error {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return err
	}

	def.Routing = make(map[string]session.Routing)
	for k, v := range entries {
		if k == "messageFilter" {
			if err := json.Unmarshal(v, &def.MessageFilter); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return err
			}
			continue
		}

		var routing session.Routing
		if err := json.Unmarshal(v, &routing); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return err
		}
		def.Routing[k] = routing
	}
	return nil
}

func (s *Server) handleSignalSession(c *gin.Context) {
	id, ok := s.parseSessionId(c)
	if !ok {
		return
	}

	var sig session.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.agent.sessions.Signal(id, sig); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id, ok := s.parseSessionId(c)
	if !ok {
		return
	}
	reason := c.GetHeader("X-Session-Delete-Reason")

	if err := s.agent.sessions.Delete(id, reason); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.agent.metrics.SessionsDeletedCounter.Inc()
	s.agent.metrics.ActiveSessionsGauge.Set(float64(len(s.agent.sessions.ListActive())))
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}

func (s *Server) handleShutdownMode(c *gin.Context) {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := domain.ShutdownMode(body.Status)
	switch mode {
	case domain.ShutdownModeShutdown, domain.ShutdownModeClose, domain.ShutdownModeUnregistered:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrInvalidShutdownMode.Error()})
		return
	}

	s.agent.setShutdownMode(mode)
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}

func (s *Server) handleUpdateTags(c *gin.Context) {
	var update map[string]string
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.agent.updateTags(update); err != nil {
		if err == domain.ErrUpdateAlreadyRunning {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}

func (s *Server) handleDeleteTag(c *gin.Context) {
	var names []string
	if name := c.Param("name"); name != "" {
		names = []string{name}
	} else if err := c.ShouldBindJSON(&names); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.agent.deleteTags(names); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "true"})
}
