package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Handler processes one request from the message channel.
type Handler interface {
	Handle(ctx context.Context, req domain.Request) domain.Response
}

// ServerConfig holds bridge server configuration.
type ServerConfig struct {
	AllowedOrigins []string      // glob patterns, e.g. chrome-extension://*
	WriteTimeout   time.Duration // per frame
	SendBuffer     int           // frames queued per connection
}

// DefaultServerConfig returns default bridge server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WriteTimeout: 5 * time.Second,
		SendBuffer:   64,
	}
}

// Server accepts extension and CLI connections. It dispatches their requests
// to a Handler, acts as the daemon's TabProvider by forwarding tab commands
// to the current tab host, and broadcasts profile updates.
type Server struct {
	config   ServerConfig
	origins  []glob.Glob
	upgrader websocket.Upgrader
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	handler   Handler
	onTabHost func(ctx context.Context)
	peers     map[*peer]struct{}
	tabHosts  []*peer // most recent last
	closed    bool
}

// NewServer creates a bridge server. Origins that fail to compile are an error.
func NewServer(config ServerConfig, logger *zap.Logger) (*Server, error) {
	defaults := DefaultServerConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = defaults.SendBuffer
	}

	s := &Server{
		config: config,
		logger: logger,
		peers:  make(map[*peer]struct{}),
	}
	for _, pattern := range config.AllowedOrigins {
		g, err := glob.Compile(strings.TrimRight(pattern, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid allowed origin %q: %w", pattern, err)
		}
		s.origins = append(s.origins, g)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// SetHandler sets the request handler. Requests arriving before it is set fail.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// OnTabHostConnected registers fn to run whenever a client becomes tab host.
func (s *Server) OnTabHostConnected(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTabHost = fn
}

// Routes returns the HTTP handler serving the WebSocket endpoint and a health check.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"clients": s.Clients()})
	})
	return mux
}

// checkOrigin admits clients without an Origin header (CLI) and browser
// contexts whose origin matches an allowed pattern.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, g := range s.origins {
		if g.Match(origin) {
			return true
		}
	}
	s.logger.Warn("rejected connection from origin", zap.String("origin", origin))
	return false
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	var p *peer
	p = newPeer(ws, func(ctx context.Context, f frame) *frame {
		return s.serve(ctx, p, f)
	}, s.config.SendBuffer, s.config.WriteTimeout, &s.wg, s.logger)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("client connected", zap.String("peer", p.id), zap.String("origin", r.Header.Get("Origin")))

	p.run(s.ctx)

	s.mu.Lock()
	delete(s.peers, p)
	s.removeTabHostLocked(p)
	s.mu.Unlock()
	s.logger.Info("client disconnected", zap.String("peer", p.id))
}

func (s *Server) serve(ctx context.Context, p *peer, f frame) *frame {
	if f.Action == ActionHello {
		return s.hello(p, f)
	}

	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return errorFrame(errors.New("daemon is starting"))
	}
	return replyFrame(h.Handle(ctx, domain.Request{Action: f.Action, Body: f.Body}))
}

func (s *Server) hello(p *peer, f frame) *frame {
	var body HelloBody
	if len(f.Body) > 0 {
		if err := json.Unmarshal(f.Body, &body); err != nil {
			return errorFrame(fmt.Errorf("malformed Hello body: %w", err))
		}
	}

	reply := replyFrame(domain.Response{Body: HelloReply{ClientID: p.id}})
	if !body.TabHost {
		return reply
	}

	s.mu.Lock()
	s.removeTabHostLocked(p)
	s.tabHosts = append(s.tabHosts, p)
	hook := s.onTabHost
	s.mu.Unlock()
	s.logger.Info("tab host connected", zap.String("peer", p.id))

	if hook != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			hook(s.ctx)
		}()
	}
	return reply
}

func (s *Server) removeTabHostLocked(p *peer) {
	for i, h := range s.tabHosts {
		if h == p {
			s.tabHosts = append(s.tabHosts[:i:i], s.tabHosts[i+1:]...)
			return
		}
	}
}

func (s *Server) tabHost() (*peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tabHosts) == 0 {
		return nil, domain.ErrNoTabHost
	}
	return s.tabHosts[len(s.tabHosts)-1], nil
}

// ListOpenTabs asks the tab host for every open tab.
func (s *Server) ListOpenTabs(ctx context.Context) ([]domain.Tab, error) {
	host, err := s.tabHost()
	if err != nil {
		return nil, err
	}
	var tabs []domain.Tab
	if err := host.call(ctx, ActionListTabs, nil, &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

// GetTab asks the tab host for one tab. Fails if the tab is closed.
func (s *Server) GetTab(ctx context.Context, id int) (*domain.Tab, error) {
	host, err := s.tabHost()
	if err != nil {
		return nil, err
	}
	var tab domain.Tab
	if err := host.call(ctx, ActionGetTab, id, &tab); err != nil {
		return nil, err
	}
	return &tab, nil
}

// UpdateTabURL asks the tab host to navigate a tab.
func (s *Server) UpdateTabURL(ctx context.Context, id int, newURL string) error {
	host, err := s.tabHost()
	if err != nil {
		return err
	}
	return host.call(ctx, ActionUpdateTab, UpdateTabBody{ID: id, URL: newURL}, nil)
}

// NotifyProfilesUpdated broadcasts the profile list to every client.
// Slow clients miss the update rather than stall the daemon.
func (s *Server) NotifyProfilesUpdated(profiles []*domain.Profile) {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		if err := p.notify(domain.ActionNotifyProfilesUpdated, profiles); err != nil {
			s.logger.Warn("failed to notify client", zap.String("peer", p.id), zap.Error(err))
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close disconnects every client and waits for their goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	s.cancel()
	for _, p := range peers {
		p.close()
	}
	s.wg.Wait()
	return nil
}

// Ensure Server implements the daemon's ports.
var (
	_ domain.TabProvider = (*Server)(nil)
	_ domain.Notifier    = (*Server)(nil)
)
