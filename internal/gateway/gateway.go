// Package gateway exposes the clipboard history over HTTP on the loopback
// interface. Every command goes through the same ipc.Dispatcher as the UNIX
// socket; history changes are pushed to websocket clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/azzuriel/clipman/internal/errors"
	"github.com/azzuriel/clipman/internal/ipc"
	"github.com/azzuriel/clipman/internal/logging"
)

// Commands is the part of ipc.Dispatcher the routes call.
type Commands interface {
	List(ctx context.Context, args ipc.Args) ([]ipc.ItemView, error)
	Paste(ctx context.Context, id string) error
	Favorite(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) (int, error)
	Thumb(ctx context.Context, id string) (string, error)
}

// Gateway is the HTTP server.
type Gateway struct {
	addr   string
	cmds   Commands
	hub    *Hub
	engine *gin.Engine

	mu        sync.Mutex
	srv       *http.Server
	boundAddr string
	wg        sync.WaitGroup
}

// New builds the router. hub may be nil, in which case /api/events is not
// served.
func New(addr string, cmds Commands, hub *Hub) *Gateway {
	g := &Gateway{addr: addr, cmds: cmds, hub: hub}
	g.engine = g.router()
	return g
}

// Handler returns the router, for tests.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Addr returns the bound address once started.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boundAddr
}

func (g *Gateway) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(requestLogger(), gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/health", g.health)
		api.GET("/items", g.listItems)
		api.DELETE("/items", g.clearItems)
		api.POST("/items/:uuid/paste", g.pasteItem)
		api.POST("/items/:uuid/favorite", g.favoriteItem)
		api.DELETE("/items/:uuid", g.deleteItem)
		api.GET("/items/:uuid/thumb", g.thumb)
		if g.hub != nil {
			api.GET("/events", func(c *gin.Context) {
				g.hub.serveWS(c.Writer, c.Request)
			})
		}
	}

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("HTTP request", map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
	}
}

// Start binds the address and serves in the background. Only loopback
// addresses are accepted.
func (g *Gateway) Start() error {
	if err := checkLoopback(g.addr); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.addr, err)
	}

	srv := &http.Server{
		Handler:           g.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.mu.Lock()
	g.srv = srv
	g.boundAddr = ln.Addr().String()
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP gateway stopped", err, nil)
		}
	}()

	logging.Info("HTTP gateway listening", map[string]interface{}{"addr": ln.Addr().String()})
	return nil
}

// Stop shuts the server down and disconnects event clients.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.srv
	g.srv = nil
	g.mu.Unlock()

	if g.hub != nil {
		g.hub.Stop()
	}
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	g.wg.Wait()
	return err
}

func (g *Gateway) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "clipmand"})
}

func (g *Gateway) listItems(c *gin.Context) {
	args := ipc.Args{
		Filter: c.Query("filter"),
		Search: c.Query("search"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			fail(c, apperrors.New(apperrors.ErrInvalid, "Invalid limit: "+raw))
			return
		}
		args.Limit = limit
	}

	items, err := g.cmds.List(c.Request.Context(), args)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ipc.Response{Status: ipc.StatusOK, Data: items})
}

func (g *Gateway) pasteItem(c *gin.Context) {
	if err := g.cmds.Paste(c.Request.Context(), c.Param("uuid")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ipc.OK())
}

func (g *Gateway) favoriteItem(c *gin.Context) {
	fav, err := g.cmds.Favorite(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ipc.Response{Status: ipc.StatusOK, Data: gin.H{"favorite": fav}})
}

func (g *Gateway) deleteItem(c *gin.Context) {
	if err := g.cmds.Delete(c.Request.Context(), c.Param("uuid")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ipc.OK())
}

func (g *Gateway) clearItems(c *gin.Context) {
	n, err := g.cmds.Clear(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ipc.Response{Status: ipc.StatusOK, Data: gin.H{"removed": n}})
}

func (g *Gateway) thumb(c *gin.Context) {
	path, err := g.cmds.Thumb(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		fail(c, err)
		return
	}
	c.File(path)
}

func fail(c *gin.Context, err error) {
	status := statusFor(apperrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		logging.Error("HTTP command failed", err, map[string]interface{}{
			"path": c.Request.URL.Path,
		})
	}
	c.JSON(status, ipc.Fail(apperrors.Message(err)))
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrUnknownCommand:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrClipboard:
		return http.StatusBadGateway
	case apperrors.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid http address %q: %w", addr, err)
	}
	if !isLoopbackHost(host) {
		return fmt.Errorf("http address %q is not a loopback address", addr)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// checkOrigin accepts non-browser clients and pages served from loopback.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopbackHost(u.Hostname())
}
