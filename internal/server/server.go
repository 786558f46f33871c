// Package server implements the ScamShield host server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/scamshield/scamshield/internal/bridge"
	"github.com/scamshield/scamshield/internal/config"
	"github.com/scamshield/scamshield/internal/core"
	"github.com/scamshield/scamshield/internal/proxy"
)

// analyzeRoute maps a public analysis endpoint onto an analyzer service and
// the path the analyzer exposes for it.
type analyzeRoute struct {
	service   string
	childPath string
}

// analyzeRoutes is the fixed public API surface. Every route is registered
// unconditionally so a configuration reload can enable an analyzer that was
// absent at boot; requests for an unconfigured service answer with the
// gateway's unknown-service error.
var analyzeRoutes = map[string]analyzeRoute{
	"/api/analyze/message": {service: "fraud-detector", childPath: "/detect"},
	"/api/analyze/image":   {service: "deepfake-detector", childPath: "/analyze"},
}

// ScamShieldServer stores the state and dependencies for the ScamShield host
// server: the public HTTP API and one bridge per analyzer service.
type ScamShieldServer struct {
	config     *config.Config
	configPath string
	echo       *echo.Echo
	gateway    *proxy.Gateway
	clock      clockwork.Clock
	mu         sync.RWMutex
	bridges    *xsync.MapOf[string, *bridge.Bridge] // the key here is the service name
	apiRoutes  mapset.Set[string]                   // analysis routes whose service is currently configured
}

// Interface guard: the server is the gateway's service directory.
var _ proxy.ServiceDirectory = &ScamShieldServer{}

// NewScamShieldServer creates a new ScamShieldServer instance
func NewScamShieldServer(cfg *config.Config, configPath string) *ScamShieldServer {
	return NewScamShieldServerWithClock(cfg, configPath, clockwork.NewRealClock())
}

// NewScamShieldServerWithClock creates a server with a custom clock.
// This is useful for testing with a fake clock.
func NewScamShieldServerWithClock(cfg *config.Config, configPath string, clock clockwork.Clock) *ScamShieldServer {
	s := &ScamShieldServer{
		config:     cfg,
		configPath: configPath,
		clock:      clock,
		bridges:    xsync.NewMapOf[string, *bridge.Bridge](),
		apiRoutes:  mapset.NewSet[string](),
	}
	s.gateway = proxy.NewGatewayWithClock(s, clock)
	s.rebuildBridges()
	s.echo = s.buildRouter()
	return s
}

// Lookup returns the bridge for a service name.
func (s *ScamShieldServer) Lookup(name string) (*bridge.Bridge, bool) {
	return s.bridges.Load(name)
}

// Names returns the names of all registered services.
func (s *ScamShieldServer) Names() []string {
	names := make([]string, 0, s.bridges.Size())
	s.bridges.Range(func(name string, _ *bridge.Bridge) bool {
		names = append(names, name)
		return true
	})
	return names
}

// rebuildBridges replaces the bridge registry from the current configuration.
// Existing bridges are stopped first so no child process is orphaned.
func (s *ScamShieldServer) rebuildBridges() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAllBridgesLocked()
	s.apiRoutes.Clear()

	if len(s.config.Services) == 0 {
		zap.L().Warn("No analyzer services configured",
			zap.String("hint", "Add services to the configuration file to enable analysis endpoints"))
		return
	}

	for name, svc := range s.config.Services {
		zap.L().Info("Registering analyzer service",
			zap.String("service", name),
			zap.String("script", svc.Script),
			zap.Int("port", svc.Port),
			zap.Bool("external", svc.ExternalURL != ""))
		s.bridges.Store(name, bridge.NewWithClock(svc, s.clock))
	}

	for path, route := range analyzeRoutes {
		if _, ok := s.bridges.Load(route.service); ok {
			s.apiRoutes.Add(path)
		} else {
			zap.L().Debug("Analysis route has no configured service",
				zap.String("path", path),
				zap.String("service", route.service))
		}
	}
}

// buildRouter wires the public API routes onto a fresh echo instance.
func (s *ScamShieldServer) buildRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.requestLogger())
	e.Use(s.panicRecovery())

	e.GET("/health", s.handleHealth)
	e.GET("/api/services", s.handleListServices)
	e.GET("/api/services/:name/status", s.handleServiceStatus)

	for path, route := range analyzeRoutes {
		e.POST(path, s.gateway.Forward(route.service, route.childPath))
	}

	return e
}

// requestLogger logs every request through the global zap logger.
func (s *ScamShieldServer) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				zap.L().Warn("Request failed", fields...)
				return nil
			}
			zap.L().Info("Request", fields...)
			return nil
		},
	})
}

// panicRecovery keeps one misbehaving handler from taking the server down.
func (s *ScamShieldServer) panicRecovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					core.LogPanicRecovery("http handler", r)
					err = c.JSON(http.StatusInternalServerError, map[string]any{
						"error": map[string]string{
							"code":    "internal_error",
							"message": "internal server error",
						},
					})
				}
			}()
			return next(c)
		}
	}
}

// handleHealth reports the host's own health plus a per-service state summary.
func (s *ScamShieldServer) handleHealth(c echo.Context) error {
	services := make(map[string]string)
	s.bridges.Range(func(name string, br *bridge.Bridge) bool {
		services[name] = string(br.Status().State)
		return true
	})
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "healthy",
		"service":  "scamshield",
		"services": services,
	})
}

// handleListServices returns status snapshots for every registered service
// and the analysis endpoints they currently back.
func (s *ScamShieldServer) handleListServices(c echo.Context) error {
	statuses := make([]bridge.Status, 0, s.bridges.Size())
	s.bridges.Range(func(_ string, br *bridge.Bridge) bool {
		statuses = append(statuses, br.Status())
		return true
	})
	return c.JSON(http.StatusOK, map[string]any{
		"services": statuses,
		"routes":   s.apiRoutes.ToSlice(),
	})
}

// handleServiceStatus returns the status snapshot for one service.
func (s *ScamShieldServer) handleServiceStatus(c echo.Context) error {
	name := c.Param("name")
	br, ok := s.bridges.Load(name)
	if !ok {
		body := map[string]string{
			"code":    "unknown_service",
			"message": fmt.Sprintf("unknown analyzer service '%s'", name),
		}
		if suggestion := proxy.SuggestSimilarService(s.Names(), name); suggestion != "" {
			body["suggestion"] = fmt.Sprintf("Did you mean: %s?", suggestion)
		}
		return c.JSON(http.StatusNotFound, map[string]any{"error": body})
	}
	return c.JSON(http.StatusOK, br.Status())
}

// StartBridges starts every registered bridge concurrently. A bridge that
// fails to start is left in its failed state and logged; the server keeps
// serving so healthy analyzers and status endpoints stay available.
func (s *ScamShieldServer) StartBridges(ctx context.Context) {
	var wg sync.WaitGroup
	s.bridges.Range(func(name string, br *bridge.Bridge) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := br.Start(ctx); err != nil {
				zap.L().Error("Analyzer service failed to start, continuing without it",
					zap.String("service", name),
					zap.Error(err))
				return
			}
			zap.L().Info("Analyzer service ready", zap.String("service", name))
		}()
		return true
	})
	wg.Wait()
}

// StopBridges stops every registered bridge.
func (s *ScamShieldServer) StopBridges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllBridgesLocked()
}

func (s *ScamShieldServer) stopAllBridgesLocked() {
	s.bridges.Range(func(name string, br *bridge.Bridge) bool {
		br.Stop()
		zap.L().Debug("Stopped bridge", zap.String("service", name))
		return true
	})
	s.bridges.Clear()
}

// Reload reloads the configuration and rebuilds the bridges. Running
// analyzers are stopped and started again under the new configuration.
func (s *ScamShieldServer) Reload(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			core.LogPanicRecovery("reload", r)
		}
	}()

	newCfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	s.config = newCfg
	s.rebuildBridges()
	s.StartBridges(ctx)
	zap.L().Info("Configuration reloaded", zap.Int("services", len(newCfg.Services)))
	return nil
}

// Serve starts the public HTTP API on the given address and blocks until ctx
// is cancelled, then shuts the listener down gracefully.
func (s *ScamShieldServer) Serve(ctx context.Context, addr string) error {
	s.echo.Server.ReadHeaderTimeout = 10 * time.Second

	zap.L().Info("Server listening", zap.String("address", addr))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("Server shutdown error", zap.Error(err))
		}
	}()

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}
