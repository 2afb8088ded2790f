package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

// Status is what the admin surface reports about the running gateway.
type Status interface {
	Ready() bool
	ActiveSessions() int
	MaxClients() int
	AccountNames() []string
}

type Admin struct {
	status  Status
	router  *gin.Engine
	started time.Time
}

func NewAdmin(status Status, corsOrigins []string) *Admin {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logs.Logger()))
	r.Use(RequestMetricsMiddleware())
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{status: status, router: r, started: time.Now()}
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.status.Ready()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":       ready,
			"sessions":    a.status.ActiveSessions(),
			"max_clients": a.status.MaxClients(),
		})
	})

	a.router.GET("/accounts", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"accounts": a.status.AccountNames(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve runs the admin HTTP server on ln until ctx is done.
func (a *Admin) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logs.Infof("observability.Admin.Serve addr=%s", ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logs.Warnf("observability.Admin.Serve shutdown err=%v", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
