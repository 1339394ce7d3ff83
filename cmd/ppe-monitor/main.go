package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/ppe-monitor/internal/detector"
	"github.com/dj-oyu/ppe-monitor/internal/health"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/metrics"
	"github.com/dj-oyu/ppe-monitor/internal/session"
	"github.com/dj-oyu/ppe-monitor/internal/webmonitor"
	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := webmonitor.DefaultConfig()
	if url := os.Getenv("PPE_API_URL"); url != "" {
		cfg.APIURL = url
	}

	var (
		logLevel  string
		logColor  bool
		origins   string
		pprofAddr string
	)

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address")
	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "Detection service base URL (env PPE_API_URL)")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Web assets directory")
	flag.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "Directory for uploaded files")
	flag.Int64Var(&cfg.MaxUploadBytes, "max-upload", cfg.MaxUploadBytes, "Maximum upload size in bytes")
	flag.DurationVar(&cfg.StatusInterval, "status-interval", cfg.StatusInterval, "Status stream heartbeat interval")
	flag.DurationVar(&cfg.HealthInterval, "health-interval", cfg.HealthInterval, "Detection service health check interval")
	flag.DurationVar(&cfg.FrameYield, "frame-yield", cfg.FrameYield, "Pause between video detection cycles")
	flag.DurationVar(&cfg.DetectTimeout, "detect-timeout", cfg.DetectTimeout, "Timeout per detect request (0 = none)")
	flag.IntVar(&cfg.JPEGQuality, "quality", cfg.JPEGQuality, "JPEG quality for uploads and the stream (1-100)")
	flag.StringVar(&origins, "cors-origins", "", "Allowed CORS origins (comma-separated, empty = any)")
	flag.StringVar(&pprofAddr, "pprof", "", "pprof server address (empty = disabled)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	// Initialize logger
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	if origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	logger.Info("Main", "PPE monitor starting (log level: %s)", level)
	if err := run(cfg, pprofAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

func run(cfg webmonitor.Config, pprofAddr string) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client := detector.NewClient(cfg.APIURL)

	sess := session.New(client,
		session.WithFrameYield(cfg.FrameYield),
		session.WithDetectTimeout(cfg.DetectTimeout),
		session.WithJPEGQuality(cfg.JPEGQuality),
		session.WithMetrics(m),
	)

	var server *webmonitor.Server
	hm := health.NewMonitor(client,
		health.WithInterval(cfg.HealthInterval),
		health.WithMetrics(m),
		health.WithOnChange(func(types.SystemStatus) { server.NotifyHealthChange() }),
	)
	server = webmonitor.NewServer(cfg, sess, hm, m)
	defer func() {
		err = multierr.Combine(err, server.Close(), sess.Close())
	}()

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Handler(),
		// Streaming handlers end with their request context.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	servers := []*http.Server{httpServer, m.NewServer(cfg.MetricsAddr)}
	if pprofAddr != "" {
		servers = append(servers, &http.Server{Addr: pprofAddr, Handler: http.DefaultServeMux})
	}

	hm.Start(gctx)
	defer hm.Stop()

	logger.Info("Main", "Detection service: %s", cfg.APIURL)
	logger.Info("Main", "Uploads: %s (max %d bytes)", cfg.UploadDir, cfg.MaxUploadBytes)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("Main", "Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Main", "Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs error
		for _, srv := range servers {
			errs = multierr.Append(errs, srv.Shutdown(shutdownCtx))
		}
		return errs
	})

	return g.Wait()
}
