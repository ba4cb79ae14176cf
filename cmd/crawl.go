package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/api"
	"github.com/JakeFAU/bssid-geolocator/internal/clock/system"
	"github.com/JakeFAU/bssid-geolocator/internal/config"
	"github.com/JakeFAU/bssid-geolocator/internal/crawler"
	"github.com/JakeFAU/bssid-geolocator/internal/frontier"
	idgen "github.com/JakeFAU/bssid-geolocator/internal/id/uuid"
	"github.com/JakeFAU/bssid-geolocator/internal/policy/ratelimit"
	"github.com/JakeFAU/bssid-geolocator/internal/progress"
	progresssinks "github.com/JakeFAU/bssid-geolocator/internal/progress/sinks"
	"github.com/JakeFAU/bssid-geolocator/internal/worker"
	"github.com/JakeFAU/bssid-geolocator/internal/wloc"
)

// newCrawlCmd creates the 'crawl' subcommand, the core breadth-first
// expansion from one or more seed BSSIDs.
func newCrawlCmd() *cobra.Command {
	var seeds []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Expands the frontier from seed BSSIDs",
		Long: `Seeds the frontier with the given BSSIDs and queries the location service
for each unprocessed record, storing every neighbor it reports, until the
frontier is empty or crawler.max_bssids records have been processed.
SIGINT/SIGTERM stop dispatch; in-flight queries finish first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, seeds)
		},
	}
	cmd.Flags().StringSliceVarP(&seeds, "bssid", "b", nil, "seed BSSID (repeatable)")
	_ = cmd.MarkFlagRequired("bssid")
	return cmd
}

func runCrawl(cmd *cobra.Command, seeds []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()
	store := appInstance.GetStore()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := buildProgressHub(cfg, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("failed to flush progress events", zap.Error(cerr))
		}
	}()

	engine, err := buildCrawlEngine(cfg, store, hub, logger)
	if err != nil {
		return err
	}

	if cfg.Server.Addr != "" {
		srvCtx, cancelSrv := context.WithCancel(ctx)
		srvDone := make(chan struct{})
		go func() {
			defer close(srvDone)
			srv := api.NewServer(store, engine, logger)
			if serr := srv.Serve(srvCtx, cfg.Server.Addr, cfg.Server.ShutdownTimeout); serr != nil {
				logger.Error("status server failed", zap.Error(serr))
			}
		}()
		defer func() {
			cancelSrv()
			<-srvDone
		}()
	}

	summary, err := engine.Run(ctx, seeds)
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"crawl %s: processed=%d failed=%d neighbors=%d inserted=%d updated=%d duration=%s\n",
		summary.State, summary.Processed, summary.Failed, summary.Neighbors,
		summary.Inserted, summary.Updated, summary.Duration.Round(time.Millisecond),
	)
	return nil
}

func buildProgressHub(cfg config.Config, logger *zap.Logger) *progress.Hub {
	var sinks []progress.Sink
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	var already prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		sinks = append(sinks, promSink)
	case errors.As(err, &already):
		logger.Debug("progress collectors already registered; skipping prometheus sink")
	default:
		logger.Warn("prometheus progress sink disabled", zap.Error(err))
	}
	if cfg.Logging.ProgressEvents {
		sinks = append(sinks, progresssinks.NewLogSink(logger))
	}
	return progress.NewHub(progress.Config{Logger: logger}, sinks...)
}

func buildCrawlEngine(cfg config.Config, store frontier.Store, hub progress.Emitter, logger *zap.Logger) (*crawler.Engine, error) {
	codec := wloc.NewCodec(wloc.CodecConfig{
		Locale:            cfg.WLOC.Locale,
		ClientID:          cfg.WLOC.ClientID,
		OSVersion:         cfg.WLOC.OSVersion,
		ResponsePrefixLen: cfg.WLOC.ResponsePrefixLen,
		ResponseVersion:   cfg.WLOC.ResponseVersion,
	})
	client := wloc.NewClient(wloc.ClientConfig{
		Endpoint:           cfg.WLOC.Endpoint,
		UserAgent:          cfg.WLOC.UserAgent,
		Timeout:            cfg.WLOC.Timeout,
		MaxResponseBytes:   cfg.WLOC.MaxResponseBytes,
		InsecureSkipVerify: cfg.WLOC.InsecureSkipVerify,
	}, logger)
	limiter := ratelimit.New(ratelimit.Config{MinInterval: cfg.Crawler.RequestDelay})
	retry := crawler.NewRetryPolicy(crawler.RetryConfig{
		MaxRetries: cfg.Crawler.Retry.MaxRetries,
		BaseDelay:  cfg.Crawler.Retry.BaseDelay,
		MaxDelay:   cfg.Crawler.Retry.MaxDelay,
	})
	clock := system.New()

	w := worker.New(store, codec, client, limiter, retry, clock, worker.Config{
		MaxAttempts: cfg.Crawler.MaxAttempts,
		LimiterKey:  cfg.WLOC.Endpoint,
	}, logger)

	engine, err := crawler.New(crawler.Config{
		MaxBSSIDs:   int64(cfg.Crawler.MaxBSSIDs),
		Concurrency: cfg.Crawler.Concurrency,
		BatchSize:   cfg.Crawler.BatchSize,
		MaxDepth:    cfg.Crawler.MaxDepth,
	}, store, w, idgen.New(), clock, hub, logger)
	if err != nil {
		return nil, fmt.Errorf("init crawl engine: %w", err)
	}
	return engine, nil
}
