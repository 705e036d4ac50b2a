// Command surfaced runs queries against AI surfaces, either as an HTTP
// service or one-off from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/surface-exec/internal/config"
	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/infra/observability"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "surfaced",
		Short:         "Surface execution and failover service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), surfacesCmd(), queryCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			logger := observability.NewLogger(cfg.LogLevel)
			defer logger.Sync()

			logger.Info("configuration loaded",
				zap.Int("port", cfg.Port),
				zap.String("log_level", cfg.LogLevel),
				zap.Duration("query_timeout", cfg.QueryTimeout),
				zap.Int("max_retries", cfg.MaxRetries),
				zap.Duration("initial_backoff", cfg.InitialBackoff),
				zap.Int("web_max_sessions", cfg.WebMaxSessions),
				zap.Float64("failover_threshold", cfg.Failover.SuccessRateThreshold),
				zap.Duration("failover_cooldown", cfg.Failover.Cooldown),
			)

			// --- Tracing ---
			shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "surface-exec")
			if err != nil {
				return fmt.Errorf("init tracer: %w", err)
			}
			defer shutdown(context.Background())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("shutdown incomplete", zap.Error(err))
				}
			}()

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Port),
				Handler:      a.router(),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: cfg.QueryTimeout*time.Duration(cfg.MaxRetries+1) + 30*time.Second,
				IdleTimeout:  60 * time.Second,
			}

			// --- Graceful shutdown ---
			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting", zap.Int("port", cfg.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("server shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced shutdown: %w", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}
}

func surfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "surfaces",
		Short: "List the surfaces this configuration registers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			logger := observability.NewLogger("error")
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			list := a.registry.List()
			sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tAUTH\tRPM\tPROVIDERS")
			for _, m := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.Category, m.Auth, m.RateLimitPerMinute, providersFor(a, m.ID))
			}
			return tw.Flush()
		},
	}
}

func providersFor(a *app, surfaceID string) string {
	out := ""
	for _, p := range a.failover.Providers() {
		if !p.Supports(surfaceID) {
			continue
		}
		if out != "" {
			out += ","
		}
		out += p.Name()
	}
	return out
}

func queryCmd() *cobra.Command {
	var (
		surfaceID string
		country   string
		evidence  string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Run one query through the failover manager and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := observability.NewLogger(cfg.LogLevel)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			req := &domain.ExecutionRequest{
				SurfaceID: surfaceID,
				Query: domain.SurfaceQueryRequest{
					Query:           args[0],
					CaptureEvidence: evidence != "",
					EvidenceLevel:   domain.EvidenceLevel(evidence),
				},
				TimeoutMs: timeout.Milliseconds(),
			}
			if country != "" {
				req.Location = &domain.Location{Country: country}
			}
			if err := req.Validate(); err != nil {
				return err
			}

			res := a.failover.Execute(ctx, req)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("query failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&surfaceID, "surface", "", "surface id, e.g. openai-api or chatgpt-web")
	cmd.Flags().StringVar(&country, "country", "", "ISO country to route through")
	cmd.Flags().StringVar(&evidence, "evidence", "", "evidence level: basic or full")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt timeout")
	_ = cmd.MarkFlagRequired("surface")
	return cmd
}
