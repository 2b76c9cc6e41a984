package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"Auditum/internal/api"
	"Auditum/internal/events"
	"Auditum/pkg/logger"
	"Auditum/pkg/module"
	"github.com/spf13/cobra"
)

// withRuntime 加载配置并构造运行时，命令结束后释放资源。
func withRuntime(cmd *cobra.Command, opts *options, fn func(ctx context.Context, rt *hostRuntime) error) (err error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newHostRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close())
	}()
	return fn(ctx, rt)
}

func newDiscoverCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List the modules that pass manifest and entry-point validation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *hostRuntime) error {
				manifests, err := rt.discover(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return writeJSON(out, manifests)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tROLE\tENTRY")
				for _, m := range manifests {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Role, m.EntryPath)
				}
				return tw.Flush()
			})
		},
	}
}

type loadReport struct {
	Root       string         `json:"root"`
	Discovered int            `json:"discovered"`
	Loaded     []loadedModule `json:"loaded"`
	Failures   []api.Failure  `json:"failures"`
}

type loadedModule struct {
	Name   string      `json:"name"`
	Role   module.Role `json:"role"`
	LoadID string      `json:"load_id"`
}

func newLoadCommand(opts *options) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Discover and load every module, reporting failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *hostRuntime) error {
				manifests, err := rt.loadAll(ctx)
				if err != nil {
					return err
				}
				report := loadReport{
					Root:       rt.root,
					Discovered: len(manifests),
					Loaded:     []loadedModule{},
					Failures:   rt.catalog.Failures(),
				}
				for _, h := range rt.catalog.List() {
					report.Loaded = append(report.Loaded, loadedModule{Name: h.Name(), Role: h.Role(), LoadID: h.ID})
				}
				if report.Failures == nil {
					report.Failures = []api.Failure{}
				}
				if err := printLoadReport(cmd.OutOrStdout(), report, opts.jsonOutput); err != nil {
					return err
				}
				if strict && len(report.Failures) > 0 {
					return fmt.Errorf("%d 个模块加载失败", len(report.Failures))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit with an error when any module fails to load")
	return cmd
}

func printLoadReport(out io.Writer, report loadReport, asJSON bool) error {
	if asJSON {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "root: %s\ndiscovered: %d, loaded: %d, failed: %d\n",
		report.Root, report.Discovered, len(report.Loaded), len(report.Failures))
	for _, m := range report.Loaded {
		fmt.Fprintf(out, "  ok    %-20s %-8s %s\n", m.Name, m.Role, m.LoadID)
	}
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  fail  %-20s %s\n", f.Module, f.Error)
	}
	return nil
}

func newServeCommand(opts *options) *cobra.Command {
	var addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load modules and serve the read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *hostRuntime) error {
				if _, err := rt.loadAll(ctx); err != nil {
					return err
				}
				listen := rt.cfg.Server.Address
				if addr != "" {
					listen = addr
				}
				if maddr := resolveMetricsAddr(metricsAddr, rt.cfg.Server.MetricsAddress); maddr != "" {
					go serveMetrics(ctx, rt, maddr)
				}
				if rt.memEvents != nil {
					go drainEvents(ctx, rt.memEvents)
				}
				err := rt.newServer(listen).Start(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on a separate address (overrides server.metrics_address)")
	return cmd
}

// resolveMetricsAddr 命令行参数优先于配置。
func resolveMetricsAddr(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}

func serveMetrics(ctx context.Context, rt *hostRuntime, addr string) {
	if err := rt.metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		logger.L().ErrorContext(ctx, "metrics server stopped", slog.String("addr", addr), slog.Any("error", err))
	}
}

// drainEvents 消费内存事件，避免缓冲写满后持续丢弃。
func drainEvents(ctx context.Context, pub *events.MemoryPublisher) {
	lg := logger.Named("events")
	_ = pub.Consume(ctx, 1, func(ctx context.Context, msg events.Message) error {
		lg.DebugContext(ctx, "module event",
			slog.String("kind", string(msg.Kind)),
			slog.String("module", msg.Module),
			slog.String("error_code", string(msg.ErrorCode)))
		return nil
	})
}

func newSearchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Load modules and run a query through every scraper module",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withRuntime(cmd, opts, func(ctx context.Context, rt *hostRuntime) error {
				if _, err := rt.loadAll(ctx); err != nil {
					return err
				}
				results := rt.catalog.Search(ctx, query)
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return writeJSON(out, results)
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "no scraper modules loaded")
					return nil
				}
				for _, res := range results {
					if res.Error != "" {
						fmt.Fprintf(out, "%s: error: %s\n", res.Module, res.Error)
						continue
					}
					encoded, err := json.Marshal(res.Result)
					if err != nil {
						encoded = []byte(fmt.Sprint(res.Result))
					}
					fmt.Fprintf(out, "%s: %s\n", res.Module, encoded)
				}
				return nil
			})
		},
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
