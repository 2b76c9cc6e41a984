package main

import (
	"Auditum/internal/config"
	"Auditum/pkg/logger"
	"github.com/spf13/cobra"
)

// options 保存全局命令行参数。
type options struct {
	configPath string
	modulesDir string
	logLevel   string
	jsonOutput bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "auditumd",
		Short: "Discover, validate and load Auditum modules",
		Long: `auditumd scans a module root for candidate directories, validates each
manifest against its role contract and loads the modules that pass.

Examples:
  auditumd discover                 List valid modules under ./modules
  auditumd load --modules ./mods    Load every module and report failures
  auditumd serve --addr :9090       Load modules and serve the read-only API
  auditumd search golang            Query every scraper module`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $AUDITUM_CONFIG or configs/auditum.yaml)")
	flags.StringVar(&opts.modulesDir, "modules", "", "module root directory (overrides modules.root and AUDITUM_MODULES)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newDiscoverCommand(opts),
		newLoadCommand(opts),
		newServeCommand(opts),
		newSearchCommand(opts),
	)
	return root
}

// loadConfig 读取配置、应用命令行覆盖并初始化日志。
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.modulesDir != "" {
		cfg.Modules.Root = o.modulesDir
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	err = logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Lifecycle: logger.LifecycleConfig{
			Enabled:    cfg.Log.Lifecycle.Enabled,
			Path:       cfg.Log.Lifecycle.Path,
			MaxSizeMB:  cfg.Log.Lifecycle.MaxSizeMB,
			MaxBackups: cfg.Log.Lifecycle.MaxBackups,
			MaxAgeDays: cfg.Log.Lifecycle.MaxAgeDays,
			Compress:   cfg.Log.Lifecycle.Compress,
		},
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
