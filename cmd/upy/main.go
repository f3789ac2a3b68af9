package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/NazgoooAtanasov/upy/internal/cliconfig"
	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/pkg/log"
	"github.com/NazgoooAtanasov/upy/pkg/upy"
)

const helpDescription = `
Upload cartridges to a content server's WebDAV endpoint and keep them in sync.

Every directory containing a .project file is a cartridge. upy zips each
one, uploads and unpacks it on the server, then watches the cartridges and
mirrors every change as it happens.

Credentials come from upy.toml or dw.json in the current directory, UPY_*
environment variables, or flags, in increasing order of precedence.
`

var exampleUsage = strings.TrimSpace(`
  upy ./cartridges
  upy . -u --cartridge app_custom --cartridge int_payment
  upy ~/projects/storefront -w --config ~/dw.json --log-level debug
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "upy [working-dir]",
		Short:         "Sync cartridges to a content server over WebDAV",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cfg.WorkDir = args[0]
			}

			// Build set of changed flags
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}
			if cfgFile != "" {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			// Environment overrides the file; flags override both.
			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			zl := cliconfig.Logger(cfg.LogLevel)
			logger := log.NewZerologAdapterWithLogger(zl)
			zl.Debug().Interface("config", cfg.Redacted()).Str("file", cfgFile).Msg("configuration")

			s, err := upy.New(upy.Config{
				WorkDir:        cfg.WorkDir,
				OutDir:         cfg.OutDir,
				Hostname:       cfg.Hostname,
				Username:       cfg.Username,
				Password:       cfg.Password,
				Version:        cfg.Version,
				BaseURL:        cfg.BaseURL,
				Cartridges:     cfg.Cartridges,
				Exclusions:     cfg.Exclusions,
				Compress:       cfg.Compress,
				Upload:         cfg.Upload,
				Watch:          cfg.Watch,
				Concurrency:    cfg.Concurrency,
				CoalesceWindow: cfg.CoalesceWindow,
				HTTPTimeout:    cfg.HTTPTimeout,
				ShutdownGrace:  cfg.ShutdownGrace,
				KeepParents:    cfg.KeepParents,
			}, upy.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("create syncer: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = s.Run(ctx)
			if err != nil && errors.Is(err, domain.ErrShutdownTimeout) {
				zl.Warn().Msg("stopped before all in-flight operations finished")
			}
			return err
		},
	}

	// Flags
	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", fmt.Sprintf("path to config file (default: ./%s, then ./%s)", cliconfig.DefaultConfigFile, cliconfig.LegacyConfigFile))
	f.BoolVarP(&cfg.Upload, "upload", "u", cfg.Upload, "pack and deploy every cartridge")
	f.BoolVarP(&cfg.Watch, "watch", "w", cfg.Watch, "mirror file changes until interrupted")

	f.StringVar(&cfg.Hostname, "hostname", cfg.Hostname, "content server hostname")
	f.StringVar(&cfg.Username, "username", cfg.Username, "WebDAV user")
	f.StringVar(&cfg.Password, "password", cfg.Password, "WebDAV password or access key")
	f.StringVar(&cfg.Version, "code-version", cfg.Version, "code version to upload into")
	f.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "endpoint override (testing only)")
	if err := f.MarkHidden("base-url"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to hide base-url flag: %v\n", err)
	}

	f.StringSliceVar(&cfg.Cartridges, "cartridge", cfg.Cartridges, "only sync cartridges whose name contains this (repeatable)")
	f.StringSliceVar(&cfg.Exclusions, "exclude", cfg.Exclusions, "skip directories whose path contains this (repeatable)")
	f.StringVar(&cfg.OutDir, "out-dir", cfg.OutDir, "directory for cartridge archives (emptied on every upload)")
	f.BoolVar(&cfg.Compress, "compress", cfg.Compress, "deflate archive entries instead of storing them")

	f.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "maximum simultaneous deploys (0 = number of CPUs)")
	f.DurationVar(&cfg.CoalesceWindow, "coalesce-window", cfg.CoalesceWindow, "quiet period before a changed path is synced")
	f.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "HTTP request timeout")
	f.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "time in-flight operations get to finish on shutdown")
	f.IntVar(&cfg.KeepParents, "keep-parents", cfg.KeepParents, "directories to keep in front of \"cartridge\" in remote paths")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		logger := cliconfig.Logger(cfg.LogLevel)
		logger.Error().Err(err).Msg("upy")
		os.Exit(1)
	}
}
