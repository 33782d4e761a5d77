package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/ferryd/ferry/cmd/internal/cli"
	"github.com/ferryd/ferry/server"
	"github.com/ferryd/ferry/server/blobstore"
	"github.com/ferryd/ferry/server/config"
	"github.com/ferryd/ferry/server/config/loader"
	"github.com/ferryd/ferry/server/logging"
	"github.com/ferryd/ferry/server/registry"
)

// Overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newConfig(configPath string, dev bool) (*config.Config, error) {
	conf, err := server.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("creating config: %w", err)
	}
	conf.Version = version
	conf.DevMode = dev
	if configPath != "" {
		if err := loader.LoadConfigTOML(conf, configPath); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", configPath, err)
		}
	}
	if dev {
		if err := applyDevDefaults(conf); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

// applyDevDefaults fills in a local filesystem carrier and sqlite registry
// under the XDG data dir so the server runs with no config file at all.
func applyDevDefaults(conf *config.Config) error {
	dataDir := filepath.Join(xdg.DataHome, "ferry")
	if conf.PrimaryCarrier == nil {
		root := filepath.Join(dataDir, "objects")
		if err := os.MkdirAll(root, 0o700); err != nil {
			return fmt.Errorf("creating object dir: %w", err)
		}
		conf.PrimaryCarrier = &blobstore.FilesystemStore{Root: root, MaxBytes: 50 << 20}
	}
	if conf.Registry == nil {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		reg, err := registry.OpenSQLite(filepath.Join(dataDir, "registry.db"))
		if err != nil {
			return fmt.Errorf("opening registry: %w", err)
		}
		conf.Registry = reg
	}
	return nil
}

func runServe(ctx context.Context, conf *config.Config) error {
	logger := logging.New(os.Stderr)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, err := server.NewServer(logger, conf)
	if err != nil {
		return err
	}
	if closer, ok := conf.Registry.(io.Closer); ok {
		defer closer.Close()
	}

	httpServer := &http.Server{
		Addr:    net.JoinHostPort(conf.Host, strconv.FormatUint(uint64(conf.Port), 10)),
		Handler: handler,
	}
	go func() {
		logger.Info(ctx, "listening", "addr", httpServer.Addr, "version", conf.Version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "listening and serving", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func newServeCommand() *cobra.Command {
	var (
		host string
		port uint
		dev  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			conf, err := newConfig(configPath, dev)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				conf.Host = host
			}
			if cmd.Flags().Changed("port") {
				conf.Port = port
			}
			return runServe(cmd.Context(), conf)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "host to listen on")
	cmd.Flags().UintVar(&port, "port", 8080, "port to listen on")
	cmd.Flags().BoolVar(&dev, "dev", false, "dev mode: local filesystem carrier and registry")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:       "migrate {up|down|version}",
		Short:     "Apply registry schema migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				configPath, _ := cmd.Flags().GetString("config")
				if configPath == "" {
					return fmt.Errorf("provide --registry or a config file with a [sqlite_registry] section")
				}
				var err error
				if path, err = loader.RegistryPathTOML(configPath); err != nil {
					return err
				}
			}
			return registry.Migrate(logging.New(os.Stderr), path, args[0])
		},
	}
	cmd.Flags().StringVar(&path, "registry", "", "path to the sqlite registry database")
	return cmd
}

func newDumpConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-config",
		Short: "Print the effective scalar configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			conf, err := newConfig(configPath, false)
			if err != nil {
				return err
			}
			out, err := loader.DumpConfigTOML(conf)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ferry",
		Short:         "Size-capped blob relay with stable download URLs",
		Long:          cli.Description,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", cli.DiscoverConfigPath(), "path to TOML config file")
	root.AddCommand(newServeCommand(), newMigrateCommand(), newDumpConfigCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.Bold("error:"), err)
		os.Exit(1)
	}
}
