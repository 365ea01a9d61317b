package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KevoDB/tinynvs/pkg/common/log"
	"github.com/KevoDB/tinynvs/pkg/config"
	"github.com/KevoDB/tinynvs/pkg/flash"
	"github.com/KevoDB/tinynvs/pkg/store"
	"github.com/KevoDB/tinynvs/pkg/telemetry"
)

// app holds what the persistent flags resolve to
type app struct {
	imagePath  string
	configPath string
	logLevel   string

	cfg    *config.Config
	logger log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "nvs",
		Short: "Inspect and drive a tinynvs flash image",
		Long: `nvs mounts a NOR-flash key-value store kept in a regular file and runs
one operation against it, an interactive shell, or a gRPC server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.imagePath, "image", "nvs.img", "flash image file, created erased when missing")
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "JSON config file (default: built-in defaults and TINYNVS_* variables)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newSetCmd(a),
		newGetCmd(a),
		newDeleteCmd(a),
		newSectorsCmd(a),
		newStatsCmd(a),
		newWLCmd(a),
		newRotateCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newShellCmd(a),
		newServeCmd(a),
		newRemoteCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadConfig(a.configPath)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", a.configPath, err)
		}
	} else {
		a.cfg = config.NewDefaultConfig()
		a.cfg.LoadFromEnv()
	}
	if a.logLevel != "" {
		a.cfg.Update(func(c *config.Config) { c.LogLevel = a.logLevel })
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	level, err := log.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = log.NewStandardLogger(log.WithLevel(level), log.WithOutput(cmd.ErrOrStderr()))
	return nil
}

// openDevice opens the image file with the configured geometry
func (a *app) openDevice() (*flash.FileDevice, error) {
	return flash.OpenFileDevice(a.imagePath, a.cfg.SectorSize, a.cfg.DeviceSize()/a.cfg.SectorSize)
}

// session is a mounted store and everything that must be released with it
type session struct {
	store *store.Store
	dev   *flash.FileDevice
	tel   telemetry.Telemetry
}

// open mounts the store on the image file. Telemetry is configured from
// TINYNVS_TELEMETRY_* and stays a no-op unless enabled there.
func (a *app) open(ctx context.Context) (*session, error) {
	dev, err := a.openDevice()
	if err != nil {
		return nil, err
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	st, err := store.Open(dev, a.cfg,
		store.WithLogger(a.logger.WithField("component", "nvs")),
		store.WithTelemetry(tel),
	)
	if err != nil {
		tel.Shutdown(ctx)
		dev.Close()
		return nil, err
	}
	return &session{store: st, dev: dev, tel: tel}, nil
}

func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return errors.Join(
		s.store.Close(),
		s.tel.Shutdown(ctx),
		s.dev.Close(),
	)
}

// withStore runs fn against a freshly mounted store
func (a *app) withStore(cmd *cobra.Command, fn func(*store.Store) error) error {
	s, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	return errors.Join(fn(s.store), s.Close())
}
