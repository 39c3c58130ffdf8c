package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"sensorhub/internal/api"
	_ "sensorhub/internal/builtin"
	"sensorhub/internal/config"
	"sensorhub/internal/factory"
	"sensorhub/internal/hub"
	"sensorhub/internal/metrics"
	"sensorhub/internal/trust"
	"sensorhub/pkg/plugin"

	"go.uber.org/zap"
)

const usage = `Usage: sensorhub <command> [flags]

Commands:
  run            load plugins, wire routes and run the devices (default)
  sign           sign a plugin archive
  trust import   add a signer certificate to the trust store
  plugins        list the registered component types
`

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runHub(args)
	case "sign":
		err = signArchive(args)
	case "trust":
		err = trustCommand(args)
	case "plugins":
		err = listPlugins()
	case "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sensorhub %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runHub(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "component configuration file (overrides "+config.EnvConfig+")")
	envFile := fs.String("env", ".env", "environment file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := config.LoadSettings(*envFile)
	if err != nil {
		return err
	}
	if *configPath != "" {
		settings.ConfigPath = *configPath
	}

	logger := newLogger(settings.Debug)
	defer logger.Sync()

	path, err := settings.ResolveConfigPath(".")
	if err != nil {
		logger.Fatal("No configuration file", zap.Error(err))
	}
	cfg, err := config.Load(path, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.String("path", path), zap.Error(err))
	}

	logger.Info("Starting sensor hub",
		zap.String("config", path),
		zap.Int("devices", len(cfg.Devices)),
		zap.Int("receivers", len(cfg.Receivers)),
		zap.Int("routes", len(cfg.Routes)),
		zap.Strings("plugin_dirs", settings.PluginDirs),
		zap.Bool("allow_loose", settings.AllowLoose))

	m := metrics.New()
	pctx := plugin.NewContext(logger, nil, nil)
	l, verifier := factory.NewLoader(factory.Sources{
		Trust: trust.Config{
			StorePath: settings.TrustStorePath,
			Password:  settings.TrustStorePassword,
			Alias:     settings.TrustAlias,
		},
		AllowLoose: settings.AllowLoose,
		PluginDirs: settings.PluginDirs,
	}, plugin.Global(), pctx, logger)
	verifier.SetVerdictHook(m.ObserveVerdict)
	l.SetLoadHook(m.ObserveLoad)

	window := settings.RunDuration
	if window == 0 {
		window = -1
	}
	h := hub.New(cfg, factory.New(l, logger), hub.Options{
		RunDuration: window,
		Metrics:     m,
		Logger:      logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := h.Start(ctx); err != nil {
		logger.Fatal("Failed to start hub", zap.Error(err))
	}

	if settings.HTTPPort > 0 {
		server := api.NewServer(h, m.Handler(), logger, settings.HTTPPort)
		if err := server.Start(); err != nil {
			logger.Error("Failed to start API server", zap.Error(err))
		}
		defer server.Stop()
	}

	logger.Info("Hub running. Press Ctrl+C to exit.")
	h.Wait(ctx)

	logger.Info("Shutting down gracefully...")
	if err := h.Shutdown(settings.ShutdownTimeout); err != nil {
		if errors.Is(err, hub.ErrShutdownTimeout) {
			logger.Warn("Devices did not stop in time", zap.Duration("timeout", settings.ShutdownTimeout))
		}
		return err
	}
	return nil
}

func signArchive(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	certPath := fs.String("cert", "", "signer certificate (PEM)")
	keyPath := fs.String("key", "", "signer private key (PEM)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: sensorhub sign -cert signer.pem -key signer.key <in.zip> <out.zip>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *certPath == "" || *keyPath == "" || fs.NArg() != 2 {
		fs.Usage()
		os.Exit(2)
	}

	signer, err := trust.LoadSigner(*certPath, *keyPath)
	if err != nil {
		return err
	}
	if err := trust.Sign(fs.Arg(0), fs.Arg(1), signer); err != nil {
		return err
	}
	fmt.Printf("signed %s -> %s\n", fs.Arg(0), fs.Arg(1))
	return nil
}

func trustCommand(args []string) error {
	if len(args) == 0 || args[0] != "import" {
		return errors.New(`expected "trust import"`)
	}

	fs := flag.NewFlagSet("trust import", flag.ExitOnError)
	store := fs.String("store", envOr(config.EnvTrustStore, trust.DefaultStorePath), "trust store file")
	password := fs.String("password", envOr(config.EnvTrustStorePassword, trust.DefaultPassword), "trust store password")
	alias := fs.String("alias", envOr(config.EnvTrustAlias, trust.DefaultAlias), "alias of the certificate")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: sensorhub trust import [-store path] [-password pw] [-alias name] <cert.pem>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	certPEM, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := trust.Import(*store, *password, *alias, certPEM); err != nil {
		return err
	}
	fmt.Printf("imported %s as %q into %s\n", fs.Arg(0), *alias, *store)
	return nil
}

func listPlugins() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tKIND\tDESCRIPTION")
	for _, info := range plugin.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, info.Kind, info.Description)
	}
	return w.Flush()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
