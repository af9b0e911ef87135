package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/acksell/slotdb/config"
	"github.com/acksell/slotdb/index"
	"github.com/acksell/slotdb/internal/logging"
	"github.com/acksell/slotdb/store/badgerstore"
	"github.com/acksell/slotdb/store/dynamostore"
	"github.com/acksell/slotdb/store/memstore"
	"github.com/acksell/slotdb/store/storemetrics"
	"github.com/acksell/slotdb/transport"
)

type globalFlags struct {
	config   string
	logLevel string
	driver   string
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "slotdb",
		Short:         "Single-table index mapping for document stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "path to slotdb.yaml (default: search upwards from the working directory)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log.level")
	root.PersistentFlags().StringVar(&g.driver, "driver", "", "override store.driver (memory, badger, dynamodb)")

	root.AddCommand(
		newEncodeCmd(&g),
		newDecodeCmd(),
		newExplainCmd(&g),
		newPutCmd(&g),
		newGetCmd(&g),
		newFindCmd(&g),
		newUpdateCmd(&g),
		newDeleteCmd(&g),
		newServeCmd(&g),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "slotdb version %s\n", version)
			},
		},
	)
	return root
}

// env is what a command needs after loading the configuration.
type env struct {
	cfg      config.Config
	log      *slog.Logger
	catalogs map[string]*index.Catalog
}

func loadEnv(g *globalFlags, stderr io.Writer) (*env, error) {
	path := g.config
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = config.Find(wd)
		}
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.driver != "" {
		cfg.Store.Driver = g.driver
	}

	log, err := logging.New(stderr, cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	cats, err := cfg.Catalogs()
	if err != nil {
		return nil, err
	}
	log.Debug("loaded config", "path", path, "driver", cfg.Store.Driver, "entities", len(cats))
	return &env{cfg: cfg, log: log, catalogs: cats}, nil
}

func (e *env) catalog(name string) (*index.Catalog, error) {
	cat, ok := e.catalogs[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", name)
	}
	return cat, nil
}

// openDriver opens the configured store. Metrics are registered on reg
// when it is not nil.
func (e *env) openDriver(ctx context.Context, reg prometheus.Registerer) (transport.Driver, error) {
	sc := e.cfg.Store
	var (
		d   transport.Driver
		err error
	)
	switch sc.Driver {
	case "memory", "":
		d = memstore.New()
	case "badger":
		d, err = badgerstore.New(badgerstore.Options{
			Path:     sc.Path,
			InMemory: sc.InMemory,
			Compress: sc.Compress,
			Logger:   logging.Badger(e.log),
		})
	case "dynamodb":
		d, err = dynamostore.NewFromConfig(ctx, sc.Endpoint, sc.Region, dynamostore.Options{
			Table:          sc.Table,
			Segments:       sc.ScanSegments,
			ConsistentRead: sc.ConsistentRead,
		})
	default:
		err = fmt.Errorf("unknown store driver %q", sc.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sc.Driver, err)
	}
	if reg != nil {
		d = storemetrics.Wrap(d, storemetrics.New(reg))
	}
	return d, nil
}

func (e *env) transporter(ctx context.Context, reg prometheus.Registerer) (*transport.Transporter, error) {
	d, err := e.openDriver(ctx, reg)
	if err != nil {
		return nil, err
	}
	return transport.New(d,
		transport.WithLogger(e.log),
		transport.WithPolicy(e.cfg.FilterPolicy()),
	), nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
