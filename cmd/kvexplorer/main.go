package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kvexplorer/kvexplorer/internal/config"
	"github.com/kvexplorer/kvexplorer/internal/explorer"
	"github.com/kvexplorer/kvexplorer/internal/metrics"
	"github.com/kvexplorer/kvexplorer/internal/probe"
	"github.com/kvexplorer/kvexplorer/internal/server"
	"github.com/kvexplorer/kvexplorer/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kvexplorer",
		Short: "kvexplorer - browse every key and value of a transactional KV store",
		Long: `kvexplorer reads the whole keyspace of a key-value store from one
snapshot transaction and shows each key and value as JSON, MessagePack,
text or raw bytes.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().StringP("backend", "b", config.BackendTiKV, "Store backend (tikv, badger, pebble, sqlite)")
	rootCmd.PersistentFlags().StringSlice("addresses", []string{"127.0.0.1:2379"}, "TiKV placement driver addresses")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Badger or Pebble data directory")
	rootCmd.PersistentFlags().String("sqlite-path", "", "SQLite database file")
	rootCmd.PersistentFlags().String("table", "kv", "SQLite table holding key/value rows")
	rootCmd.PersistentFlags().Int("batch-size", probe.DefaultBatchSize, "Pairs requested per scan call")

	rootCmd.AddCommand(newServeCmd(), newDumpCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the keyspace over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().StringP("listen", "l", ":8090", "Listen address")
	return cmd
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every key/value pair once and exit",
		RunE:  runDump,
	}
	cmd.Flags().Bool("long", false, "Use multi-line renderings for structured values")
	cmd.Flags().Bool("json", false, "Print the API payload as JSON")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// openExplorer opens the configured store. A store that cannot be opened is
// reported as a connection failure. The caller closes the returned client.
func openExplorer(cmd *cobra.Command, cfg *config.Config, mm metrics.Manager) (store.Client, *explorer.Explorer, error) {
	logger := logrus.StandardLogger()
	client, err := store.Open(cmd.Context(), cfg.Store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", probe.ErrConnectionFailed, err)
	}

	opts := []explorer.Option{
		explorer.WithBatchSize(cfg.Store.BatchSize),
		explorer.WithLogger(logger),
	}
	if mm != nil {
		opts = append(opts, explorer.WithRecorder(mm))
	}
	return client, explorer.New(client, opts...), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mm := metrics.NewManager(cfg.Metrics)

	client, ex, err := openExplorer(cmd, cfg, mm)
	if err != nil {
		return err
	}
	defer client.Close()

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
		"backend": client.Backend(),
	}).Info("Starting kvexplorer")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.New(cfg, ex, mm, logrus.StandardLogger())
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logrus.Info("kvexplorer stopped")
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, ex, err := openExplorer(cmd, cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	pairs, err := ex.GetAllPairs(cmd.Context())
	if err != nil {
		return err
	}

	long, _ := cmd.Flags().GetBool("long")
	asJSON, _ := cmd.Flags().GetBool("json")

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetEscapeHTML(false)
		return enc.Encode(server.APIResponse{Success: true, Data: server.NewPairsData(client.Backend(), pairs)})
	}
	return writePairs(out, pairs, long)
}

func writePairs(w io.Writer, pairs []explorer.Pair, long bool) error {
	for _, p := range pairs {
		key, value := p.Key.Compact(), p.Value.Compact()
		if long {
			key, value = p.Key.Long(), p.Value.Long()
		}
		if _, err := fmt.Fprintf(w, "%s %s  %s %s\n", p.Key.Kind, key, p.Value.Kind, value); err != nil {
			return err
		}
	}
	return nil
}

func setupLogging(level, format string) {
	switch format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	}

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
