// Command kvdoc-bench exercises a full kvdoc stack end-to-end against
// either backend: it opens a collection, an indexable collection, and a
// large collection, runs a fixed workload against them, and reports how
// long each phase took.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/kvdoc/atomicbuilder"
	"github.com/arthur-debert/kvdoc/docstore"
	"github.com/arthur-debert/kvdoc/kvdocconfig"
	"github.com/arthur-debert/kvdoc/kvdoclog"
	"github.com/arthur-debert/kvdoc/kvstore"
	"github.com/arthur-debert/kvdoc/kvstore/memstore"
	"github.com/arthur-debert/kvdoc/kvstore/sqlitestore"
)

var (
	configFile    string
	backend       string
	sqliteDSN     string
	logDir        string
	logLevel      string
	logCommits    bool
	logIndexMaint bool
	count         int
)

var rootCmd = &cobra.Command{
	Use:   "kvdoc-bench",
	Short: "Run a fixed kvdoc workload against an in-memory or SQLite backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := kvdocconfig.Load(configFile, cmd.Flags())
		if err != nil {
			return err
		}

		loggers, err := kvdoclog.Init(kvdoclog.Options{
			Dir:           opts.LogDir,
			Level:         opts.LogLevel,
			TeeCommits:    opts.LogCommits,
			TeeIndexMaint: opts.LogIndexMaint,
		})
		if err != nil {
			return fmt.Errorf("kvdoc-bench: init logging: %w", err)
		}

		store, closeStore, err := openStore(opts)
		if err != nil {
			return err
		}
		defer closeStore()

		return runWorkload(cmd.Context(), store, loggers, count)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "memory", "store backend: memory|sqlite")
	rootCmd.PersistentFlags().StringVar(&sqliteDSN, "sqlite-dsn", "kvdoc-bench.db", "sqlite DSN when --backend=sqlite")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", ".", "directory for kvdoc log files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVar(&logCommits, "log-commits", false, "also tee commit log records to stdout")
	rootCmd.PersistentFlags().BoolVar(&logIndexMaint, "log-index-maint", false, "also tee index maintenance log records to stdout")
	rootCmd.Flags().IntVar(&count, "count", 100, "number of documents to write per collection")
}

func openStore(opts kvdocconfig.Options) (kvstore.Store, func(), error) {
	switch opts.Backend {
	case kvdocconfig.BackendSQLite:
		s, err := sqlitestore.Open(opts.SQLiteDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("kvdoc-bench: open sqlite store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

func runWorkload(ctx context.Context, store kvstore.Store, loggers *kvdoclog.Loggers, n int) error {
	notes := docstore.NewCollection(store, "notes", docstore.Options{})
	users := docstore.NewIndexableCollection(store, "users", docstore.Options{
		Indices:     map[string]docstore.IndexKind{"email": docstore.IndexPrimary},
		IndexLogger: loggers.IndexMaint,
	})
	blobs := docstore.NewLargeCollection(store, "blobs", docstore.Options{})

	start := time.Now()
	for i := 0; i < n; i++ {
		if _, _, err := notes.Add(ctx, docstore.Doc{"body": fmt.Sprintf("note %d", i)}); err != nil {
			return fmt.Errorf("kvdoc-bench: add note: %w", err)
		}
	}
	loggers.Main.Info("notes phase complete", "count", n, "elapsed", time.Since(start))

	start = time.Now()
	for i := 0; i < n; i++ {
		if res, _, err := users.Add(ctx, docstore.Doc{"email": fmt.Sprintf("user-%d@example.com", i)}); err != nil {
			return fmt.Errorf("kvdoc-bench: add user: %w", err)
		} else if !res.OK {
			return fmt.Errorf("kvdoc-bench: unexpected duplicate user at %d", i)
		}
	}
	loggers.Main.Info("users phase complete", "count", n, "elapsed", time.Since(start))

	start = time.Now()
	body := strings.Repeat("x", 200*1024)
	for i := 0; i < n/10+1; i++ {
		if _, _, err := blobs.SetDocument(ctx, "", docstore.Doc{"body": body}, docstore.LargeSetOpts{}); err != nil {
			return fmt.Errorf("kvdoc-bench: set large document: %w", err)
		}
	}
	loggers.Main.Info("blobs phase complete", "count", n/10+1, "elapsed", time.Since(start))

	start = time.Now()
	builder := atomicbuilder.New(store).WithLogger(loggers.Commits)
	acc := docstore.NewCollection(store, "accounts", docstore.Options{})
	for i := 0; i < n; i++ {
		doc := docstore.Doc{"balance": 0}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("kvdoc-bench: marshal account: %w", err)
		}
		if _, err := builder.Select(acc).Add(fmt.Sprintf("acct-%d", i), doc, raw); err != nil {
			return fmt.Errorf("kvdoc-bench: enqueue account: %w", err)
		}
	}
	res, err := builder.Commit(ctx)
	if err != nil {
		return fmt.Errorf("kvdoc-bench: commit accounts: %w", err)
	}
	loggers.Main.Info("accounts batch commit complete", "ok", res.OK, "elapsed", time.Since(start))

	fmt.Printf("wrote %d notes, %d users, %d blobs, %d accounts (ok=%v)\n", n, n, n/10+1, n, res.OK)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
