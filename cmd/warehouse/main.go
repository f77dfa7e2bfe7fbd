// Command warehouse is the ledger warehouse's single multi-subcommand
// binary: it runs the HTTP surface and cycle scheduler by default, or
// executes one component operation and exits when given a subcommand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ledgerwarehouse/internal/aggregation"
	"ledgerwarehouse/internal/api"
	"ledgerwarehouse/internal/config"
	"ledgerwarehouse/internal/engine"
	"ledgerwarehouse/internal/fileindex"
	"ledgerwarehouse/internal/ingest"
	"ledgerwarehouse/internal/interval"
	"ledgerwarehouse/internal/logging"
	"ledgerwarehouse/internal/rewardcoupon"
	"ledgerwarehouse/internal/store"
	"ledgerwarehouse/internal/templateindex"
	"ledgerwarehouse/internal/voterequest"
)

// BuildCommit is set by the build pipeline to the git commit hash baked
// in at build time.
var BuildCommit = "dev"

type components struct {
	store        *store.Store
	files        *fileindex.Index
	ing          *ingest.Ingestor
	agg          *aggregation.State
	tmpl         *templateindex.Builder
	votes        *voterequest.Builder
	intervals    *interval.Indexer
	dsoIntervals *interval.DsoRulesIndexer
	coupons      *rewardcoupon.Builder
	eng          *engine.Engine
	dataDir      string
}

func buildComponents() (*components, error) {
	dataDir := config.DataRoot()
	storePath := os.Getenv("STORE_PATH")
	if storePath == "" {
		storePath = dataDir + "/warehouse.duckdb"
	}

	st, err := store.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	files := fileindex.New(st, dataDir)
	ing := ingest.New(st)
	agg := aggregation.New(st)
	tmpl := templateindex.New(st, nil)
	votes := voterequest.New(st, tmpl, dataDir)
	intervals := interval.New(st, tmpl)
	dsoIntervals := interval.NewDsoRulesIndexer(st, tmpl)
	coupons := rewardcoupon.New(st, tmpl)
	eng := engine.New(config.FromEnv(), st, files, ing, agg, tmpl, votes)

	return &components{
		store: st, files: files, ing: ing, agg: agg, tmpl: tmpl,
		votes: votes, intervals: intervals, dsoIntervals: dsoIntervals,
		coupons: coupons, eng: eng, dataDir: dataDir,
	}, nil
}

func main() {
	log := logging.For("warehouse")

	root := &cobra.Command{
		Use:   "warehouse",
		Short: "Ledger warehouse: ingestor, index builder, and HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "scan",
			Short: "Scan the raw directory for new record files",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := buildComponents()
				if err != nil {
					return err
				}
				defer c.store.Close()
				result, err := c.files.ScanAndIndex(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("scanned %d files, %d new\n", result.TotalFiles, result.NewFiles)
				return nil
			},
		},
		&cobra.Command{
			Use:   "ingest",
			Short: "Ingest pending record files into the analytic store",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := buildComponents()
				if err != nil {
					return err
				}
				defer c.store.Close()
				result, err := c.ing.IngestNewFiles(cmd.Context(), config.FromEnv().FilesPerCycle)
				if err != nil {
					return err
				}
				fmt.Printf("ingested %d files, %d records\n", result.Ingested, result.Records)
				return nil
			},
		},
		&cobra.Command{
			Use:   "cycle",
			Short: "Run one full engine cycle (scan, ingest, aggregate, gap-check)",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := buildComponents()
				if err != nil {
					return err
				}
				defer c.store.Close()
				report := c.eng.RunCycle(cmd.Context())
				if report.Err != nil {
					return report.Err
				}
				fmt.Printf("cycle complete: %d new files, %d ingested\n", report.ScanResult.NewFiles, report.IngestResult.Ingested)
				return nil
			},
		},
		newResetCmd(),
		newTemplateIndexCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Fatalw("command failed", "error", err)
	}
}

func newResetCmd() *cobra.Command {
	var fileID int64
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Re-queue a file for ingestion by clearing its ingested flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileID == 0 {
				return fmt.Errorf("warehouse reset: --file-id is required")
			}
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()
			if err := c.ing.ResetFile(cmd.Context(), fileID); err != nil {
				return err
			}
			fmt.Printf("file %d re-queued\n", fileID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&fileID, "file-id", 0, "raw_files.file_id to reset")
	return cmd
}

func newTemplateIndexCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "template-index",
		Short: "Template-to-file index operations",
	}

	var force bool
	build := &cobra.Command{
		Use:   "build",
		Short: "Build or refresh the template-to-file index",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildComponents()
			if err != nil {
				return err
			}
			defer c.store.Close()

			mode := templateindex.Incremental
			if force {
				mode = templateindex.Force
			}
			cfg := config.FromEnv()
			state, err := c.tmpl.Build(cmd.Context(), templateindex.Options{
				Mode:        mode,
				Workers:     cfg.TemplateIndexWorkers,
				Concurrency: cfg.TemplateIndexConcurrency,
			})
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d files, %d templates in %.2fs\n", state.TotalFilesIndexed, state.TotalTemplatesFound, state.BuildDurationSeconds)
			return nil
		},
	}
	build.Flags().BoolVar(&force, "force", false, "rebuild from scratch instead of incrementally")
	parent.AddCommand(build)
	return parent
}

func runServe(ctx context.Context) error {
	log := logging.For("warehouse")
	log.Infow("starting ledger warehouse", "build_commit", BuildCommit)

	c, err := buildComponents()
	if err != nil {
		return err
	}
	defer c.store.Close()

	apiPort := os.Getenv("API_PORT")
	if apiPort == "" {
		apiPort = "8080"
	}

	server := api.NewServer(":"+apiPort, api.Deps{
		Store: c.store, Files: c.files, Ingest: c.ing, Agg: c.agg,
		Templates: c.tmpl, Votes: c.votes, Intervals: c.intervals,
		DsoIntervals: c.dsoIntervals, Coupons: c.coupons, Engine: c.eng,
	})

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go c.eng.Start(sigCtx)

	go func() {
		if err := server.Start(); err != nil {
			log.Errorw("http server stopped", "error", err)
		}
	}()

	<-sigCtx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
