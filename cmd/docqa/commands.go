package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/logger"
	"docqa/internal/schedule"
	"docqa/internal/service"
	"docqa/internal/store"
	"docqa/internal/tui"
)

type rootOptions struct {
	configPath string
	app        *app
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "docqa",
		Short:        "Process documents, summarize them and answer questions over them",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			l, err := logger.Init(cfg.Log)
			if err != nil {
				return err
			}
			ctx := logger.WithContext(cmd.Context(), l)
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			opts.app = a
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.app != nil {
				opts.app.close()
			}
			_ = zap.L().Sync()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (default ./docqa.yaml, then ~/.config/docqa/config.yaml)")
	root.AddCommand(
		newProcessCmd(opts),
		newAskCmd(opts),
		newSummarizeCmd(opts),
		newStatsCmd(opts),
		newListCmd(opts),
		newBackfillCmd(opts),
		newCleanupCmd(opts),
		newChatCmd(opts),
	)
	return root
}

func newProcessCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "process FILE...",
		Short: "Extract, chunk, embed and store documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := opts.app.proc.ProcessBatch(cmd.Context(), args, service.ProcessOptions{Force: force})
			return printResults(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reprocess documents that are already stored")
	return cmd
}

func printResults(w io.Writer, results []domain.ProcessResult) error {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "error      %s: %v\n", r.Path, r.Err)
			continue
		}
		fmt.Fprintf(w, "%-10s %s  %s  chunks=%d\n", r.Status, shortHash(r.ContentHash), r.Path, r.ChunkCount)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var hashes []string
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from stored documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.app.proc.NewSession(cmd.Context(), hashes...)
			if err != nil {
				return err
			}
			defer closeSession(cmd.Context(), sess)
			resp := sess.Ask(cmd.Context(), strings.Join(args, " "))
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&hashes, "hash", nil, "restrict to documents with these content hashes")
	return cmd
}

func closeSession(ctx context.Context, sess *service.Session) {
	if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
		logger.FromContext(ctx).Warn("session index not dropped", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

func printResponse(w io.Writer, resp domain.RAGResponse) {
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, s := range resp.Sources {
		fmt.Fprintf(w, "  [%d] %s: %s\n", s.Index, s.Source, strings.ReplaceAll(s.Excerpt, "\n", " "))
	}
}

func newSummarizeCmd(opts *rootOptions) *cobra.Command {
	var (
		file     string
		hash     string
		sectionO bool
	)
	cmd := &cobra.Command{
		Use:   "summarize (--file PATH | --hash HASH)",
		Short: "Summarize a file or a stored document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (file == "") == (hash == "") {
				return errors.New("exactly one of --file or --hash is required")
			}
			ctx, p, out := cmd.Context(), opts.app.proc, cmd.OutOrStdout()
			if sectionO {
				var (
					s   *domain.SectionedSummary
					err error
				)
				if file != "" {
					s, err = p.SummarizeFileSections(ctx, file)
				} else {
					s, err = p.SummarizeDocumentSections(ctx, hash)
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			var (
				s   string
				err error
			)
			if file != "" {
				s, err = p.SummarizeFile(ctx, file)
			} else {
				s, err = p.SummarizeDocument(ctx, hash)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, s)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to summarize without storing it")
	cmd.Flags().StringVar(&hash, "hash", "", "content hash of a stored document")
	cmd.Flags().BoolVar(&sectionO, "sections", false, "summarize each detected section")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show content store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.app.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var f store.ListFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := opts.app.store.ListDocuments(cmd.Context(), f)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, d := range docs {
				summarized := "-"
				if d.Summary != nil {
					summarized = "summary"
				}
				fmt.Fprintf(w, "%s  %-4s %6d chunks  %s  %-7s %s\n", shortHash(d.ContentHash), d.FileType,
					d.TotalChunks, d.ProcessedAt.Local().Format(time.DateTime), summarized, d.Filename)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.FileType, "type", "", "only documents of this file type (pdf, docx, txt, md, rtf)")
	cmd.Flags().UintVar(&f.Offset, "offset", 0, "skip this many documents")
	cmd.Flags().UintVar(&f.Limit, "limit", 50, "maximum number of documents")
	return cmd
}

func newBackfillCmd(opts *rootOptions) *cobra.Command {
	var (
		batch int
		spec  string
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Store summaries for documents processed without one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job := schedule.NewBackfillJob(opts.app.proc, batch)
			if spec != "" {
				return runScheduled(cmd.Context(), job, spec)
			}
			if err := job.Run(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "summarized %d document(s)\n", job.Summarized())
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 20, "documents to summarize per run")
	cmd.Flags().StringVar(&spec, "schedule", "", "cron spec to keep running and backfill periodically")
	return cmd
}

const configuredSchedule = "configured"

func newCleanupCmd(opts *rootOptions) *cobra.Command {
	var (
		days int
		spec string
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stored documents older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			retention := opts.app.cfg.Retention()
			if days > 0 {
				retention = time.Duration(days) * 24 * time.Hour
			}
			job := schedule.NewCleanupJob(opts.app.store, retention)
			if spec == "" {
				if err := job.Run(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d document(s)\n", job.Removed())
				return nil
			}
			if spec == configuredSchedule {
				spec = opts.app.cfg.Cleanup.Schedule
			}
			return runScheduled(cmd.Context(), job, spec)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default from config)")
	cmd.Flags().StringVar(&spec, "schedule", "", "cron spec to keep running and clean up periodically; bare --schedule uses cleanup.schedule")
	cmd.Flags().Lookup("schedule").NoOptDefVal = configuredSchedule
	return cmd
}

func runScheduled(ctx context.Context, job schedule.Job, spec string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	s := schedule.NewCronScheduler()
	if err := s.AddJob(job, spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var hashes []string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive question answering in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sess, err := opts.app.proc.NewSession(ctx, hashes...)
			if err != nil {
				return err
			}
			defer closeSession(ctx, sess)
			title := fmt.Sprintf("session %s  %d document(s)", sess.ID[:8], len(sess.Hashes))
			m := tui.New(ctx, sess, title, opts.app.cfg.RAG.Timeout+5*time.Second)
			_, err = tea.NewProgram(m, tea.WithContext(ctx)).Run()
			return err
		},
	}
	cmd.Flags().StringSliceVar(&hashes, "hash", nil, "restrict to documents with these content hashes")
	return cmd
}
