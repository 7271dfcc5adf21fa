package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"receipt-rag-go/internal/bootstrap"
	"receipt-rag-go/internal/config"
	"receipt-rag-go/internal/model"
	"receipt-rag-go/internal/service"
	"receipt-rag-go/pkg/log"
	"receipt-rag-go/pkg/tasks"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "receiptctl",
		Short:        "Maintenance and query tool for the receipt RAG service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "./configs/config.yaml", "path to config file")

	cmd.AddCommand(
		newReindexCmd(opts),
		newAskCmd(opts),
		newPurgeCmd(opts),
		newIngestCmd(opts),
	)
	return cmd
}

// setup 加载配置、初始化日志并组装依赖。
func setup(cmd *cobra.Command, opts *rootOptions, withObjects bool) (context.Context, context.CancelFunc, *bootstrap.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	app, err := bootstrap.Init(ctx, cfg, withObjects)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, app, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newReindexCmd(root *rootOptions) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild semantic documents from stored receipts and upsert them into the vector index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel, app, err := setup(cmd, root, false)
			if err != nil {
				return err
			}
			defer cancel()
			defer log.Sync()

			var scope *uint
			if cmd.Flags().Changed("user") {
				scope = &userID
			}
			report, err := app.Admin.Reindex(ctx, scope)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "only reindex receipts of this user")
	return cmd
}

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		userID   uint
		from, to string
		topK     int
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a question over one user's receipts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.AnswerRequest{UserID: userID, Question: strings.Join(args, " "), TopK: topK}
			if from != "" {
				start, err := model.ParseDateISO(from)
				if err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
				req.Start = &start
			}
			if to != "" {
				end, err := model.ParseDateISO(to)
				if err != nil {
					return fmt.Errorf("invalid --to: %w", err)
				}
				req.End = &end
			}

			ctx, cancel, app, err := setup(cmd, root, false)
			if err != nil {
				return err
			}
			defer cancel()
			defer log.Sync()

			if req.TopK == 0 {
				req.TopK = app.Config.RAG.TopK
			}
			result, err := app.RAG.Answer(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "user whose receipts are searched")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD), requires --to")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD), requires --from")
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of documents to retrieve")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newPurgeCmd(root *rootOptions) *cobra.Command {
	var (
		userID uint
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete receipts and their indexed documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hasUser := cmd.Flags().Changed("user")
			if hasUser == all {
				return errors.New("exactly one of --user or --all is required")
			}
			ctx, cancel, app, err := setup(cmd, root, false)
			if err != nil {
				return err
			}
			defer cancel()
			defer log.Sync()

			if all {
				if err := app.Admin.PurgeAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "purged all receipts")
				return nil
			}
			report, err := app.Admin.PurgeUser(ctx, userID)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "purge this user's receipts")
	cmd.Flags().BoolVar(&all, "all", false, "purge every receipt and the whole index")
	return cmd
}

// newIngestCmd 同步导入本地目录下的小票图片，不经过 Kafka。
func newIngestCmd(root *rootOptions) *cobra.Command {
	var userID uint
	cmd := &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Synchronously ingest every receipt image in a directory for one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := receiptImages(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no receipt images found in %s", args[0])
			}

			ctx, cancel, app, err := setup(cmd, root, true)
			if err != nil {
				return err
			}
			defer cancel()
			defer log.Sync()

			var failed int
			for _, path := range files {
				status, err := ingestFile(ctx, app, userID, path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s receipt=%d\n", path, status.Status, status.ReceiptID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().UintVar(&userID, "user", 0, "owner of the ingested receipts")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func receiptImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := service.ImageContentType(filepath.Ext(path)); ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func ingestFile(ctx context.Context, app *bootstrap.App, userID uint, path string) (*model.IngestionStatus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, _ := service.ImageContentType(ext)
	task := tasks.ReceiptIngestionTask{
		TaskID:   uuid.NewString(),
		FileName: filepath.Base(path),
		UserID:   userID,
	}
	task.ObjectKey = service.ObjectKey(userID, task.TaskID, ext)
	if err := app.Objects.Put(ctx, task.ObjectKey, f, info.Size(), contentType); err != nil {
		return nil, err
	}
	if err := app.Processor.Process(ctx, task); err != nil {
		return nil, err
	}
	return app.StatusRepo.Get(ctx, task.TaskID)
}
