package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fraternitybase/engagement/internal/config"
)

// Command はアプリケーションのサブコマンドを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は定期分析ワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandAnalyze は投稿のスコアリングを1回実行してサマリーを出力することを示す。
	CommandAnalyze Command = "analyze"
	// CommandTop は機会投稿の上位一覧を出力することを示す。
	CommandTop Command = "top"
	// CommandRecalculate はチャプター集計を再計算することを示す。
	CommandRecalculate Command = "recalculate"
)

// analyzeOptions はanalyzeサブコマンドのフラグ値。
// 0はconfigの既定値を使うことを意味する。
type analyzeOptions struct {
	Days            int
	ChapterID       string
	Limit           int
	ContinueOnError bool
}

// runners は各サブコマンドの実処理。テストでは差し替えてフラグ解析だけを検証する。
type runners struct {
	init        func(w io.Writer) (*config.Config, error)
	serve       func(cfg *config.Config) error
	worker      func(cfg *config.Config) error
	migrate     func(cfg *config.Config) error
	healthcheck func(port string) error
	analyze     func(ctx context.Context, cfg *config.Config, out io.Writer, opts analyzeOptions) error
	top         func(ctx context.Context, cfg *config.Config, out io.Writer, limit int) error
	recalculate func(ctx context.Context, cfg *config.Config, out io.Writer) error
}

func defaultRunners() runners {
	return runners{
		init:        Init,
		serve:       runServe,
		worker:      runWorker,
		migrate:     runMigrate,
		healthcheck: runHealthcheck,
		analyze:     runAnalyze,
		top:         runTop,
		recalculate: runRecalculate,
	}
}

// newRootCmd はengagementコマンドのツリーを構築する。
// 引数なしで起動した場合はserveとして動作する。
// 常駐コマンドのログはwへ、単発コマンドのログはerrWへ出力し、
// 単発コマンドのサマリーだけがwに残るようにする。
func newRootCmd(w, errW io.Writer, r runners) *cobra.Command {
	root := &cobra.Command{
		Use:           "engagement",
		Short:         "Score chapter social posts for outreach opportunities",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := r.init(w)
			if err != nil {
				return err
			}
			return r.serve(cfg)
		},
	}
	root.SetOut(w)
	root.SetErr(errW)

	root.AddCommand(
		newConfigCmd(w, r, CommandServe, "Start the HTTP API server", r.serve),
		newConfigCmd(w, r, CommandWorker, "Run periodic analysis and engagement recalculation", r.worker),
		newConfigCmd(w, r, CommandMigrate, "Apply database migrations", r.migrate),
		newHealthcheckCmd(r),
		newAnalyzeCmd(r),
		newTopCmd(r),
		newRecalculateCmd(r),
	)
	return root
}

// newConfigCmd は設定を読み込んでからrunを呼ぶだけの長時間実行サブコマンドを生成する。
func newConfigCmd(w io.Writer, r runners, name Command, short string, run func(cfg *config.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:   string(name),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := r.init(w)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
}

// newHealthcheckCmd は軽量なヘルスチェックコマンドを生成する。フル初期化はしない。
func newHealthcheckCmd(r runners) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Probe /health on the local API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.healthcheck(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", envOrDefault("SERVER_PORT", "8080"), "API server port")
	return cmd
}

func newAnalyzeCmd(r runners) *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   string(CommandAnalyze),
		Short: "Score recent posts (or one chapter's posts) and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Days < 0 {
				return errors.New("--days must be positive")
			}
			if opts.Limit < 0 {
				return errors.New("--limit must be positive")
			}
			if opts.Limit > 0 && opts.ChapterID == "" {
				return errors.New("--limit requires --chapter")
			}
			if opts.ChapterID != "" {
				id, err := uuid.Parse(opts.ChapterID)
				if err != nil {
					return fmt.Errorf("--chapter must be a UUID: %q", opts.ChapterID)
				}
				opts.ChapterID = id.String()
			}
			cfg, err := r.init(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return r.analyze(cmd.Context(), cfg, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.Days, "days", 0, "analyze posts from the last N days (default ANALYZE_DEFAULT_DAYS)")
	cmd.Flags().StringVar(&opts.ChapterID, "chapter", "", "analyze only this chapter's most recent posts")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "number of chapter posts to analyze (default ANALYZE_CHAPTER_LIMIT)")
	cmd.Flags().BoolVar(&opts.ContinueOnError, "continue-on-error", false, "record failing posts and keep going")
	cmd.MarkFlagsMutuallyExclusive("days", "chapter")
	return cmd
}

func newTopCmd(r runners) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   string(CommandTop),
		Short: "Print the highest scoring opportunities of the last 30 days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return errors.New("--limit must be positive")
			}
			cfg, err := r.init(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return r.top(cmd.Context(), cfg, cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of opportunities to print (default TOP_OPPORTUNITIES_LIMIT)")
	return cmd
}

func newRecalculateCmd(r runners) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandRecalculate),
		Short: "Recalculate engagement aggregates for chapters with outreach",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := r.init(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return r.recalculate(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}
