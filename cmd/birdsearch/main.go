package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/birdsearch/internal/config"
)

func main() {
	var configPath string
	var embeddingsPath string

	rootCmd := &cobra.Command{
		Use:   "birdsearch",
		Short: "birdsearch active-learning server",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run birdsearch server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, embeddingsPath)
		},
	}
	runCmd.Flags().StringVar(&embeddingsPath, "embeddings", "", "optional JSON-lines embedding file loaded at startup")

	importCmd := &cobra.Command{
		Use:   "import-embeddings [file]",
		Short: "load JSON-lines clip embeddings into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.Type == "memory" {
				return fmt.Errorf("import-embeddings needs a postgres database; use run --embeddings for the memory backend")
			}
			st, closeFn, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := importEmbeddings(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}
			logutil.GetLogger(cmd.Context()).Info("embeddings imported", zap.Int("count", n), zap.String("file", args[0]))
			return nil
		},
	}

	var tokenUser string
	var tokenTTL time.Duration
	tokenCmd := &cobra.Command{
		Use:   "issue-token",
		Short: "print an annotator token signed with the configured jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			token, err := issueToken(cfg, tokenUser, tokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "annotator id recorded as labeled_by")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", defaultTokenTTL, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(runCmd, importCmd, tokenCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}
