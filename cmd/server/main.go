package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-gateway/internal/app"
	"github.com/vovakirdan/wirechat-gateway/internal/auth"
	"github.com/vovakirdan/wirechat-gateway/internal/config"
	"github.com/vovakirdan/wirechat-gateway/internal/log"
	"github.com/vovakirdan/wirechat-gateway/internal/store/sqlite"
)

type rootFlags struct {
	configPath string
	addr       string
	logLevel   string
	logFormat  string
	dbPath     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "wirechat",
		Short:         "Realtime messaging gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config file")
	pf.StringVar(&flags.addr, "addr", "", "HTTP listen address")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "log output format (console, json)")
	pf.StringVar(&flags.dbPath, "db", "", "path to the SQLite database")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(flags)
		},
	}

	root.AddCommand(serve, newTokenCmd(flags), newSessionCmd(flags))
	// Running the binary without a subcommand starts the server.
	root.RunE = serve.RunE
	return root
}

// loadConfig resolves configuration; flags that were set win over everything else.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	bootLogger := log.New("info")

	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		return nil, err
	}
	bootLogger.Debug().Str("path", path).Msg("config loaded")

	cfg.UpdateFrom(config.Config{
		Addr:         flags.addr,
		LogLevel:     flags.logLevel,
		LogFormat:    flags.logFormat,
		DatabasePath: flags.dbPath,
	})
	return &cfg, nil
}

func runServe(flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := log.ForFormat(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Msg("starting wirechat gateway")
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an identity token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("jwt_secret is not configured")
			}

			verifier := auth.NewVerifier(app.JWTConfig(cfg), cfg.JWTRequired)
			token, err := verifier.Issue(args[0], name)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	return cmd
}

func newSessionCmd(flags *rootFlags) *cobra.Command {
	session := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}

	var (
		participants string
		group        bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a session and print its id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			var ids []string
			for _, p := range strings.Split(participants, ",") {
				if p = strings.TrimSpace(p); p != "" {
					ids = append(ids, p)
				}
			}
			if len(ids) < 2 {
				return errors.New("at least two participants are required")
			}
			if !group && len(ids) != 2 {
				return errors.New("a direct session has exactly two participants; pass --group")
			}

			st, err := sqlite.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			s, err := st.CreateSession(cmd.Context(), ids, group)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		},
	}
	create.Flags().StringVar(&participants, "participants", "", "comma-separated user ids")
	create.Flags().BoolVar(&group, "group", false, "create a group session")
	_ = create.MarkFlagRequired("participants")

	session.AddCommand(create)
	return session
}
