package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/sip2gate/internal/config"
	logs "github.com/danmuck/sip2gate/internal/logging"
	"github.com/danmuck/sip2gate/internal/server"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "sipgw.toml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sipgw",
		Short:         "SIP2 gateway in front of a library backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to the gateway config file")
	root.AddCommand(newServeCmd(), newCheckCmd(), newInitCmd(), newProbeCmd())
	return root
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until SIGINT, SIGTERM or the shutdown file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logs.Infof("sipgw.serve config=%q listen=%q accounts=%d", cfg.Path, cfg.Server.ListenAddr, len(cfg.Accounts))
	return server.New(cfg).Serve(ctx)
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and its accounts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", cfg.Path)
			fmt.Fprintf(out, "listen=%s max_clients=%d accounts=%d\n", cfg.Server.ListenAddr, cfg.Server.MaxClients, len(cfg.Accounts))
			for _, name := range cfg.Table().Usernames() {
				fmt.Fprintf(out, "  account %s\n", name)
			}
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath(cmd)
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
