package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/argus-labs/arena/pkg/app"
	"github.com/argus-labs/arena/pkg/config"
	"github.com/argus-labs/arena/pkg/settlement"
	"github.com/argus-labs/arena/pkg/tilemap"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arena",
		Short:         "Realtime arena server with escrowed match settlement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMapsCmd(), newMatchIDCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	return cmd
}

func newMapsCmd() *cobra.Command {
	maps := &cobra.Command{
		Use:   "maps",
		Short: "Inspect tile maps",
	}
	var envFile string
	check := &cobra.Command{
		Use:   "check [key...]",
		Short: "Load and validate maps from the configured source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			source, err := app.MapSource(cmd.Context(), cfg.Maps)
			if err != nil {
				return err
			}
			keys := args
			if len(keys) == 0 {
				keys = tilemap.EmbeddedSource{}.Keys()
			}
			catalog := tilemap.NewCatalog(source)
			for _, key := range keys {
				m, err := catalog.Load(cmd.Context(), key)
				if err != nil {
					return err
				}
				info := m.Info()
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%dx%d tiles\t%dx%d px\n",
					m.Key(), info.Width, info.Height, info.TileWidth, info.TileHeight)
			}
			return nil
		},
	}
	check.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	maps.AddCommand(check)
	return maps
}

func newMatchIDCmd() *cobra.Command {
	var at int64
	cmd := &cobra.Command{
		Use:   "matchid <playerA> <playerB>",
		Short: "Derive an escrow match id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts := time.Now()
			if at > 0 {
				ts = time.UnixMilli(at)
			}
			fmt.Fprintln(cmd.OutOrStdout(), settlement.GenerateMatchID(args[0], args[1], ts))
			return nil
		},
	}
	cmd.Flags().Int64Var(&at, "at", 0, "creation time in unix milliseconds (default now)")
	return cmd
}
