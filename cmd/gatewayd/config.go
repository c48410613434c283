package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanonasis/auth-gateway/internal/config"
)

func commandRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatewayd",
		Short: "lanonasis-auth-gateway HTTP server",
	}
	cmd.AddCommand(commandServe())
	return cmd
}

func commandServe() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve [config file]",
		Short: "launch the gateway's HTTP listeners",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				configFile = args[0]
			}
			if configFile == "" {
				return fmt.Errorf("a config file path is required")
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to the YAML config file")
	return cmd
}
