package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"corral/internal/hub"
	"corral/internal/logger"
)

var (
	hubConfigPath string
	hubDebugFlag  bool
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Start the Corral hub daemon",
	Long: `The Corral hub is a daemon that accepts connections from host, console,
and monitor nodes.  It tracks node liveness through heartbeats, manages the
lifecycle of service instances on host nodes, routes messages between
services, and runs the experiment scenario.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)
		if hubDebugFlag {
			logger.SetLevel("debug")
		} else {
			logger.SetLevel("info")
		}

		log := logger.New()

		// Check if config file exists
		if _, err := os.Stat(hubConfigPath); os.IsNotExist(err) {
			defaultConfig := hub.NewDefaultConfig()
			if err := hub.SaveConfig(defaultConfig, hubConfigPath); err != nil {
				log.Error().Err(err).Msg("Failed to create default config file")
				return fmt.Errorf("failed to create default config file: %w", err)
			}
			log.Info().
				Str("config_path", hubConfigPath).
				Msg("Created default configuration file. Please edit it with your settings.")
			return nil
		}

		daemon, err := hub.NewDaemon(hubConfigPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create hub daemon")
			return fmt.Errorf("failed to create hub daemon: %w", err)
		}

		// Start daemon (blocks until shutdown)
		if err := daemon.Start(); err != nil {
			log.Error().Err(err).Msg("Hub daemon stopped with error")
			return fmt.Errorf("hub daemon error: %w", err)
		}

		return nil
	},
}

var hubConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage hub configuration",
	Long:  `Generate or validate hub configuration files.`,
}

var hubConfigGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a default configuration file with example settings.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := hubConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		defaultConfig := hub.NewDefaultConfig()
		if err := hub.SaveConfig(defaultConfig, configPath); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Printf("Default configuration saved to: %s\n", configPath)
		cmd.Println("Please edit the file with your hub name, listen address, and catalog paths.")
		return nil
	},
}

var hubConfigValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate a hub configuration file for syntax and required fields.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := hubConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		config, err := hub.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		cmd.Printf("Configuration file is valid: %s\n", configPath)
		cmd.Printf("Hub name: %s\n", config.Hub.Name)
		cmd.Printf("Listen address: %s\n", config.Hub.Listen)
		cmd.Printf("Service catalog: %s\n", config.Services.Path)
		if config.Hub.HeartbeatInterval > 0 {
			cmd.Printf("Heartbeat interval: %ds\n", config.Hub.HeartbeatInterval)
		} else {
			cmd.Println("Heartbeats disabled")
		}

		return nil
	},
}

func init() {
	hubCmd.Flags().StringVarP(&hubConfigPath, "config", "c", "hub.yml", "Path to hub configuration file")
	hubCmd.Flags().BoolVarP(&hubDebugFlag, "debug", "d", false, "Enable debug logging")

	hubCmd.AddCommand(hubConfigCmd)
	hubConfigCmd.AddCommand(hubConfigGenerateCmd)
	hubConfigCmd.AddCommand(hubConfigValidateCmd)

	hubConfigGenerateCmd.Flags().StringVarP(&hubConfigPath, "config", "c", "hub.yml", "Path for generated configuration file")
	hubConfigValidateCmd.Flags().StringVarP(&hubConfigPath, "config", "c", "hub.yml", "Path to configuration file to validate")
}
