// Package main is the entry point for the vehicle zone configurator server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/detailhub/zoneconfigurator/internal/config"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "zoneconfigurator",
	Short:         "Vehicle zone configurator service",
	Long:          "Serves the vehicle zone configurator: zone catalogs, hotspot geometry, selection sessions and job zone commits.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath string
	envFiles   []string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before configuration")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads dotenv files and then the configuration file.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	return config.Load(configPath)
}
