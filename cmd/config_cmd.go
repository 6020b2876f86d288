package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/hegelpm/internal/cli"
	"github.com/theirongolddev/hegelpm/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := config.ConfigPath()
	if flagConfig != "" {
		path = flagConfig
	}
	fmt.Printf("  Config file: %s\n", path)
	if flagConfig == "" && !config.Exists() {
		fmt.Println("  Status: using defaults (no config file)")
	} else {
		fmt.Println("  Status: loaded")
	}
	fmt.Println()

	concurrency := strconv.Itoa(cfg.Discovery.Concurrency())
	if cfg.Discovery.LoadConcurrency == 0 {
		concurrency += " (GOMAXPROCS)"
	}
	fmt.Print(cli.RenderKV("[discovery]", [][2]string{
		{"Roots", strings.Join(cfg.Discovery.Roots, ", ")},
		{"Max depth", strconv.Itoa(cfg.Discovery.MaxDepth)},
		{"Exclusions", strings.Join(cfg.Discovery.Exclusions, ", ")},
		{"Marker", cfg.Discovery.Marker},
		{"Load concurrency", concurrency},
	}))
	fmt.Println()
	fmt.Print(cli.RenderKV("[server]", [][2]string{
		{"Address", cfg.Server.Addr},
		{"Request timeout", cfg.Server.RequestTimeout.String()},
		{"Watch", strconv.FormatBool(cfg.Server.Watch)},
		{"Watch debounce", cfg.Server.WatchDebounce.String()},
	}))
	fmt.Println()
	fmt.Print(cli.RenderKV("[worker]", [][2]string{
		{"Channel buffer", strconv.Itoa(cfg.Worker.ChannelBuffer)},
	}))
	fmt.Println()
	fmt.Print(cli.RenderKV("[log]", [][2]string{
		{"Level", config.LogLevel(cfg)},
	}))
	fmt.Println()

	if err := cfg.Validate(); err != nil {
		fmt.Println("  " + cli.Warn("Invalid: "+err.Error()))
		fmt.Println()
	}
	fmt.Println("  Run `hegelpm setup` to reconfigure.")
	return nil
}
