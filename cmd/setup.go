package cmd

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/hegelpm/internal/config"
	"github.com/theirongolddev/hegelpm/internal/source"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive configuration wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	// Load existing config or defaults
	cfg, _ := config.Load()

	roots := strings.Join(cfg.Discovery.Roots, ", ")
	depth := strconv.Itoa(cfg.Discovery.MaxDepth)
	addr := cfg.Server.Addr
	watching := cfg.Server.Watch
	level := cfg.Log.Level

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Search roots").
				Description("Comma-separated directories to search for "+source.DefaultMarker+" projects").
				Value(&roots).
				Validate(validateRoots),
			huh.NewInput().
				Title("Maximum depth").
				Description("How many directory levels below each root to search").
				Value(&depth).
				Validate(validateDepth),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&addr).
				Validate(func(s string) error {
					_, _, err := net.SplitHostPort(strings.TrimSpace(s))
					return err
				}),
			huh.NewConfirm().
				Title("Watch project files and invalidate cached responses?").
				Value(&watching),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&level),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("  Setup cancelled.")
			return nil
		}
		return err
	}

	cfg.Discovery.Roots = splitRoots(roots)
	cfg.Discovery.MaxDepth, _ = strconv.Atoi(strings.TrimSpace(depth))
	cfg.Server.Addr = strings.TrimSpace(addr)
	cfg.Server.Watch = watching
	cfg.Log.Level = level

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", config.ConfigPath())
	fmt.Println("  Run `hegelpm setup` anytime to reconfigure.")
	fmt.Println()
	return nil
}

func splitRoots(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, config.ExpandHome(r))
		}
	}
	return out
}

func validateRoots(s string) error {
	roots := splitRoots(s)
	return config.DiscoveryConfig{Roots: roots, MaxDepth: 1}.Validate()
}

func validateDepth(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return errors.New("enter a whole number of at least 1")
	}
	return nil
}
