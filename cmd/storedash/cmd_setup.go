package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/user/storedash/internal/config"
	"github.com/user/storedash/internal/types"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile()
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("storedash setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		for _, name := range types.AgentNames() {
			key := string(name)
			a := cfg.Agents[key]
			a.BaseURL = prompt(scanner, key+" agent URL", a.BaseURL)
			cfg.Agents[key] = a
		}

		cfg.Coordinator.APIKey = prompt(scanner, "Coordinator API key", cfg.Coordinator.APIKey)
		cfg.HTTP.Timeout = prompt(scanner, "Agent call timeout", cfg.HTTP.Timeout)
		cfg.Health.Interval = prompt(scanner, "Health check interval", cfg.Health.Interval)
		cfg.Server.Listen = prompt(scanner, "Dashboard listen address", cfg.Server.Listen)

		limit := prompt(scanner, "Chat history turns", strconv.Itoa(cfg.Chat.HistoryLimit))
		if n, err := strconv.Atoi(limit); err == nil {
			cfg.Chat.HistoryLimit = n
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid settings: %w", err)
		}
		if err := config.Save(path, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", path)
		return nil
	},
}
