package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/conserje/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			if cfg, err = config.Defaults(); err != nil {
				return err
			}
		}
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Conserje Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.Provider = prompt(scanner, "LLM provider (openai, gemini, none)", cfg.LLM.Provider)
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.BaseURL = prompt(scanner, "LLM base URL", cfg.LLM.BaseURL)
			cfg.LLM.APIKey = prompt(scanner, "LLM API key", cfg.LLM.APIKey)
			cfg.LLM.Model = prompt(scanner, "LLM model name", cfg.LLM.Model)
		case "gemini":
			cfg.Gemini.APIKey = prompt(scanner, "Gemini API key", cfg.Gemini.APIKey)
			cfg.Gemini.Model = prompt(scanner, "Gemini model name", cfg.Gemini.Model)
		}

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.Catalog.PlacesPath = prompt(scanner, "Place catalog path (optional)", cfg.Catalog.PlacesPath)

		if len(cfg.Areas) == 0 || prompt(scanner, "Redefine areas? (s/n)", "n") == "s" {
			cfg.Areas = promptAreas(scanner)
		}

		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("configuration not saved: %w", err)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// promptAreas reads areas until an empty code is entered.
func promptAreas(scanner *bufio.Scanner) []config.AreaConfig {
	fmt.Println("Define the areas incidents are routed to. Leave the code empty to finish.")
	var areas []config.AreaConfig
	for {
		code := prompt(scanner, "Area code (e.g. man)", "")
		if code == "" {
			return areas
		}
		area := config.AreaConfig{
			Code: code,
			Name: prompt(scanner, "  Name", strings.ToUpper(code)),
		}
		if dests := prompt(scanner, "  Destinations, comma-separated (e.g. telegram:-100123)", ""); dests != "" {
			area.Destinations = splitList(dests)
		}
		if kws := prompt(scanner, "  Keywords, comma-separated (optional)", ""); kws != "" {
			area.Keywords = splitList(kws)
		}
		areas = append(areas, area)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
