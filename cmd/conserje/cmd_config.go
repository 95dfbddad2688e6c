package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/conserje/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configCheckCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List the effective configuration, secrets masked",
	Long: `List every effective key. An optional prefix narrows the output, e.g.
"conserje config list areas.0" or "conserje config list intake".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := config.ListValues(loadConfig(), true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		prefix := ""
		if len(args) == 1 {
			prefix = strings.TrimSuffix(args[0], ".")
		}

		shown := 0
		for _, k := range slices.Sorted(maps.Keys(values)) {
			if prefix != "" && k != prefix && !strings.HasPrefix(k, prefix+".") {
				continue
			}
			fmt.Fprintf(os.Stdout, "%s = %v\n", k, values[k])
			shown++
		}
		if shown == 0 && prefix != "" {
			return fmt.Errorf("no keys under %q", prefix)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a value stored in the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		if s, ok := val.(string); ok && config.IsSecretKey(args[0]) {
			val = config.Mask(s)
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a scalar value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		display := args[1]
		if config.IsSecretKey(args[0]) {
			display = config.Mask(display)
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], display)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and summarize the areas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		areas, err := buildAreas(cfg)
		if err != nil {
			return err
		}
		for _, a := range areas.List() {
			dests := strings.Join(a.Destinations, ", ")
			if dests == "" {
				dests = "(no destinations)"
			}
			fmt.Fprintf(os.Stdout, "%-6s %-20s %s  %s\n",
				strings.ToUpper(a.Code), a.Name, areas.FolioPrefix(a.Code), dests)
		}
		fmt.Fprintf(os.Stdout, "Configuration OK: %d areas, sessions=%s, incidents=%s.\n",
			len(areas.List()), cfg.Storage.Sessions, cfg.Storage.Incidents)
		return nil
	},
}
