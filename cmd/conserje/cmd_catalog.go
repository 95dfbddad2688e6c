package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/nlu"
	"github.com/user/conserje/internal/resolve"
)

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogCheckCmd, catalogResolveCmd)
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the place and area catalogs",
}

func catalogPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	cfg := loadConfig()
	if cfg.Catalog.PlacesPath == "" {
		return "", fmt.Errorf("catalog.places_path is not set")
	}
	return cfg.Catalog.PlacesPath, nil
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check [path]",
	Short: "Load the place catalog and report index statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := catalogPath(args)
		if err != nil {
			return err
		}
		ix, err := catalog.NewLoader(zap.NewNop()).Load(path)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "path\t%s\n", path)
		fmt.Fprintf(w, "entries\t%d\n", ix.Len())
		fmt.Fprintf(w, "rooms\t%d\n", ix.Rooms())
		fmt.Fprintf(w, "phrases\t%d\n", ix.Phrases())
		fmt.Fprintf(w, "duplicates\t%d\n", len(ix.Duplicates()))
		if err := w.Flush(); err != nil {
			return err
		}
		for _, d := range ix.Duplicates() {
			fmt.Fprintf(os.Stdout, "  duplicate: %s\n", d)
		}
		return nil
	},
}

var catalogResolveCmd = &cobra.Command{
	Use:   "resolve <text>",
	Short: "Show how a guest message resolves to a place and an area",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		text := strings.Join(args, " ")

		loader := catalog.NewLoader(zap.NewNop())
		if cfg.Catalog.PlacesPath != "" {
			if _, err := loader.Load(cfg.Catalog.PlacesPath); err != nil {
				return err
			}
		}
		areas, err := buildAreas(cfg)
		if err != nil {
			return err
		}

		ctx := context.Background()
		places := resolve.NewPlaceResolver(loader, nil, nil)
		place := places.Resolve(ctx, resolve.PlaceQuery{Text: text}, resolve.PlaceOptions{})
		area, source, areaFound := resolve.NewAreaResolver(areas, nlu.NewKeywordAreaDetector(areas), nil).
			Suggest(ctx, text, nil, nil)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if _, err := places.Catalog(); err != nil {
			fmt.Fprintf(w, "catalog\t%v\n", err)
		}
		if place.Committed {
			fmt.Fprintf(w, "place\t%s (%s)\n", place.Label, place.Source)
			if place.Building != "" || place.Floor != "" || place.Room != "" {
				fmt.Fprintf(w, "location\tbuilding=%s floor=%s room=%s\n", place.Building, place.Floor, place.Room)
			}
		} else {
			fmt.Fprintf(w, "place\t-\n")
		}
		if len(place.Suggestions) > 0 {
			fmt.Fprintf(w, "suggestions\t%s\n", strings.Join(place.Suggestions, ", "))
		}
		if areaFound {
			fmt.Fprintf(w, "area\t%s (%s, from %s)\n", strings.ToUpper(area), areas.Name(area), source)
		} else {
			fmt.Fprintf(w, "area\t-\n")
		}
		return w.Flush()
	},
}
