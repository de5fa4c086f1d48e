package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"agentcraft.ai/internal/agent/recipe"
	"agentcraft.ai/internal/sim/catalogs"
	"agentcraft.ai/internal/tuning"
)

func resolveCmd() *cobra.Command {
	var (
		configDir  string
		tuningPath string
		spare      bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <requirement> [item=count ...]",
		Short: "Show how a requirement can be met from an inventory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cats, err := catalogs.Load(configDir)
			if err != nil {
				return fmt.Errorf("load catalogs: %w", err)
			}
			inv, err := parseInventory(args[1:])
			if err != nil {
				return err
			}
			res := recipe.NewResolver(cats)

			var (
				out recipe.Resolution
				ok  bool
			)
			if spare {
				tune, err := tuning.Load(tuningPathOr(tuningPath, configDir))
				if err != nil {
					return err
				}
				out, ok = res.ResolveWithSpare(args[0], inv, tune.Share)
			} else {
				out, ok = res.Resolve(args[0], inv)
			}
			if !ok {
				return fmt.Errorf("%s cannot be produced from %v", args[0], inv)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&configDir, "configs", "./configs", "config directory")
	cmd.Flags().StringVar(&tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	cmd.Flags().BoolVar(&spare, "spare", false, "only use what the sharing policy lets the holder give away")
	return cmd
}

// parseInventory reads "item=count" pairs.
func parseInventory(args []string) (recipe.Inventory, error) {
	inv := recipe.Inventory{}
	for _, a := range args {
		item, n, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("bad inventory entry %q, want item=count", a)
		}
		count, err := strconv.Atoi(n)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("bad count in %q", a)
		}
		inv[strings.TrimSpace(item)] += count
	}
	return inv, nil
}

func tuningPathOr(path, configDir string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return configDir + "/tuning.yaml"
}
