package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	st, dbPath, err := openStore(false)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read statistics: %w", err)
	}

	if statsJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Corpus: %s\n", dbPath)
	fmt.Printf("  Resources: %d\n", stats.Resources)
	fmt.Printf("  Chunks:    %d\n", stats.Chunks)
	fmt.Printf("  Images:    %d\n", stats.Images)

	if len(stats.ByCategory) > 0 {
		fmt.Println("\nResources by category:")
		categories := make([]string, 0, len(stats.ByCategory))
		for c := range stats.ByCategory {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		for _, c := range categories {
			fmt.Printf("  %-20s %d\n", c, stats.ByCategory[c])
		}
	}
	return nil
}
