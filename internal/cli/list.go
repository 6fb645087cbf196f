package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/mail-sentinel/internal/model"
	"github.com/rcliao/mail-sentinel/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory entries",
		Long:  "List entries most recent first, optionally filtered by kind.",
		Run:   runList,
	}

	cmd.Flags().String("kind", "", "Filter by kind")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	kind, _ := cmd.Flags().GetString("kind")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	entries, err := s.List(cmd.Context(), store.ListParams{
		Kind:  model.Kind(kind),
		Limit: limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}
