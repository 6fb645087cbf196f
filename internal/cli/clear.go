package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Wipe the entire memory store",
		Long: "Delete every memory entry, including processed markers. Irreversible:\n" +
			"already-alerted messages inside the fetch window will alert again on the\n" +
			"next cycle.",
		Run: runClear,
	}

	cmd.Flags().Bool("yes", false, "Confirm the wipe")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("clear", fmt.Errorf("refusing to wipe without --yes"))
	}

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	before, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	if err := s.Clear(cmd.Context()); err != nil {
		exitErr("clear", err)
	}

	fmt.Printf("cleared %d entries\n", before.Count)
}
