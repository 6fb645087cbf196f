package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one monitor cycle",
		Long: "Fetch, filter, dedupe, classify, alert and persist once, then print the\n" +
			"run summary as JSON. Exits non-zero if the cycle aborted during fetch.",
		Run: runRun,
	}

	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	logger := newLogger(cfg.Logging)

	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	d, err := newDispatcher(cfg, logger)
	if err != nil {
		exitErr("configure channels", err)
	}
	defer d.Close()

	m := newMonitor(cfg, s, d, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary := m.RunCycle(ctx)

	b, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(b))

	if summary.Failed() {
		os.Exit(1)
	}
}
