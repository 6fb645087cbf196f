package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/mail-sentinel/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test alert through every configured channel",
		Long:  "Dispatches a synthetic high-urgency alert and prints the per-channel outcome.",
		Run:   runNotifyTest,
	}

	RootCmd.AddCommand(cmd)
}

func runNotifyTest(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	logger := newLogger(cfg.Logging)

	d, err := newDispatcher(cfg, logger)
	if err != nil {
		exitErr("build channels", err)
	}
	defer d.Close()

	if len(d.Channels()) == 0 {
		exitErr("notify-test", fmt.Errorf("no channels configured"))
	}

	ev := model.AlertEvent{
		MessageID: "notify-test",
		Subject:   "Test alert",
		Sender:    "mail-sentinel",
		Timestamp: time.Now(),
		Verdict:   model.Verdict{Text: "This is a test alert. Delivery works.", Actionable: true},
		Urgency:   model.UrgencyHigh,
	}

	outcomes := d.Send(cmd.Context(), ev)

	b, _ := json.MarshalIndent(outcomes, "", "  ")
	fmt.Println(string(b))
}
