package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"alphawatch/internal/application/port"
	"alphawatch/internal/infrastructure/config"
	"alphawatch/internal/infrastructure/container"
	"alphawatch/internal/interfaces/console"
)

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Send a test message through every configured channel",
	Long: `notify-test sends one test notification to every channel and reports the
result per channel. It exits non-zero unless every channel succeeded.`,
	RunE: runNotifyTest,
}

var notifyTimeout time.Duration

func init() {
	rootCmd.AddCommand(notifyTestCmd)

	notifyTestCmd.Flags().DurationVar(&notifyTimeout, "timeout", 30*time.Second, "overall send timeout")
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	cfg, lg, err := setup()
	if err != nil {
		return err
	}

	c, err := container.New(cfg, lg,
		container.WithChannel(config.ChannelConsole, console.NewSink(os.Stdout, colorOutput())))
	if err != nil {
		return err
	}
	defer c.Close()

	svc := c.Monitor()
	disp := svc.Dispatcher()
	if disp.Len() == 0 {
		return errors.New("no notification channels configured")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), notifyTimeout)
	defer cancel()
	now := time.Now()
	res := disp.SendAll(ctx, port.Notification{Kind: port.NotifyTest, Text: svc.Formatter().Test(now), At: now})

	out := cmd.OutOrStdout()
	for _, name := range disp.Names() {
		if err := res.PerChannel[name]; err != nil {
			fmt.Fprintf(out, "  ✗ %-16s %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "  ✓ %s\n", name)
	}

	if failed := res.Failed(); len(failed) > 0 {
		return fmt.Errorf("test message failed on: %s", strings.Join(failed, ", "))
	}
	return nil
}
