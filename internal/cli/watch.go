package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yungbote/postsecret-pipeline/internal/realtime"
)

var watchCmd = &cobra.Command{
	Use:   "watch [job-uuid]",
	Short: "Stream job progress events published on Redis",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if application.Cfg.Redis.Addr == "" {
			return fmt.Errorf("watch needs REDIS_ADDR")
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		b := application.Services.Bus

		var channels []string
		if len(args) == 1 {
			ch := realtime.JobChannel(args[0])
			channels = append(channels, ch)
			last, err := b.Last(ctx, ch)
			if err != nil {
				return fmt.Errorf("read last event: %w", err)
			}
			if last != nil {
				printEvent(out, *last)
			}
		}
		if err := b.StartForwarder(ctx, func(m realtime.Message) { printEvent(out, m) }, channels...); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

func printEvent(out io.Writer, m realtime.Message) {
	raw, err := json.Marshal(m.Data)
	if err != nil {
		return
	}
	fmt.Fprintf(out, "%s %s %s\n", m.Channel, m.Event, raw)
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
