package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"vclip/server/internal/captions"
	"vclip/server/internal/timecode"
)

func newCaptionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "captions",
		Short:       "Caption file utilities",
		Annotations: map[string]string{"skip_config": "true"},
	}
	cmd.AddCommand(newCaptionsExtractCommand())
	return cmd
}

func newCaptionsExtractCommand() *cobra.Command {
	var in, out, start, end string
	cmd := &cobra.Command{
		Use:         "extract",
		Short:       "Cut an SRT file down to a time window, re-timed to start at zero",
		Annotations: map[string]string{"skip_config": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if in == "" || out == "" {
				return errors.New("--in and --out are required")
			}
			ws, we := timecode.Parse(start), timecode.Parse(end)
			if we <= ws {
				return fmt.Errorf("window end %q must be after start %q", end, start)
			}
			if _, err := captions.ExtractFile(in, ws, we, out); err != nil {
				return err
			}
			written, err := captions.ReadFile(out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d cues to %s\n", len(written), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Source SRT file")
	cmd.Flags().StringVar(&out, "out", "", "Destination SRT file")
	cmd.Flags().StringVar(&start, "start", "0", "Window start (HH:MM:SS,mmm, MM:SS or seconds)")
	cmd.Flags().StringVar(&end, "end", "", "Window end (HH:MM:SS,mmm, MM:SS or seconds)")
	return cmd
}
