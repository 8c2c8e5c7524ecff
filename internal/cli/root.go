package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/mgpai22/vidocr/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	logger  *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vidocr",
	Short: "Extract burned-in subtitles from videos",
	Long: `vidocr samples the frames of a video, skips frames that look the same,
recognizes the subtitle text on the rest and merges the results into
timed subtitle cues.

It supports multiple recognition providers and subtitle formats.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.NewLogger(verbose)
	},
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output file path (- writes to stdout)")
	rootCmd.PersistentFlags().
		StringP("language", "l", "", "Subtitle language (e.g., en, ch, Japanese)")
	rootCmd.PersistentFlags().
		String("config", "", "Config file (.yaml, .yml or .toml)")
}
