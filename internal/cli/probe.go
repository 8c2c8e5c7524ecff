package cli

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/mgpai22/vidocr/internal/subtitle"
	"github.com/mgpai22/vidocr/internal/video"
)

var probeCmd = &cobra.Command{
	Use:   "probe [video_file]",
	Short: "Show the frame layout of a video file",
	Long: `Show the frame count, frame rate and geometry that extraction works with,
including the default recognition area and the merge gap at this frame rate.

Examples:
  vidocr probe video.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	info, err := video.Probe(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	fmt.Println(renderInfo(info))
	return nil
}

func renderInfo(info *video.Info) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Property", "Value"})

	tw.AppendRows([]table.Row{
		{"Path", info.Path},
		{"Codec", info.Codec},
		{"Resolution", fmt.Sprintf("%dx%d", info.Width, info.Height)},
		{"Frame rate", strconv.FormatFloat(info.FPS, 'f', 3, 64)},
		{"Frames", info.FrameCount},
		{"Duration", info.Duration.String()},
		{"Default crop", fmt.Sprintf("0,%d,%d,%d", info.Height/3, info.Width, info.Height-info.Height/3)},
		{"Merge gap (frames)", subtitle.MaxMergeGap(info.FPS)},
	})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
