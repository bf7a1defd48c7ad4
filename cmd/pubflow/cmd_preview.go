package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pubflow/internal/api"
)

var (
	previewStart string
	previewEnd   string
	previewDays  int
	previewItems int
	previewTotal int
	previewMin   int
	previewMax   int
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show how a batch would be spread over a window",
	Long: `Print the per-day allocation a run would use, next to advisory estimates
weighted by weekday and position in the window.

Examples:
  # 500 items over five working days from a Monday
  pubflow preview --start 2025-06-02 --days 5 --total 500

  # smallest window that holds 130 items
  pubflow preview --items 130 --min 50 --max 80
`,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewStart, "start", "", "first day, YYYY-MM-DD (default today)")
	previewCmd.Flags().StringVar(&previewEnd, "end", "", "last day, YYYY-MM-DD")
	previewCmd.Flags().IntVar(&previewDays, "days", 0, "number of working days")
	previewCmd.Flags().IntVar(&previewItems, "items", 0, "size the window for this many items")
	previewCmd.Flags().IntVar(&previewTotal, "total", 0, "items to allocate (default --items)")
	previewCmd.Flags().IntVar(&previewMin, "min", 0, "minimum items per day (default from config)")
	previewCmd.Flags().IntVar(&previewMax, "max", 0, "maximum items per day (default from config)")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	req := api.PreviewRequest{
		Start:     previewStart,
		End:       previewEnd,
		Days:      previewDays,
		Items:     previewItems,
		Total:     previewTotal,
		MinPerDay: previewMin,
		MaxPerDay: previewMax,
	}
	if req.Start == "" {
		req.Start = time.Now().In(cfg.Location).Format("2006-01-02")
	}
	if req.MinPerDay == 0 {
		req.MinPerDay = cfg.MinPerDay
	}
	if req.MaxPerDay == 0 {
		req.MaxPerDay = cfg.MaxPerDay
	}

	resp, err := api.BuildPreview(cfg.Calendar(), req)
	if err != nil {
		return err
	}

	fmt.Printf("window %s .. %s, %d working days, capacity %d\n",
		resp.Window.Start, resp.Window.End, resp.Window.DayCount, resp.Window.MaxCapacity)
	if resp.Expansion != nil {
		fmt.Printf("expanded from %d to %d days\n", resp.Expansion.FromDays, resp.Expansion.ToDays)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tDAY\tPLANNED\tESTIMATE")
	for i, d := range resp.Days {
		weekday := resp.Estimates[i].Date.Weekday().String()[:3]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", d.Date, weekday, d.Planned, d.Estimated)
	}
	return tw.Flush()
}
