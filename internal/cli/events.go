package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/splitpage/internal/store"
)

var eventsFlags struct {
	format     string
	site       string
	kind       string
	experiment int
	limit      int
	counts     bool
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Export captured events",
	Long: `Export the events the collector captured, in CSV or JSON format.

Examples:
  splitpage events --format csv > events.csv
  splitpage events --experiment 12 --kind conversion --format json
  splitpage events --experiment 12 --counts`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	f := eventsCmd.Flags()
	f.StringVarP(&eventsFlags.format, "format", "f", "csv", "output format (csv or json)")
	f.StringVar(&eventsFlags.site, "site", "", "only events of this site")
	f.StringVar(&eventsFlags.kind, "kind", "", "only events of this type")
	f.IntVar(&eventsFlags.experiment, "experiment", 0, "only events of this experiment")
	f.IntVar(&eventsFlags.limit, "limit", 0, "maximum number of events")
	f.BoolVar(&eventsFlags.counts, "counts", false, "print per-alternative counts of --experiment instead")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	if eventsFlags.counts {
		return runCounts(cmd)
	}
	if eventsFlags.format != "csv" && eventsFlags.format != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLiteStore) error {
		events, err := s.ListEvents(cmd.Context(), store.EventFilter{
			SiteID:     eventsFlags.site,
			Experiment: eventsFlags.experiment,
			Kind:       eventsFlags.kind,
			Limit:      eventsFlags.limit,
		})
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}

		if eventsFlags.format == "csv" {
			return exportCSV(cmd.OutOrStdout(), events)
		}
		return exportJSON(cmd.OutOrStdout(), events)
	})
}

func exportCSV(out io.Writer, events []*store.Event) error {
	w := csv.NewWriter(out)
	defer w.Flush()

	header := []string{"id", "site", "type", "experiment", "alternative", "goal", "heatmap", "unique_id", "occurred_at"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range events {
		goal := ""
		if e.Goal != nil {
			goal = strconv.Itoa(*e.Goal)
		}
		row := []string{
			e.ID,
			e.SiteID,
			e.Kind,
			strconv.Itoa(e.Experiment),
			strconv.Itoa(e.Alternative),
			goal,
			strconv.Itoa(e.Heatmap),
			e.UniqueID,
			strconv.FormatInt(e.OccurredAt.UnixMilli(), 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

type jsonExport struct {
	Events []json.RawMessage `json:"events"`
}

// exportJSON writes the records as the tracker sent them.
func exportJSON(out io.Writer, events []*store.Event) error {
	export := jsonExport{
		Events: make([]json.RawMessage, len(events)),
	}
	for i, e := range events {
		export.Events[i] = e.Payload
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// runCounts prints the raw per-alternative counts of one experiment.
func runCounts(cmd *cobra.Command) error {
	if eventsFlags.experiment == 0 {
		return fmt.Errorf("--counts needs --experiment")
	}

	site := eventsFlags.site
	if site == "" {
		s, err := loadSettings()
		if err != nil {
			return fmt.Errorf("--counts needs --site or a settings file: %w", err)
		}
		site = s.SiteID
	}

	return withStore(func(st *store.SQLiteStore) error {
		rows, err := st.GetAlternativeStats(cmd.Context(), site, eventsFlags.experiment)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No events for experiment %d on %s\n", eventsFlags.experiment, site)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ALTERNATIVE\tVISITS\tUNIQUE VISITORS\tCONVERSIONS\tUNIQUE CONVERSIONS")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\n", r.Alternative, r.Visits, r.UniqueVisitors, r.Conversions, r.UniqueConversions)
		}
		return w.Flush()
	})
}
