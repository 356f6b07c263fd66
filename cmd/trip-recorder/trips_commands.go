package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"go-trip-recorder/export"
	"go-trip-recorder/store"
)

func newTripsCommand(ctx *commandContext) *cobra.Command {
	tripsCmd := &cobra.Command{
		Use:   "trips",
		Short: "Inspect and manage stored trips",
	}

	tripsCmd.AddCommand(newTripsListCommand(ctx))
	tripsCmd.AddCommand(newTripsShowCommand(ctx))
	tripsCmd.AddCommand(newTripsExportCommand(ctx))
	tripsCmd.AddCommand(newTripsImportCommand(ctx))
	tripsCmd.AddCommand(newTripsDeleteCommand(ctx))
	tripsCmd.AddCommand(newTripsClearCommand(ctx))
	tripsCmd.AddCommand(newTripsStatsCommand(ctx))

	return tripsCmd
}

func newTripsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored trips, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.store(cmd)
			if err != nil {
				return err
			}
			trips, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, trips)
			}
			if len(trips) == 0 {
				fmt.Fprintln(out, "No trips recorded")
				return nil
			}
			rows := make([][]string, 0, len(trips))
			for _, t := range trips {
				rows = append(rows, []string{
					t.ID,
					formatStart(t.StartedAtMs),
					formatDuration(t.Stats.DurationMs),
					formatDistance(t.Stats.DistanceMeters),
					humanize.Comma(int64(t.Stats.PointCount)),
					formatSpeed(t.Stats.AvgSpeedKph),
					t.DriveType,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Started", "Duration", "Distance", "Points", "Avg", "Type"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newTripsShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one trip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.store(cmd)
			if err != nil {
				return err
			}
			t, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return tripError(args[0], err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), t)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTripSummary(t))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the full trip record as JSON")
	return cmd
}

func newTripsExportCommand(ctx *commandContext) *cobra.Command {
	var formatName string
	var outPath string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a trip as GPX or GeoJSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := formatName
			if name == "" && outPath != "" {
				name = filepath.Ext(outPath)
			}
			if name == "" {
				name = string(export.FormatGPX)
			}
			format, err := export.ParseFormat(name)
			if err != nil {
				return err
			}

			st, err := ctx.store(cmd)
			if err != nil {
				return err
			}
			t, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return tripError(args[0], err)
			}

			if outPath == "" || outPath == "-" {
				return export.Write(cmd.OutOrStdout(), format, t)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", outPath, err)
			}
			w := bufio.NewWriter(f)
			if err := export.Write(w, format, t); err != nil {
				f.Close()
				return err
			}
			if err := w.Flush(); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", "", "Output format: gpx or geojson (default from --output extension, else gpx)")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newTripsImportCommand(ctx *commandContext) *cobra.Command {
	var formatName string

	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import GPX or GeoJSON documents as finalized trips",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.store(cmd)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				format := export.Detect(path, data)
				if formatName != "" {
					if format, err = export.ParseFormat(formatName); err != nil {
						return err
					}
				}
				t, err := export.Parse(format, data, cfg.Recording.EarthRadiusMeters)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if t.ID == "" {
					t.ID = uuid.NewString()
				}
				if err := st.Add(cmd.Context(), t); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(out, "Imported %s as %s (%d points)\n", path, t.ID, len(t.Points))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", "", "Input format: gpx or geojson (default: detect)")
	return cmd
}

func newTripsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete stored trips",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.store(cmd)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := st.Delete(cmd.Context(), id); err != nil {
					return tripError(id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}

func newTripsClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored trip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			st, err := ctx.store(cmd)
			if err != nil {
				return err
			}
			if err := st.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All trips deleted")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion of all trips")
	return cmd
}

func newTripsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the trip store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, err := ctx.store(cmd)
			if err != nil {
				return err
			}
			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			location := cfg.Store.Path
			if cfg.Store.Backend == store.BackendRedis {
				location = cfg.Store.RedisAddr
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Store", "Value"}, [][]string{
				{"Backend", cfg.Store.Backend},
				{"Location", location},
				{"Trips", humanize.Comma(int64(stats.TripCount))},
				{"Points", humanize.Comma(int64(stats.TotalPoints))},
				{"Size", humanize.Bytes(uint64(stats.Bytes))},
			}, nil))
			return nil
		},
	}
}

func tripError(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("trip %s not found", strings.TrimSpace(id))
	}
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
