// Command ndinspect inspects ND image containers from the terminal:
// format detection, dataset summaries and single-chunk reads.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/davidsonlab/ndstore"
)

func main() {
	root := &cobra.Command{
		Use:           "ndinspect",
		Short:         "Inspect ND microscopy image containers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(detectCmd(), infoCmd(), chunkCmd(), manifestCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ndinspect:", err)
		os.Exit(1)
	}
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <path>",
		Short: "Print the detected container format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ndstore.DetectFormat(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), format)
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "info <path>",
		Short: "Summarize a dataset: positions, arrays, warnings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []ndstore.Option
			if strict {
				opts = append(opts, ndstore.WithStrictOpen())
			}
			ds, err := ndstore.Open(args[0], opts...)
			if err != nil {
				return err
			}
			defer ds.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "format:    %s\n", ds.Format)
			if ds.Meta.Name != "" {
				fmt.Fprintf(out, "name:      %s\n", ds.Meta.Name)
			}
			if ds.Meta.SchemaVersion != "" {
				fmt.Fprintf(out, "schema:    %s\n", ds.Meta.SchemaVersion)
			}
			if len(ds.Meta.ChannelNames) > 0 {
				fmt.Fprintf(out, "channels:  %s\n", strings.Join(ds.Meta.ChannelNames, ", "))
			}
			if ds.Plate != nil {
				fmt.Fprintf(out, "plate:     %d rows x %d columns, %d wells\n",
					len(ds.Plate.Rows), len(ds.Plate.Columns), len(ds.Plate.Wells))
			}
			fmt.Fprintf(out, "positions: %d\n", len(ds.Positions()))
			for _, pos := range ds.Positions() {
				name := pos.Name
				if pos.Well != "" {
					name = pos.Well + "/" + name
				}
				for _, arr := range pos.Arrays {
					desc := arr.Descriptor()
					var axes []string
					for _, a := range desc.Axes {
						axes = append(axes, fmt.Sprintf("%s=%d/%d", a.Name, a.Size, a.Chunk))
					}
					bytes := uint64(desc.NumElements() * desc.Dtype.Size())
					fmt.Fprintf(out, "  %s[%s]: %s, %s, %d chunks, %s dense\n",
						name, arr.Name, strings.Join(axes, " "), desc.Dtype,
						desc.NumChunks(), humanize.IBytes(bytes))
					if len(arr.Gaps) > 0 {
						fmt.Fprintf(out, "    gaps: %d chunks missing\n", len(arr.Gaps))
					}
				}
			}
			for _, warning := range ds.Warnings {
				fmt.Fprintf(out, "warning: %s\n", warning)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "treat warnings as errors")
	return cmd
}

func chunkCmd() *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "chunk <path> <coord>",
		Short: "Read one chunk and report its extent and size",
		Long:  "Reads the chunk at a comma-separated grid coordinate, e.g. 0,1,0,2,2.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := parseCoord(args[1])
			if err != nil {
				return err
			}
			ds, err := ndstore.Open(args[0])
			if err != nil {
				return err
			}
			defer ds.Close()
			positions := ds.Positions()
			if len(positions) == 0 {
				return fmt.Errorf("%s: dataset has no positions", args[0])
			}
			arr, err := positions[0].Array(level)
			if err != nil {
				return err
			}
			c, err := arr.GetChunk(coord)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chunk %v: extent %v, %s, %s\n",
				c.Coord, c.Shape, c.Dtype, humanize.IBytes(uint64(len(c.Data))))
			return nil
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "resolution level")
	return cmd
}

func manifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest <path>",
		Short: "Pretty-print a chunked-TIFF store's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ndstore.DetectFormat(args[0])
			if err != nil {
				return err
			}
			if format != ndstore.FormatChunkTiff {
				return fmt.Errorf("%s: %s store has no manifest", args[0], format)
			}
			raw, err := os.ReadFile(filepath.Join(args[0], "manifest.json"))
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, raw, "", "  "); err != nil {
				return fmt.Errorf("%s: malformed manifest: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), buf.String())
			return nil
		},
	}
}

func parseCoord(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	coord := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", s, err)
		}
		coord[i] = v
	}
	return coord, nil
}
