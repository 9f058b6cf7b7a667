package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media/mux"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/spf13/cobra"
)

func NewManifestCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "manifest <dir>",
		Short: "Show the fragments of a segmented audio recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mux.ReadManifest(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(m, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			rows := make([]map[string]interface{}, 0, len(m.Fragments))
			for _, f := range m.Fragments {
				size := ""
				if f.FileSize != nil {
					size = util.FormatBytes(*f.FileSize)
				}
				rows = append(rows, map[string]interface{}{
					"index":    f.Index,
					"path":     f.Path,
					"duration": fmt.Sprintf("%.3fs", f.Duration),
					"size":     size,
					"complete": f.IsComplete,
				})
			}
			util.RenderTable(out, []util.TableColumn{
				{Header: "INDEX", Key: "index"},
				{Header: "PATH", Key: "path"},
				{Header: "DURATION", Key: "duration"},
				{Header: "BYTES", Key: "size"},
				{Header: "COMPLETE", Key: "complete"},
			}, rows)

			state := "in progress"
			if m.IsComplete {
				state = "complete"
			}
			fmt.Fprintf(out, "\n%d fragments, %s total, %s\n", len(m.Fragments), m.TotalDurationValue().Round(time.Millisecond), state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the manifest as JSON")
	return cmd
}
