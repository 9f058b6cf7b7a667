package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/babelcloud/gbox-recorder/config"
	"github.com/babelcloud/gbox-recorder/internal/media/devices"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/spf13/cobra"
)

type DevicesOptions struct {
	Kind string
	JSON bool
}

func NewDevicesCommand() *cobra.Command {
	opts := &DevicesOptions{}
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capturable screens, windows, cameras and audio devices",
		Example: `  gbox-recorder devices
  gbox-recorder devices --kind camera
  gbox-recorder devices --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.Kind, "kind", "k", "", "Only list one kind (screen, window, camera, microphone, system_audio)")
	flags.BoolVar(&opts.JSON, "json", false, "Print JSON")

	cmd.RegisterFlagCompletionFunc("kind", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"screen", "window", "camera", "microphone", "system_audio"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runDevices(cmd *cobra.Command, opts *DevicesOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	catalog := devices.Default(config.GetFFmpegPath())
	var (
		targets []devices.Target
		err     error
	)
	if opts.Kind != "" {
		kind, kerr := devices.ParseKind(opts.Kind)
		if kerr != nil {
			return kerr
		}
		targets, err = catalog.ByKind(ctx, kind)
	} else {
		targets, err = catalog.Targets(ctx)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		data, err := json.MarshalIndent(targets, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	rows := make([]map[string]interface{}, 0, len(targets))
	for _, t := range targets {
		size := ""
		if t.Width > 0 && t.Height > 0 {
			size = fmt.Sprintf("%dx%d", t.Width, t.Height)
		}
		def := ""
		if t.Default {
			def = "*"
		}
		rows = append(rows, map[string]interface{}{
			"id":      t.ID,
			"kind":    string(t.Kind),
			"name":    t.Name,
			"size":    size,
			"default": def,
		})
	}
	util.RenderTable(out, []util.TableColumn{
		{Header: "ID", Key: "id"},
		{Header: "KIND", Key: "kind"},
		{Header: "NAME", Key: "name"},
		{Header: "SIZE", Key: "size"},
		{Header: "DEFAULT", Key: "default"},
	}, rows)
	return nil
}
