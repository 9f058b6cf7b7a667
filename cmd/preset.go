package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/babelcloud/gbox-recorder/config"
	"github.com/babelcloud/gbox-recorder/internal/preset"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewPresetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage recording presets",
		Long:  `Presets are named sets of targets and encoding settings stored in presets.toml in the recorder home. The current preset is applied by record unless --preset names another.`,
	}
	cmd.AddCommand(newPresetListCommand())
	cmd.AddCommand(newPresetAddCommand())
	cmd.AddCommand(newPresetUseCommand())
	cmd.AddCommand(newPresetDeleteCommand())
	return cmd
}

func loadPresets() (*preset.Manager, error) {
	m := preset.NewManager(config.GetPresetPath())
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

func newPresetListCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadPresets()
			if err != nil {
				return err
			}
			entries := m.List()
			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No presets found")
				return nil
			}

			rows := make([]map[string]interface{}, 0, len(entries))
			for _, e := range entries {
				name := "  " + e.Name
				if e.Current {
					name = color.GreenString("→ " + e.Name)
				}
				rows = append(rows, map[string]interface{}{
					"name":    name,
					"targets": presetTargets(e.Preset),
					"format":  e.Preset.Format,
					"video":   e.Preset.VideoEncoder,
					"audio":   e.Preset.AudioEncoder,
				})
			}
			util.RenderTable(out, []util.TableColumn{
				{Header: "  NAME", Key: "name"},
				{Header: "TARGETS", Key: "targets"},
				{Header: "FORMAT", Key: "format"},
				{Header: "VIDEO", Key: "video"},
				{Header: "AUDIO", Key: "audio"},
			}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func presetTargets(p preset.Preset) string {
	var s string
	for _, t := range []string{p.Screen, p.Window, p.Camera, p.Microphone, p.SystemAudio} {
		if t == "" {
			continue
		}
		if s != "" {
			s += ", "
		}
		s += t
	}
	return s
}

func newPresetAddCommand() *cobra.Command {
	var capture captureFlags
	var use bool
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Save a preset, replacing one of the same name",
		Example: `  gbox-recorder preset add meeting --camera camera --mic microphone --format webm
  gbox-recorder preset add voice --mic microphone --format segmented --segment-duration 5s --use`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadPresets()
			if err != nil {
				return err
			}
			p := capture.preset()
			if !p.HasTargets() {
				return errors.New("a preset needs at least one target flag")
			}
			name, err := m.Add(args[0], p)
			if err != nil {
				return err
			}
			if use {
				if err := m.Use(name); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preset %s saved to %s\n", color.CyanString(name), m.Path())
			return nil
		},
	}
	capture.register(cmd)
	cmd.Flags().BoolVar(&use, "use", false, "Make the preset current")
	return cmd
}

func newPresetUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the current preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadPresets()
			if err != nil {
				return err
			}
			if err := m.Use(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Current preset is now %s\n", color.CyanString(args[0]))
			return nil
		},
	}
}

func newPresetDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Delete a preset",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadPresets()
			if err != nil {
				return err
			}
			if err := m.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Preset %s deleted\n", args[0])
			return nil
		},
	}
}
