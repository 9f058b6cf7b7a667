package cmd

import (
	"fmt"

	"github.com/babelcloud/gbox-recorder/config"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/babelcloud/gbox-recorder/internal/version"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gbox-recorder",
	Short: "Record screens, cameras and audio to MP4, WebM or audio segments",
	Long: `gbox-recorder captures a display, window or camera together with a microphone
or system audio and writes a fragmented MP4, a WebM file or segmented audio with a
manifest. Recordings can be paused, resumed and stopped from the keyboard or over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		util.InitLogger(verbose)
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			if err := config.SetConfigFile(path); err != nil {
				return errors.Wrapf(err, "failed to read config file %s", path)
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flag("version").Changed {
			info := version.ClientInfo()
			fmt.Printf("gbox-recorder version %s, build %s\n", info["Version"], info["GitCommit"])
			return nil
		}
		return cmd.Help()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Config file (default searches ./config.yaml, ~/.gbox-recorder, /etc/gbox-recorder)")

	rootCmd.AddCommand(NewRecordCommand())
	rootCmd.AddCommand(NewDevicesCommand())
	rootCmd.AddCommand(NewManifestCommand())
	rootCmd.AddCommand(NewPresetCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
