package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/babelcloud/gbox-recorder/config"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/devices"
	"github.com/babelcloud/gbox-recorder/internal/preset"
	"github.com/babelcloud/gbox-recorder/internal/recording"
	"github.com/babelcloud/gbox-recorder/internal/server"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const stopTimeout = 30 * time.Second

type RecordOptions struct {
	capture     captureFlags
	Output      string
	Dir         string
	Preset      string
	NoConvert   bool
	NoKeys      bool
	Duration    time.Duration
	ControlPort int
	Clock       string
}

func NewRecordCommand() *cobra.Command {
	return newRecordCommand(&RecordOptions{})
}

func newRecordCommand(opts *RecordOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record until stopped",
		Long: `Record the selected targets until you press q, send Ctrl+C, reach --duration
or stop the recording over the control server. Press p to pause and resume.

Without target flags the current preset's targets are used, or the default screen.`,
		Example: `  gbox-recorder record
  gbox-recorder record --screen screen --mic microphone --duration 30s
  gbox-recorder record --camera camera --format webm -o demo.webm
  gbox-recorder record --screen screen --mic microphone --clock hardware
  gbox-recorder record --mic microphone --format segmented --segment-duration 5s
  gbox-recorder record --preset meeting --control-port 29900`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, opts)
		},
	}

	opts.capture.register(cmd)
	flags := cmd.Flags()
	flags.StringVarP(&opts.Output, "output", "o", "", "Output file (or directory in segmented mode)")
	flags.StringVar(&opts.Dir, "dir", "", "Directory for generated output names")
	flags.StringVarP(&opts.Preset, "preset", "p", "", "Preset to start from (default: the current preset)")
	flags.BoolVar(&opts.NoConvert, "no-convert", false, "Convert frames inline instead of on the worker pool")
	flags.BoolVar(&opts.NoKeys, "no-keys", false, "Do not read single-key commands from the terminal")
	flags.DurationVarP(&opts.Duration, "duration", "d", 0, "Stop after this much recorded time")
	flags.IntVar(&opts.ControlPort, "control-port", 0, "Serve the HTTP/WebSocket control API on this port")
	flags.StringVar(&opts.Clock, "clock", "", "Timestamp clock: realtime or hardware (default from config)")

	cmd.RegisterFlagCompletionFunc("preset", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		m := preset.NewManager(config.GetPresetPath())
		if err := m.Load(); err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		var names []string
		for _, e := range m.List() {
			names = append(names, e.Name)
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

// sessionOptions layers config, then the preset, then explicit flags.
func (o *RecordOptions) sessionOptions(cmd *cobra.Command) (recording.Options, error) {
	opts := recording.DefaultOptions()
	opts.OutputDir = config.GetOutputDir()
	opts.Format = config.GetFormat()
	opts.FPS = config.GetFPS()
	opts.MaxWidth = config.GetMaxWidth()
	opts.VideoEncoder = config.GetVideoEncoder()
	opts.AudioEncoder = config.GetAudioEncoder()
	opts.SegmentDuration = config.GetSegmentDuration()
	opts.Convert = config.GetPoolEnabled()
	opts.Pool = config.GetPoolConfig()
	opts.Fallback.MaxRetryAttempts = config.GetFallbackMaxAttempts()
	opts.Fallback.RetryDelay = config.GetFallbackRetryDelay()
	opts.Mux.FragmentDuration = config.GetFragmentDuration()
	opts.Mux.EncoderRetries = config.GetEncoderRetries()
	opts.Mux.FFmpegPath = config.GetFFmpegPath()
	opts.ClockMode = config.GetClockMode()

	m := preset.NewManager(config.GetPresetPath())
	if err := m.Load(); err != nil {
		return opts, err
	}
	if o.Preset != "" {
		p, err := m.Get(o.Preset)
		if err != nil {
			return opts, err
		}
		if err := p.Apply(&opts); err != nil {
			return opts, errors.Wrapf(err, "preset %q", o.Preset)
		}
	} else if name, p, ok := m.Current(); ok {
		if err := p.Apply(&opts); err != nil {
			return opts, errors.Wrapf(err, "preset %q", name)
		}
	}

	o.capture.apply(&opts)
	if cmd.Flags().Changed("dir") {
		opts.OutputDir = o.Dir
	}
	if o.NoConvert {
		opts.Convert = false
	}
	if cmd.Flags().Changed("clock") {
		mode, err := clock.ParseMode(o.Clock)
		if err != nil {
			return opts, err
		}
		opts.ClockMode = mode
	}
	opts.OutputPath = o.Output
	return opts, nil
}

func runRecord(cmd *cobra.Command, o *RecordOptions) error {
	opts, err := o.sessionOptions(cmd)
	if err != nil {
		return err
	}
	logger := util.ComponentLogger("record")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := recording.NewSession(opts, recording.Deps{Catalog: devices.Default(opts.Mux.FFmpegPath)})
	events, unsubscribe := session.Events(64)
	defer unsubscribe()

	con := newConsole(cmd.OutOrStdout(), util.IsVerbose())
	sp := con.spin("Acquiring capture devices...")
	if err := session.Start(ctx); err != nil {
		sp.fail("Could not start recording")
		return err
	}
	sp.success("Capture devices ready")
	con.describe(session.Status())

	port := o.ControlPort
	if !cmd.Flags().Changed("control-port") {
		port = config.GetServerPort()
	}
	if port > 0 {
		srv := server.New(port, session)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("Control server failed", "port", port, "error", err)
			}
		}()
		defer srv.Stop()
		con.printf("  control http://127.0.0.1:%d/api/recording/status\n", port)
	}

	keys := make(chan byte, 8)
	if fd := int(os.Stdin.Fd()); !o.NoKeys && term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			logger.Warn("Failed to enter raw terminal mode, keys disabled", "error", err)
		} else {
			con.setRaw(true)
			defer func() {
				con.clear()
				term.Restore(fd, state)
				con.setRaw(false)
			}()
			go readKeys(os.Stdin, keys)
			con.printf("%s\n", color.New(color.Faint).Sprint("  p pause/resume, q stop"))
		}
	} else {
		con.printf("%s\n", color.New(color.Faint).Sprint("  Ctrl+C to stop"))
	}

	var limit <-chan time.Time
	if o.Duration > 0 {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		limit = t.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-limit:
			if session.Status().Elapsed >= o.Duration {
				break loop
			}
		case k := <-keys:
			switch k {
			case 'p', 'P', ' ':
				if err := togglePause(session); err != nil {
					con.printf("  %s %v\n", color.RedString("✗"), err)
				}
			case 'q', 'Q', 3, 4: // Ctrl+C and Ctrl+D arrive as bytes in raw mode
				break loop
			}
		case e, ok := <-events:
			if !ok {
				// The session ended on its own: a stream failure or a remote stop.
				break loop
			}
			con.event(e, session.Status)
		}
	}
	con.clear()

	sp = con.spin("Finishing recording...")
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	res, err := session.Stop(stopCtx)
	if err != nil {
		sp.fail("Recording failed")
		if res != nil {
			con.result(res)
		}
		return err
	}
	sp.success("Recording finished")
	con.result(res)
	return nil
}

func togglePause(s *recording.Session) error {
	if s.State() == recording.StatePaused {
		return s.Resume()
	}
	return s.Pause()
}

func readKeys(r *os.File, keys chan<- byte) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		if n == 1 {
			keys <- buf[0]
		}
	}
}
