package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/recording"
	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// console prints the record command's output. In raw terminal mode line
// feeds need an explicit carriage return, and a live status line is
// cleared before any other output.
type console struct {
	out   io.Writer
	debug bool

	mu     sync.Mutex
	raw    bool
	status bool
}

func newConsole(out io.Writer, debug bool) *console {
	return &console{out: out, debug: debug}
}

func (c *console) setRaw(raw bool) {
	c.mu.Lock()
	c.raw = raw
	c.mu.Unlock()
}

func (c *console) printf(format string, a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	text := fmt.Sprintf(format, a...)
	if c.raw {
		text = strings.ReplaceAll(text, "\n", "\r\n")
	}
	fmt.Fprint(c.out, text)
}

// statusLine redraws the single live line.
func (c *console) statusLine(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, "\r\033[K"+s)
	c.status = true
}

func (c *console) clear() {
	c.mu.Lock()
	c.clearLocked()
	c.mu.Unlock()
}

func (c *console) clearLocked() {
	if c.status {
		fmt.Fprint(c.out, "\r\033[K")
		c.status = false
	}
}

// uiSpinner shows progress while devices are acquired. With debug logging
// on, it prints plain lines instead so log output stays readable.
type uiSpinner struct {
	sp  *spinner.Spinner
	con *console
}

func (c *console) spin(message string) *uiSpinner {
	s := &uiSpinner{con: c}
	if c.debug {
		c.printf("%s\n", message)
		return s
	}
	s.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.out))
	s.sp.Prefix = "  "
	s.sp.Suffix = " " + message
	s.sp.Start()
	return s
}

func (s *uiSpinner) stop() {
	if s.sp != nil {
		s.sp.Stop()
		fmt.Fprint(s.con.out, "\r\033[K")
	}
}

func (s *uiSpinner) success(message string) {
	s.stop()
	s.con.printf("  %s %s\n", color.GreenString("✓"), message)
}

func (s *uiSpinner) fail(message string) {
	s.stop()
	s.con.printf("  %s %s\n", color.RedString("✗"), message)
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

func trackLine(kind string, t *recording.TrackInfo) string {
	name := t.Target
	if t.Name != "" {
		name = fmt.Sprintf("%s (%s)", t.Name, t.Target)
	}
	return fmt.Sprintf("  %-6s %s, %s", kind, name, t.Config)
}

// describe prints what is being recorded and where.
func (c *console) describe(st recording.Status) {
	c.printf("%s %s\n", color.New(color.Bold).Sprint("Recording to"), color.CyanString(st.Path))
	if st.Video != nil {
		c.printf("%s\n", trackLine("video", st.Video))
	}
	if st.Audio != nil {
		c.printf("%s\n", trackLine("audio", st.Audio))
	}
	for _, ig := range st.Ignored {
		c.printf("  %s %s\n", color.New(color.Faint).Sprint("ignored"), ig)
	}
}

func (c *console) progress(st recording.Status) {
	var parts []string
	if v := st.Stats.Muxer.Video; v != nil {
		parts = append(parts, fmt.Sprintf("video %d", v.Accepted))
	}
	if a := st.Stats.Muxer.Audio; a != nil {
		parts = append(parts, fmt.Sprintf("audio %d", a.Accepted))
	}
	if p := st.Stats.Pool; p != nil && p.Dropped > 0 {
		parts = append(parts, color.YellowString("dropped %d", p.Dropped))
	}
	if st.Stats.Muxer.Segments > 0 {
		parts = append(parts, fmt.Sprintf("segments %d", st.Stats.Muxer.Segments))
	}

	marker := color.New(color.FgRed, color.Bold).Sprint("● REC")
	if st.State == recording.StatePaused {
		marker = color.New(color.FgYellow, color.Bold).Sprint("❚❚ PAUSED")
	}
	c.statusLine(fmt.Sprintf("%s %s  %s", marker, formatElapsed(st.Elapsed), strings.Join(parts, "  ")))
}

// event renders one session event. status is consulted for events that
// carry no snapshot of their own.
func (c *console) event(e recording.Event, status func() recording.Status) {
	switch e.Type {
	case recording.EventProgress:
		if e.Status != nil {
			c.progress(*e.Status)
		}
	case recording.EventPaused, recording.EventResumed:
		c.progress(status())
	case recording.EventDeviceFallback:
		c.printf("  %s %s %s: %s\n", color.YellowString("!"), e.Track, e.Device, e.Message)
	case recording.EventError:
		track := e.Track
		if track == "" {
			track = "session"
		}
		c.printf("  %s %s: %s\n", color.RedString("✗"), track, e.Message)
	}
}

func (c *console) result(res *recording.Result) {
	c.printf("%s %s\n", color.GreenString("Saved"), color.CyanString(res.Path))
	c.printf("  duration %s", formatElapsed(res.Duration))
	if res.Stats.Muxer.Bytes > 0 {
		c.printf(", %s", util.FormatBytes(res.Stats.Muxer.Bytes))
	}
	if res.Stats.Muxer.Segments > 0 {
		c.printf(", %d segments", res.Stats.Muxer.Segments)
	}
	c.printf("\n")
}
