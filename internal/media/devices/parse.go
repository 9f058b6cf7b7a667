package devices

import (
	"bufio"
	"path/filepath"
	"regexp"
	"strings"
)

// parsePactlSources reads `pactl list short sources`. Monitor sources
// capture what the sinks play and become system audio targets.
func parsePactlSources(out, defaultSource string) []Target {
	var targets []Target
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 2 || fields[1] == "" {
			continue
		}
		name := fields[1]
		kind := KindMicrophone
		if strings.HasSuffix(name, ".monitor") {
			kind = KindSystemAudio
		}
		t := newTarget(kind, DriverPulse, name, name)
		t.Default = name == defaultSource
		targets = append(targets, t)
	}
	markFirstDefault(targets)
	return targets
}

// avfoundation and dshow print their device lists on stderr, every line
// prefixed with the logging context.
var (
	ffmpegLogPrefix = regexp.MustCompile(`^\[[^\]]+\]\s*`)
	avfIndexed      = regexp.MustCompile(`^\[(\d+)\]\s+(.+)$`)
	dshowQuoted     = regexp.MustCompile(`^"(.+)"(?:\s+\((video|audio|none)\))?$`)
)

func ffmpegListLines(out string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(ffmpegLogPrefix.ReplaceAllString(strings.TrimSpace(sc.Text()), ""))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseAVFoundation reads `ffmpeg -f avfoundation -list_devices true -i ""`.
func parseAVFoundation(out string) []Target {
	var (
		targets []Target
		section string
	)
	for _, line := range ffmpegListLines(out) {
		switch {
		case strings.Contains(line, "video devices:"):
			section = "video"
			continue
		case strings.Contains(line, "audio devices:"):
			section = "audio"
			continue
		}
		m := avfIndexed.FindStringSubmatch(line)
		if m == nil || section == "" {
			continue
		}
		index, name := m[1], m[2]
		switch {
		case section == "video" && strings.HasPrefix(name, "Capture screen"):
			targets = append(targets, newTarget(KindScreen, DriverAVFoundation, index+":none", name))
		case section == "video":
			targets = append(targets, newTarget(KindCamera, DriverAVFoundation, index+":none", name))
		case isLoopbackName(name):
			targets = append(targets, newTarget(KindSystemAudio, DriverAVFoundation, ":"+index, name))
		default:
			targets = append(targets, newTarget(KindMicrophone, DriverAVFoundation, ":"+index, name))
		}
	}
	markFirstDefault(targets)
	return targets
}

// parseDShow reads `ffmpeg -list_devices true -f dshow -i dummy` in both the
// older sectioned layout and the newer per-line "(video)" layout.
func parseDShow(out string) []Target {
	var (
		targets []Target
		section string
	)
	for _, line := range ffmpegListLines(out) {
		switch {
		case strings.HasPrefix(line, "DirectShow video devices"):
			section = "video"
			continue
		case strings.HasPrefix(line, "DirectShow audio devices"):
			section = "audio"
			continue
		case strings.HasPrefix(line, "Alternative name"):
			continue
		}
		m := dshowQuoted.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, kind := m[1], m[2]
		if kind == "" {
			kind = section
		}
		switch kind {
		case "video":
			targets = append(targets, newTarget(KindCamera, DriverDShow, "video="+name, name))
		case "audio":
			k := KindMicrophone
			if isLoopbackName(name) {
				k = KindSystemAudio
			}
			targets = append(targets, newTarget(k, DriverDShow, "audio="+name, name))
		}
	}
	markFirstDefault(targets)
	return targets
}

// parseWmctrl reads `wmctrl -l`: id, desktop, host, title.
func parseWmctrl(out string) []Target {
	var targets []Target
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "0x") {
			continue
		}
		title := strings.Join(fields[3:], " ")
		targets = append(targets, newTarget(KindWindow, DriverX11Grab, fields[0], title))
	}
	return targets
}

// parseWindowTitles reads one window title per line for gdigrab.
func parseWindowTitles(out string) []Target {
	var targets []Target
	seen := map[string]bool{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		title := strings.TrimSpace(sc.Text())
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		targets = append(targets, newTarget(KindWindow, DriverGDIGrab, "title="+title, title))
	}
	return targets
}

// v4l2NamePath is where sysfs reports the card name of /dev/videoN.
func v4l2NamePath(dev string) string {
	return filepath.Join("/sys/class/video4linux", filepath.Base(dev), "name")
}

var loopbackNames = []string{"blackhole", "soundflower", "loopback", "stereo mix", "what u hear", "monitor of"}

func isLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, n := range loopbackNames {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// markFirstDefault flags the first target of each kind when the backend
// named no default.
func markFirstDefault(targets []Target) {
	has := map[Kind]bool{}
	for _, t := range targets {
		if t.Default {
			has[t.Kind] = true
		}
	}
	for i := range targets {
		if !has[targets[i].Kind] {
			targets[i].Default = true
			has[targets[i].Kind] = true
		}
	}
}
