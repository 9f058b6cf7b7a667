package devices

import (
	"context"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var errNoResolution = errors.New("could not determine display resolution")

// DisplayResolution returns the size of the primary display using the
// platform's own tooling.
func DisplayResolution(ctx context.Context) (int, int, error) {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.CommandContext(ctx, "system_profiler", "SPDisplaysDataType").Output()
		if err != nil {
			return 0, 0, errors.Wrap(err, "system_profiler")
		}
		return parseSystemProfiler(string(out))
	case "linux":
		out, err := exec.CommandContext(ctx, "xrandr", "--current").Output()
		if err != nil {
			return 0, 0, errors.Wrap(err, "xrandr")
		}
		return parseXrandr(string(out))
	case "windows":
		out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command",
			"Get-CimInstance -ClassName Win32_VideoController | Select-Object -First 1 | ForEach-Object { $_.CurrentHorizontalResolution; $_.CurrentVerticalResolution }").Output()
		if err != nil {
			return 0, 0, errors.Wrap(err, "powershell")
		}
		return parseTwoLines(string(out))
	}
	return 0, 0, errors.Errorf("unsupported OS %s", runtime.GOOS)
}

type profiledDisplay struct {
	builtIn, main bool
	w, h          int
}

var profilerResolution = regexp.MustCompile(`Resolution:\s*(\d+)\s*x\s*(\d+)`)

// parseSystemProfiler picks the built-in display, then the main display,
// then the first one listed.
func parseSystemProfiler(out string) (int, int, error) {
	var (
		displays []profiledDisplay
		cur      *profiledDisplay
		inList   bool
	)
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "Displays:" {
			inList = true
			continue
		}
		if !inList || trimmed == "" {
			continue
		}
		if strings.HasSuffix(trimmed, ":") && !strings.Contains(strings.TrimSuffix(trimmed, ":"), ":") {
			displays = append(displays, profiledDisplay{})
			cur = &displays[len(displays)-1]
			continue
		}
		if cur == nil {
			continue
		}
		switch {
		case strings.Contains(trimmed, "Display Type: Built-in"), trimmed == "Built-in: Yes":
			cur.builtIn = true
		case trimmed == "Main Display: Yes":
			cur.main = true
		}
		if m := profilerResolution.FindStringSubmatch(trimmed); m != nil {
			cur.w, _ = strconv.Atoi(m[1])
			cur.h, _ = strconv.Atoi(m[2])
		}
	}

	for _, pick := range []func(profiledDisplay) bool{
		func(d profiledDisplay) bool { return d.builtIn },
		func(d profiledDisplay) bool { return d.main },
		func(profiledDisplay) bool { return true },
	} {
		for _, d := range displays {
			if d.w > 0 && d.h > 0 && pick(d) {
				return d.w, d.h, nil
			}
		}
	}
	return 0, 0, errNoResolution
}

var xrandrMode = regexp.MustCompile(`(\d+)x(\d+)`)

// parseXrandr returns the current mode of the primary output, or of the
// first mode marked current.
func parseXrandr(out string) (int, int, error) {
	lines := strings.Split(out, "\n")
	for _, line := range lines {
		if !strings.Contains(line, " connected primary ") {
			continue
		}
		// "eDP-1 connected primary 1920x1080+0+0 ..."
		if m := xrandrMode.FindStringSubmatch(line); m != nil {
			return atoiPair(m[1], m[2])
		}
	}
	for _, line := range lines {
		if !strings.Contains(line, "*") {
			continue
		}
		if m := xrandrMode.FindStringSubmatch(line); m != nil {
			return atoiPair(m[1], m[2])
		}
	}
	return 0, 0, errNoResolution
}

func parseTwoLines(out string) (int, int, error) {
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return 0, 0, errNoResolution
	}
	return atoiPair(fields[0], fields[1])
}

func atoiPair(a, b string) (int, int, error) {
	w, err1 := strconv.Atoi(a)
	h, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, errNoResolution
	}
	return w, h, nil
}
