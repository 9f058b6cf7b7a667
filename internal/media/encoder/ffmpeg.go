package encoder

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/util"
	"github.com/pkg/errors"
)

// ffmpegProcess runs one long-lived ffmpeg that reads raw media on stdin and
// writes an elementary stream on stdout. A reader goroutine tokenizes stdout
// with split and queues the tokens.
type ffmpegProcess struct {
	name    string
	logger  *slog.Logger
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdin   io.WriteCloser
	stderr  *util.TailBuffer
	packets chan []byte
	done    chan struct{}

	mu      sync.Mutex
	readErr error
	closed  bool
}

func startFFmpeg(path, name string, args []string, split bufio.SplitFunc, queue int) (*ffmpegProcess, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr := util.NewTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, errors.Wrapf(err, "failed to start %s", path)
	}

	p := &ffmpegProcess{
		name:    name,
		logger:  util.ComponentLogger("ffmpeg_" + name),
		cmd:     cmd,
		cancel:  cancel,
		stdin:   stdin,
		stderr:  stderr,
		packets: make(chan []byte, queue),
		done:    make(chan struct{}),
	}
	p.logger.Debug("FFmpeg encoder started", "pid", cmd.Process.Pid, "args", args)
	go p.readLoop(stdout, split)
	return p, nil
}

func (p *ffmpegProcess) readLoop(stdout io.Reader, split bufio.SplitFunc) {
	defer close(p.done)
	defer close(p.packets)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 32*1024*1024)
	scanner.Split(split)
	for scanner.Scan() {
		p.packets <- append([]byte(nil), scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		p.mu.Lock()
		p.readErr = err
		p.mu.Unlock()
		p.logger.Warn("FFmpeg output read failed", "error", err)
	}
}

// write feeds one raw frame. A dead process surfaces ffmpeg's own message.
func (p *ffmpegProcess) write(b []byte) error {
	if _, err := p.stdin.Write(b); err != nil {
		return errors.Wrapf(err, "%s write failed: %s", p.name, p.stderr.String())
	}
	return nil
}

// ready returns every token available without blocking.
func (p *ffmpegProcess) ready() [][]byte {
	var out [][]byte
	for {
		select {
		case pkt, ok := <-p.packets:
			if !ok {
				return out
			}
			out = append(out, pkt)
		default:
			return out
		}
	}
}

// finish closes stdin and collects the remaining output until ffmpeg exits.
func (p *ffmpegProcess) finish(timeout time.Duration) ([][]byte, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil
	}
	p.closed = true
	p.mu.Unlock()

	_ = p.stdin.Close()

	var out [][]byte
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
collect:
	for {
		select {
		case pkt, ok := <-p.packets:
			if !ok {
				break collect
			}
			out = append(out, pkt)
		case <-deadline.C:
			p.cancel()
			for pkt := range p.packets {
				out = append(out, pkt)
			}
			break collect
		}
	}
	<-p.done

	err := p.cmd.Wait()
	p.cancel()
	if err != nil {
		return out, errors.Wrapf(err, "%s exited: %s", p.name, p.stderr.String())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return out, p.readErr
}

func (p *ffmpegProcess) kill() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	_ = p.stdin.Close()
	for range p.packets {
	}
	_ = p.cmd.Wait()
	p.logger.Debug("FFmpeg encoder killed")
}

// splitAccessUnits tokenizes an H.264 Annex-B stream at access unit
// delimiters. The encoder is configured to emit one before every picture.
func splitAccessUnits(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if next := nextAUD(data, 4); next > 0 {
		return next, data[:next], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// nextAUD returns the offset of the first AUD start code at or after from,
// including a leading zero of a 4-byte start code.
func nextAUD(data []byte, from int) int {
	for i := from; i+3 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 && data[i+3]&0x1F == 9 {
			if data[i-1] == 0 {
				return i - 1
			}
			return i
		}
	}
	return -1
}

// splitADTS tokenizes an ADTS stream into whole frames, header included.
func splitADTS(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if len(data) < 7 {
		if atEOF && len(data) > 0 {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	if data[0] != 0xFF || data[1]&0xF6 != 0xF0 {
		// resync on the next syncword
		if i := bytes.IndexByte(data[1:], 0xFF); i >= 0 {
			return i + 1, nil, nil
		}
		return len(data), nil, nil
	}
	frameLen := int(data[3]&0x03)<<11 | int(data[4])<<3 | int(data[5])>>5
	if frameLen < 7 {
		return 1, nil, nil
	}
	if len(data) < frameLen {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return frameLen, data[:frameLen], nil
}

// stripADTSHeader removes the ADTS header if present and returns the raw AAC payload.
func stripADTSHeader(data []byte) []byte {
	if len(data) < 7 {
		return data
	}
	if data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		headerLen := 7
		if (data[1] & 0x01) == 0 { // CRC present
			headerLen = 9
		}
		if len(data) > headerLen {
			return data[headerLen:]
		}
	}
	return data
}

// LookPath reports whether the ffmpeg binary is available.
func LookPath(path string) (string, error) {
	if path == "" {
		path = "ffmpeg"
	}
	return exec.LookPath(path)
}
