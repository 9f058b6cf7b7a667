package mux

import (
	"io"
	"time"

	"github.com/babelcloud/gbox-recorder/internal/media/encoder"
	"github.com/babelcloud/gbox-recorder/internal/media/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

const videoTimeScale = 90000

// scaleTimestampToTimescale converts a timestamp into the given MP4 track
// timescale units.
func scaleTimestampToTimescale(ts time.Duration, timeScale uint32) int64 {
	if ts <= 0 {
		return 0
	}
	// microseconds keep the product in range for day-long recordings
	return ts.Microseconds() * int64(timeScale) / 1_000_000
}

type fmp4Track struct {
	id        int
	timeScale uint32
	video     bool
	codec     mp4.Codec
	// samples of the open fragment, all with known durations
	samples  []*fmp4.Sample
	baseTime uint64
	// pending is the newest packet; its duration is known once the next
	// packet of the same track arrives
	pending    *encoder.Packet
	pendingDTS int64
}

// fmp4Writer streams an init segment followed by moof/mdat fragments.
type fmp4Writer struct {
	w                io.Writer
	fragmentDuration time.Duration
	video            *fmp4Track
	audio            *fmp4Track
	tracks           []*fmp4Track
	seq              uint32
	fragStart        time.Duration
	fragOpen         bool
	written          int64
}

// newFMP4Writer writes the init segment. Track IDs follow the order video,
// audio; absent tracks take no ID.
func newFMP4Writer(w io.Writer, video, audio mp4.Codec, audioRate int, fragmentDuration time.Duration) (*fmp4Writer, error) {
	fw := &fmp4Writer{w: w, fragmentDuration: fragmentDuration, seq: 1}
	if video != nil {
		fw.video = &fmp4Track{id: 1, timeScale: videoTimeScale, video: true, codec: video}
		fw.tracks = append(fw.tracks, fw.video)
	}
	if audio != nil {
		fw.audio = &fmp4Track{id: len(fw.tracks) + 1, timeScale: uint32(audioRate), codec: audio}
		fw.tracks = append(fw.tracks, fw.audio)
	}
	if len(fw.tracks) == 0 {
		return nil, errors.New("no tracks")
	}

	init := &fmp4.Init{}
	for _, t := range fw.tracks {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		})
	}
	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to marshal init segment")
	}
	if err := fw.write(buf.Bytes()); err != nil {
		return nil, errors.Wrap(err, "failed to write init segment")
	}
	return fw, nil
}

func (fw *fmp4Writer) write(b []byte) error {
	n, err := fw.w.Write(b)
	fw.written += int64(n)
	return err
}

func (fw *fmp4Writer) track(video bool) *fmp4Track {
	if video {
		return fw.video
	}
	return fw.audio
}

// writePackets queues packets of one track and cuts a fragment once it
// spans fragmentDuration. With a video track, cuts happen on keyframes only.
func (fw *fmp4Writer) writePackets(video bool, pkts []encoder.Packet) error {
	t := fw.track(video)
	if t == nil {
		return ErrNoTrack
	}
	for i := range pkts {
		pkt := pkts[i]
		if len(pkt.Data) == 0 {
			continue
		}
		dts := scaleTimestampToTimescale(pkt.PTS, t.timeScale)
		if t.pending != nil {
			dur := dts - t.pendingDTS
			if dur <= 0 {
				dur = 1
			}
			fw.appendPending(t, dur)
		}

		if !fw.fragOpen {
			fw.fragOpen = true
			fw.fragStart = pkt.PTS
		} else if pkt.PTS-fw.fragStart >= fw.fragmentDuration && (fw.video == nil || (video && pkt.KeyFrame)) {
			if err := fw.flushFragment(); err != nil {
				return err
			}
			fw.fragStart = pkt.PTS
		}

		t.pending = &pkt
		t.pendingDTS = dts
	}
	return nil
}

func (fw *fmp4Writer) appendPending(t *fmp4Track, dur int64) {
	pkt := t.pending
	payload := pkt.Data
	if c, ok := t.codec.(*mp4.CodecH264); ok {
		payload = h264.AccessUnitToAVCC(pkt.Data, c.SPS, c.PPS, pkt.KeyFrame)
	}
	if len(t.samples) == 0 {
		t.baseTime = uint64(t.pendingDTS)
	}
	t.samples = append(t.samples, &fmp4.Sample{
		Duration:        uint32(dur),
		IsNonSyncSample: t.video && !pkt.KeyFrame,
		Payload:         payload,
	})
	t.pending = nil
}

func (fw *fmp4Writer) flushFragment() error {
	part := &fmp4.Part{SequenceNumber: fw.seq}
	for _, t := range fw.tracks {
		if len(t.samples) == 0 {
			continue
		}
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       t.id,
			BaseTime: t.baseTime,
			Samples:  t.samples,
		})
	}
	if len(part.Tracks) == 0 {
		return nil
	}
	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return errors.Wrap(err, "failed to marshal fragment")
	}
	if err := fw.write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write fragment")
	}
	fw.seq++
	for _, t := range fw.tracks {
		t.samples = nil
	}
	return nil
}

// close gives the last sample of every track its duration and writes the
// final fragment. The last sample ends at end when its own duration is
// unknown.
func (fw *fmp4Writer) close(end time.Duration) error {
	for _, t := range fw.tracks {
		if t.pending == nil {
			continue
		}
		var dur int64
		if t.pending.Duration > 0 {
			dur = scaleTimestampToTimescale(t.pending.Duration, t.timeScale)
		} else {
			dur = scaleTimestampToTimescale(end, t.timeScale) - t.pendingDTS
		}
		if dur <= 0 {
			dur = defaultSampleDuration(t)
		}
		fw.appendPending(t, dur)
	}
	return fw.flushFragment()
}

func defaultSampleDuration(t *fmp4Track) int64 {
	if t.video {
		return int64(t.timeScale / 30)
	}
	return 1024
}
