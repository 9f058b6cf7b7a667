// Package h264 handles the Annex-B and AVCC framings of H.264 access units
// produced by encoders and pass-through capture devices.
package h264

import (
	"bytes"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

var (
	StartCode3 = []byte{0x00, 0x00, 0x01}
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}

	// AUDNalUnit is an access unit delimiter with a start code.
	AUDNalUnit = []byte{0x00, 0x00, 0x00, 0x01, 0x09, 0x10}
)

// NALUType returns the type of a NAL unit without start code.
func NALUType(nalu []byte) mch264.NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return mch264.NALUType(nalu[0] & 0x1F)
}

// HasStartCode checks if data begins with a start code.
func HasStartCode(data []byte) bool {
	return bytes.HasPrefix(data, StartCode4) || bytes.HasPrefix(data, StartCode3)
}

// SplitNALUs returns the NAL units of an Annex-B buffer without their start
// codes. Data that does not begin with a start code is treated as one NAL unit.
func SplitNALUs(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if !HasStartCode(data) {
		return [][]byte{data}
	}
	var au mch264.AnnexB
	if err := au.Unmarshal(data); err == nil {
		out := au[:0:0]
		for _, nalu := range au {
			if len(nalu) > 0 {
				out = append(out, nalu)
			}
		}
		return out
	}
	return splitManually(data)
}

// splitManually tolerates the malformed streams mediacommon rejects, such as
// empty NAL units between consecutive start codes.
func splitManually(data []byte) [][]byte {
	var out [][]byte
	start := -1
	for i := 0; i+2 < len(data); {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			end := i
			if end > 0 && data[end-1] == 0 {
				end--
			}
			if start >= 0 && end > start {
				out = append(out, data[start:end])
			}
			i += 3
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start < len(data) {
		out = append(out, data[start:])
	}
	return out
}

// JoinAnnexB frames NAL units with 4-byte start codes.
func JoinAnnexB(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	out := make([]byte, 0, n)
	for _, nalu := range nalus {
		out = append(out, StartCode4...)
		out = append(out, nalu...)
	}
	return out
}

// IsKeyFrame checks if the Annex-B access unit contains an IDR slice.
func IsKeyFrame(data []byte) bool {
	for _, nalu := range SplitNALUs(data) {
		if NALUType(nalu) == mch264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// ExtractParameterSets returns the first SPS and PPS found in an Annex-B or
// avcC buffer.
func ExtractParameterSets(data []byte) (sps, pps []byte, ok bool) {
	if len(data) > 0 && data[0] == 0x01 {
		return ParseAvcC(data)
	}
	for _, nalu := range SplitNALUs(data) {
		switch NALUType(nalu) {
		case mch264.NALUTypeSPS:
			if sps == nil {
				sps = append([]byte(nil), nalu...)
			}
		case mch264.NALUTypePPS:
			if pps == nil {
				pps = append([]byte(nil), nalu...)
			}
		}
	}
	return sps, pps, sps != nil && pps != nil
}

// StripParameterSets drops SPS, PPS and AUD units from an access unit. The
// muxers carry parameter sets in the track header instead.
func StripParameterSets(nalus [][]byte) [][]byte {
	out := nalus[:0:0]
	for _, nalu := range nalus {
		switch NALUType(nalu) {
		case mch264.NALUTypeSPS, mch264.NALUTypePPS, mch264.NALUTypeAccessUnitDelimiter:
			continue
		}
		out = append(out, nalu)
	}
	return out
}

// PrependAUD adds an access unit delimiter before the data.
func PrependAUD(data []byte) []byte {
	result := make([]byte, 0, len(AUDNalUnit)+len(data))
	result = append(result, AUDNalUnit...)
	return append(result, data...)
}
