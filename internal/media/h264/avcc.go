package h264

import (
	"encoding/binary"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// ConvertAnnexBToAVC rewrites start-code framing into 4-byte length prefixes
// as required inside MP4 samples.
func ConvertAnnexBToAVC(data []byte) ([]byte, error) {
	return NALUsToAVC(SplitNALUs(data)), nil
}

// NALUsToAVC length-prefixes each NAL unit.
func NALUsToAVC(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, 0, n)
	for _, nalu := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(nalu)))
		out = append(out, nalu...)
	}
	return out
}

// ConvertAVCToAnnexB converts length-prefixed NAL units back to Annex-B.
func ConvertAVCToAnnexB(data []byte) ([]byte, error) {
	var result []byte
	for offset := 0; offset < len(data); {
		if offset+4 > len(data) {
			return nil, errors.Errorf("truncated length prefix at offset %d", offset)
		}
		length := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if offset+length > len(data) {
			return nil, errors.Errorf("invalid length prefix: %d", length)
		}
		result = append(result, StartCode4...)
		result = append(result, data[offset:offset+length]...)
		offset += length
	}
	return result, nil
}

// PrependParameterSetsAVCC prepends SPS and PPS (raw NAL payloads) to an
// AVCC access unit.
func PrependParameterSetsAVCC(avcc []byte, sps []byte, pps []byte) []byte {
	if len(avcc) == 0 || len(sps) == 0 || len(pps) == 0 {
		return avcc
	}
	out := make([]byte, 0, 8+len(sps)+len(pps)+len(avcc))
	out = binary.BigEndian.AppendUint32(out, uint32(len(sps)))
	out = append(out, sps...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(pps)))
	out = append(out, pps...)
	return append(out, avcc...)
}

// ParseAvcC extracts the first SPS and PPS from an avcC box payload.
func ParseAvcC(avcc []byte) (sps, pps []byte, ok bool) {
	if len(avcc) < 7 || avcc[0] != 0x01 {
		return nil, nil, false
	}
	// version, profile, compatibility, level, lengthSizeMinusOne, numOfSPS
	i := 5
	numSps := int(avcc[i] & 0x1F)
	i++
	for n := 0; n < numSps && i+2 <= len(avcc); n++ {
		l := int(binary.BigEndian.Uint16(avcc[i:]))
		i += 2
		if i+l > len(avcc) {
			return nil, nil, false
		}
		if l > 0 && sps == nil {
			sps = append([]byte(nil), avcc[i:i+l]...)
		}
		i += l
	}
	if i >= len(avcc) {
		return sps, nil, false
	}
	numPps := int(avcc[i])
	i++
	for n := 0; n < numPps && i+2 <= len(avcc); n++ {
		l := int(binary.BigEndian.Uint16(avcc[i:]))
		i += 2
		if i+l > len(avcc) {
			break
		}
		if l > 0 && pps == nil {
			pps = append([]byte(nil), avcc[i:i+l]...)
		}
		i += l
	}
	return sps, pps, sps != nil && pps != nil
}

// AvcC builds an AVCDecoderConfigurationRecord with 4-byte NAL lengths.
func AvcC(sps, pps []byte) ([]byte, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, errors.New("avcC needs SPS and PPS")
	}
	out := []byte{0x01, sps[1], sps[2], sps[3], 0xFF, 0xE1}
	out = binary.BigEndian.AppendUint16(out, uint16(len(sps)))
	out = append(out, sps...)
	out = append(out, 0x01)
	out = binary.BigEndian.AppendUint16(out, uint16(len(pps)))
	return append(out, pps...), nil
}

// AccessUnitToAVCC prepares an Annex-B access unit for storage in a sample:
// delimiters are dropped and keyframes without in-band parameter sets get
// sps and pps prepended.
func AccessUnitToAVCC(au []byte, sps, pps []byte, keyFrame bool) []byte {
	nalus := SplitNALUs(au)
	out := nalus[:0:0]
	hasSPS := false
	for _, nalu := range nalus {
		switch NALUType(nalu) {
		case mch264.NALUTypeAccessUnitDelimiter:
			continue
		case mch264.NALUTypeSPS:
			hasSPS = true
		}
		out = append(out, nalu)
	}
	if keyFrame && !hasSPS && len(sps) > 0 && len(pps) > 0 {
		out = append([][]byte{sps, pps}, out...)
	}
	return NALUsToAVC(out)
}
