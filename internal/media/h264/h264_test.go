package h264

import (
	"testing"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1e, 0x96, 0x54, 0x05, 0x01, 0xed, 0x80}
	testPPS = []byte{0x68, 0xce, 0x38, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testP   = []byte{0x41, 0x9a, 0x02, 0x04}
)

func annexB(nalus ...[]byte) []byte { return JoinAnnexB(nalus) }

func TestAnnexBToAVCConversion(t *testing.T) {
	avc, err := ConvertAnnexBToAVC(annexB(testSPS, testPPS))
	require.NoError(t, err)

	expected := []byte{0x00, 0x00, 0x00, 0x0a}
	expected = append(expected, testSPS...)
	expected = append(expected, 0x00, 0x00, 0x00, 0x04)
	expected = append(expected, testPPS...)
	assert.Equal(t, expected, avc)

	back, err := ConvertAVCToAnnexB(avc)
	require.NoError(t, err)
	assert.Equal(t, annexB(testSPS, testPPS), back)
}

func TestConvertAVCToAnnexBRejectsBadLength(t *testing.T) {
	_, err := ConvertAVCToAnnexB([]byte{0x00, 0x00, 0x00, 0x10, 0x65})
	assert.Error(t, err)
	_, err = ConvertAVCToAnnexB([]byte{0x00, 0x00})
	assert.Error(t, err)
}

func TestSplitNALUs(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want [][]byte
	}{
		{"empty", nil, nil},
		{"four byte codes", annexB(testSPS, testPPS, testIDR), [][]byte{testSPS, testPPS, testIDR}},
		{
			"mixed codes",
			append(append([]byte{0, 0, 1}, testSPS...), append([]byte{0, 0, 0, 1}, testP...)...),
			[][]byte{testSPS, testP},
		},
		{"no start code", testP, [][]byte{testP}},
		{
			"empty unit between codes",
			append([]byte{0, 0, 0, 1, 0, 0, 0, 1}, testIDR...),
			[][]byte{testIDR},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitNALUs(tt.data))
		})
	}
}

func TestIsKeyFrame(t *testing.T) {
	assert.True(t, IsKeyFrame(annexB(testSPS, testPPS, testIDR)))
	assert.False(t, IsKeyFrame(annexB(testP)))
	assert.False(t, IsKeyFrame(nil))
}

func TestExtractParameterSets(t *testing.T) {
	sps, pps, ok := ExtractParameterSets(annexB(testSPS, testPPS, testIDR))
	require.True(t, ok)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	_, _, ok = ExtractParameterSets(annexB(testIDR))
	assert.False(t, ok)
}

func TestParseAvcC(t *testing.T) {
	avcc := []byte{0x01, 0x42, 0x00, 0x1e, 0xff, 0xe1, 0x00, byte(len(testSPS))}
	avcc = append(avcc, testSPS...)
	avcc = append(avcc, 0x01, 0x00, byte(len(testPPS)))
	avcc = append(avcc, testPPS...)

	sps, pps, ok := ParseAvcC(avcc)
	require.True(t, ok)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	sps, pps, ok = ExtractParameterSets(avcc)
	require.True(t, ok)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	_, _, ok = ParseAvcC(avcc[:9])
	assert.False(t, ok)
	_, _, ok = ParseAvcC([]byte{0x02, 0, 0, 0, 0, 0, 0})
	assert.False(t, ok)
}

func TestPrependParameterSetsAVCC(t *testing.T) {
	frame := NALUsToAVC([][]byte{testIDR})
	out := PrependParameterSetsAVCC(frame, testSPS, testPPS)

	back, err := ConvertAVCToAnnexB(out)
	require.NoError(t, err)
	assert.Equal(t, annexB(testSPS, testPPS, testIDR), back)

	assert.Equal(t, frame, PrependParameterSetsAVCC(frame, nil, testPPS))
}

func TestStripParameterSets(t *testing.T) {
	aud := []byte{0x09, 0x10}
	out := StripParameterSets([][]byte{aud, testSPS, testPPS, testIDR})
	assert.Equal(t, [][]byte{testIDR}, out)
	assert.Equal(t, mch264.NALUTypeIDR, NALUType(out[0]))
}

func TestPrependAUD(t *testing.T) {
	out := PrependAUD(annexB(testP))
	assert.Equal(t, [][]byte{{0x09, 0x10}, testP}, SplitNALUs(out))
}

func TestAvcC(t *testing.T) {
	avcc, err := AvcC(testSPS, testPPS)
	require.NoError(t, err)
	sps, pps, ok := ParseAvcC(avcc)
	require.True(t, ok)
	assert.Equal(t, testSPS, sps)
	assert.Equal(t, testPPS, pps)

	_, err = AvcC(nil, testPPS)
	assert.Error(t, err)
}

func TestAccessUnitToAVCC(t *testing.T) {
	aud := []byte{0x09, 0x10}

	out := AccessUnitToAVCC(annexB(aud, testIDR), testSPS, testPPS, true)
	back, err := ConvertAVCToAnnexB(out)
	require.NoError(t, err)
	assert.Equal(t, annexB(testSPS, testPPS, testIDR), back)

	out = AccessUnitToAVCC(annexB(aud, testSPS, testPPS, testIDR), []byte{0x67, 0, 0, 0}, testPPS, true)
	back, err = ConvertAVCToAnnexB(out)
	require.NoError(t, err)
	assert.Equal(t, annexB(testSPS, testPPS, testIDR), back)

	out = AccessUnitToAVCC(annexB(aud, testP), testSPS, testPPS, false)
	assert.Equal(t, NALUsToAVC([][]byte{testP}), out)
}
