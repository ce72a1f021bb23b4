package sink

import (
	"testing"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvarr-player/internal/testutil"
)

func TestTracksFromPMT(t *testing.T) {
	pmt := &astits.PMTData{
		ElementaryStreams: []*astits.PMTElementaryStream{
			{ElementaryPID: 256, StreamType: astits.StreamType(0x1b)},
			{
				ElementaryPID: 257,
				StreamType:    astits.StreamType(0x0f),
				ElementaryStreamDescriptors: []*astits.Descriptor{
					{Tag: 0x0a, ISO639LanguageAndAudioType: &astits.DescriptorISO639LanguageAndAudioType{Language: []byte("eng")}},
				},
			},
			{
				ElementaryPID: 258,
				StreamType:    astits.StreamType(0x06),
				ElementaryStreamDescriptors: []*astits.Descriptor{
					{Tag: 0x6a},
					{Tag: 0x0a, ISO639LanguageAndAudioType: &astits.DescriptorISO639LanguageAndAudioType{Language: []byte("FRA")}},
				},
			},
			{
				ElementaryPID: 259,
				StreamType:    astits.StreamType(0x06),
				ElementaryStreamDescriptors: []*astits.Descriptor{
					{Tag: 0x59, Subtitling: &astits.DescriptorSubtitling{Items: []*astits.DescriptorSubtitlingItem{
						{Language: []byte("deu")},
						{Language: []byte("eng")},
					}}},
				},
			},
			{
				ElementaryPID: 260,
				StreamType:    astits.StreamType(0x06),
				ElementaryStreamDescriptors: []*astits.Descriptor{
					{Tag: 0x56, Teletext: &astits.DescriptorTeletext{Items: []*astits.DescriptorTeletextItem{
						{Language: []byte("nld"), Type: 0x01},
						{Language: []byte("nld"), Type: 0x02},
					}}},
				},
			},
			{ElementaryPID: 261, StreamType: astits.StreamType(0x06)},
		},
	}

	audio, text := tracksFromPMT(pmt)

	require.Len(t, audio, 2)
	assert.Equal(t, NativeTrack{ID: "257", Language: "eng", Default: true, Active: true}, audio[0])
	assert.Equal(t, NativeTrack{ID: "258", Language: "fra"}, audio[1])

	require.Len(t, text, 3)
	assert.Equal(t, "deu", text[0].Language)
	assert.Equal(t, "eng", text[1].Language)
	assert.Equal(t, "nld", text[2].Language)
	for _, tr := range text {
		assert.False(t, tr.Active, "text tracks start hidden")
	}
}

func TestDiscoverTracks(t *testing.T) {
	data, err := testutil.TransportStream(testutil.TSOptions{Video: true, Audio: true})
	require.NoError(t, err)

	audio, text, found := discoverTracks(data)
	require.True(t, found)
	require.Len(t, audio, 1)
	assert.Equal(t, "257", audio[0].ID)
	assert.Empty(t, text)

	_, _, found = discoverTracks(data[:100])
	assert.False(t, found)
}

func nullPackets(n int) []byte {
	out := make([]byte, 0, n*tsPacketSize)
	for i := 0; i < n; i++ {
		pkt := make([]byte, tsPacketSize)
		pkt[0], pkt[1], pkt[2], pkt[3] = tsSyncByte, 0x1f, 0xff, 0x10
		out = append(out, pkt...)
	}
	return out
}

func TestPMTScanner(t *testing.T) {
	ts, err := testutil.TransportStream(testutil.TSOptions{Video: true, Audio: true})
	require.NoError(t, err)

	tests := []struct {
		name   string
		prefix []byte
		chunk  int
	}{
		{name: "single chunk", chunk: len(ts)},
		{name: "byte at a time", chunk: 1},
		{name: "odd chunks", chunk: 7},
		{name: "packet chunks", chunk: tsPacketSize},
		{name: "garbage before sync", prefix: []byte{0x00, 0x01, 0x02}, chunk: 50},
		{name: "long null prefix", prefix: nullPackets(2000), chunk: 32 << 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append(append([]byte(nil), tt.prefix...), ts...)
			s := &pmtScanner{}
			var audio []NativeTrack
			found := false
			for off := 0; off < len(data) && !found; off += tt.chunk {
				end := min(off+tt.chunk, len(data))
				audio, _, found = s.scan(data[off:end])
				assert.Less(t, len(s.partial), tsPacketSize)
				assert.LessOrEqual(t, len(s.pat), tsPacketSize)
			}
			require.True(t, found)
			require.Len(t, audio, 1)
			assert.Equal(t, "257", audio[0].ID)
		})
	}
}

func TestPMTScanner_Exhausted(t *testing.T) {
	s := &pmtScanner{}
	data := nullPackets(discoveryLimit/tsPacketSize + 1)
	for off := 0; off < len(data); off += 32 << 10 {
		_, _, found := s.scan(data[off:min(off+32<<10, len(data))])
		require.False(t, found)
	}
	assert.True(t, s.exhausted())
}
