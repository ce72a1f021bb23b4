package testutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// Synthetic H.264 parameter sets and slices. Decoders are never run on them;
// they only need the right NAL unit types.
var (
	H264SPS   = []byte{0x67, 0x42, 0xc0, 0x1f, 0xd9, 0x00, 0xf0, 0x11, 0x7e, 0xf0, 0x11}
	H264PPS   = []byte{0x68, 0xce, 0x3c, 0x80}
	H264IDR   = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}
	H264Slice = []byte{0x41, 0x9a, 0x24, 0x6c, 0x41}
	AACFrame  = []byte{0x21, 0x00, 0x49, 0x90, 0x02, 0x19, 0x00, 0x23, 0x80}
)

// TSOptions controls TransportStream output.
type TSOptions struct {
	Video bool
	Audio bool
	// Frames is the number of access units written per track. The demuxer
	// delivers a unit once the next one starts, so at least 2 are needed to
	// observe the first.
	Frames int
	// KeyframeEvery marks every Nth video unit as IDR (0 means only the first).
	KeyframeEvery int
	// LeadingNonKeyframes prefixes the stream with non-IDR units.
	LeadingNonKeyframes int
}

// TransportStream muxes a synthetic MPEG-TS with mediacommon.
func TransportStream(opts TSOptions) ([]byte, error) {
	if opts.Frames <= 0 {
		opts.Frames = 3
	}

	var buf bytes.Buffer
	var tracks []*mpegts.Track
	var video, audio *mpegts.Track

	if opts.Video {
		video = &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
		tracks = append(tracks, video)
	}
	if opts.Audio {
		audio = &mpegts.Track{PID: 257, Codec: &mpegts.CodecMPEG4Audio{
			Config: mpeg4audio.AudioSpecificConfig{
				Type:         mpeg4audio.ObjectTypeAACLC,
				SampleRate:   48000,
				ChannelCount: 2,
			},
		}}
		tracks = append(tracks, audio)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no tracks requested")
	}

	w := &mpegts.Writer{W: &buf, Tracks: tracks}
	if err := w.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts writer: %w", err)
	}

	const frameTicks = 3000
	pts := int64(90000)
	total := opts.LeadingNonKeyframes + opts.Frames

	for i := range total {
		if video != nil {
			au := [][]byte{H264Slice}
			n := i - opts.LeadingNonKeyframes
			if n == 0 || (n > 0 && opts.KeyframeEvery > 0 && n%opts.KeyframeEvery == 0) {
				au = [][]byte{H264SPS, H264PPS, H264IDR}
			}
			if err := w.WriteH264(video, pts, pts, au); err != nil {
				return nil, fmt.Errorf("writing video: %w", err)
			}
		}
		if audio != nil {
			if err := w.WriteMPEG4Audio(audio, pts, [][]byte{AACFrame}); err != nil {
				return nil, fmt.Errorf("writing audio: %w", err)
			}
		}
		pts += frameTicks
	}

	return buf.Bytes(), nil
}

// Rendition describes an EXT-X-MEDIA entry for MultivariantPlaylist.
type Rendition struct {
	Type     string // AUDIO or SUBTITLES
	GroupID  string
	Name     string
	Language string
	Default  bool
	URI      string
}

// Variant describes an EXT-X-STREAM-INF entry for MultivariantPlaylist.
type Variant struct {
	Bandwidth int
	Width     int
	Height    int
	URI       string
}

// MultivariantPlaylist renders a master playlist. Every variant references
// the "aud" and "subs" groups when renditions of that type exist.
func MultivariantPlaylist(variants []Variant, renditions []Rendition) string {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")

	hasAudio, hasSubs := false, false
	for _, r := range renditions {
		def := "NO"
		if r.Default {
			def = "YES"
		}
		fmt.Fprintf(&sb, `#EXT-X-MEDIA:TYPE=%s,GROUP-ID="%s",NAME="%s",LANGUAGE="%s",DEFAULT=%s,AUTOSELECT=YES`,
			r.Type, r.GroupID, r.Name, r.Language, def)
		if r.URI != "" {
			fmt.Fprintf(&sb, `,URI="%s"`, r.URI)
		}
		sb.WriteString("\n")
		switch r.Type {
		case "AUDIO":
			hasAudio = true
		case "SUBTITLES":
			hasSubs = true
		}
	}

	for _, v := range variants {
		fmt.Fprintf(&sb, `#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS="avc1.64001f,mp4a.40.2"`, v.Bandwidth)
		if v.Height > 0 {
			fmt.Fprintf(&sb, ",RESOLUTION=%dx%d", v.Width, v.Height)
		}
		if hasAudio {
			sb.WriteString(`,AUDIO="aud"`)
		}
		if hasSubs {
			sb.WriteString(`,SUBTITLES="subs"`)
		}
		sb.WriteString("\n" + v.URI + "\n")
	}

	return sb.String()
}

// MediaPlaylist renders a finished media playlist of segments.
func MediaPlaylist(segments []string, duration float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:0\n", int(duration+0.999))
	for _, s := range segments {
		fmt.Fprintf(&sb, "#EXTINF:%.3f,\n%s\n", duration, s)
	}
	sb.WriteString("#EXT-X-ENDLIST\n")
	return sb.String()
}
