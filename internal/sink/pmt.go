package sink

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/asticode/go-astits"
)

// PMT stream types carrying audio.
const (
	streamTypeMPEG1Audio  = 0x03
	streamTypeMPEG2Audio  = 0x04
	streamTypeADTS        = 0x0f
	streamTypeLATM        = 0x11
	streamTypeAC3         = 0x81
	streamTypeEAC3        = 0x87
	streamTypePrivateData = 0x06
)

// DVB descriptor tags signalling audio inside private data streams.
const (
	descriptorTagAC3  = 0x6a
	descriptorTagEAC3 = 0x7a
)

// teletextSubtitlePage and teletextHearingImpairedPage are the EN 300 468
// teletext types that carry subtitles.
const (
	teletextSubtitlePage        = 0x02
	teletextHearingImpairedPage = 0x05
)

// discoveryLimit bounds how many TS bytes are scanned while looking for a PMT.
const discoveryLimit = 1 << 20

const (
	tsPacketSize = 188
	patPID       = 0
)

// pmtScanner looks for the first PMT in TS bytes appended in chunks. Each
// chunk is demuxed once: only its whole packets are parsed, prefixed with the
// last PAT seen so the PMT PID is known.
type pmtScanner struct {
	pat     []byte
	partial []byte
	scanned int
}

// scan consumes p and returns the tracks of the first PMT once it is found.
func (s *pmtScanner) scan(p []byte) (audio, text []NativeTrack, found bool) {
	s.scanned += len(p)
	data := append(s.partial, p...)
	s.partial = nil

	start := syncOffset(data)
	if start < 0 {
		return nil, nil, false
	}
	data = data[start:]
	whole := len(data) / tsPacketSize * tsPacketSize
	if whole < len(data) {
		s.partial = append([]byte(nil), data[whole:]...)
	}
	if whole == 0 {
		return nil, nil, false
	}
	packets := data[:whole]

	buf := make([]byte, 0, len(s.pat)+whole)
	buf = append(buf, s.pat...)
	buf = append(buf, packets...)
	if audio, text, found = discoverTracks(buf); found {
		return audio, text, true
	}

	for off := 0; off < whole; off += tsPacketSize {
		pkt := packets[off : off+tsPacketSize]
		if pkt[0] == tsSyncByte && packetPID(pkt) == patPID && pkt[1]&0x40 != 0 {
			s.pat = append(s.pat[:0], pkt...)
		}
	}
	return nil, nil, false
}

// exhausted reports whether the scan budget is spent.
func (s *pmtScanner) exhausted() bool {
	return s.scanned >= discoveryLimit
}

// syncOffset returns the first offset that looks like a packet boundary: a
// sync byte followed by another one a packet later when the data reaches it.
func syncOffset(data []byte) int {
	for i := 0; i < len(data); i++ {
		if data[i] != tsSyncByte {
			continue
		}
		if i+tsPacketSize >= len(data) || data[i+tsPacketSize] == tsSyncByte {
			return i
		}
	}
	return -1
}

func packetPID(pkt []byte) uint16 {
	return uint16(pkt[1]&0x1f)<<8 | uint16(pkt[2])
}

// discoverTracks demuxes TS bytes up to the first PMT. found is false
// while no PMT has been seen yet.
func discoverTracks(data []byte) (audio, text []NativeTrack, found bool) {
	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(data))
	for {
		d, err := dmx.NextData()
		if err != nil {
			return nil, nil, false
		}
		if d.PMT != nil {
			audio, text = tracksFromPMT(d.PMT)
			return audio, text, true
		}
	}
}

// tracksFromPMT maps elementary streams to native audio and text tracks. The
// first audio track is enabled, as a media element does by default.
func tracksFromPMT(pmt *astits.PMTData) (audio, text []NativeTrack) {
	for _, es := range pmt.ElementaryStreams {
		pid := es.ElementaryPID
		descriptors := es.ElementaryStreamDescriptors

		switch uint8(es.StreamType) {
		case streamTypeMPEG1Audio, streamTypeMPEG2Audio, streamTypeADTS, streamTypeLATM, streamTypeAC3, streamTypeEAC3:
			audio = append(audio, audioTrack(pid, descriptors))

		case streamTypePrivateData:
			if subs := subtitleTracks(pid, descriptors); len(subs) > 0 {
				text = append(text, subs...)
				continue
			}
			if hasTag(descriptors, descriptorTagAC3, descriptorTagEAC3) {
				audio = append(audio, audioTrack(pid, descriptors))
			}
		}
	}

	if len(audio) > 0 {
		audio[0].Default = true
		audio[0].Active = true
	}
	return audio, text
}

func audioTrack(pid uint16, descriptors []*astits.Descriptor) NativeTrack {
	lang := ""
	for _, d := range descriptors {
		if d.ISO639LanguageAndAudioType != nil {
			lang = normalizeISO639(d.ISO639LanguageAndAudioType.Language)
			break
		}
	}
	return NativeTrack{ID: fmt.Sprint(pid), Language: lang}
}

func subtitleTracks(pid uint16, descriptors []*astits.Descriptor) []NativeTrack {
	var out []NativeTrack
	for _, d := range descriptors {
		if d.Subtitling != nil {
			for i, item := range d.Subtitling.Items {
				out = append(out, NativeTrack{
					ID:       fmt.Sprintf("%d.%d", pid, i),
					Language: normalizeISO639(item.Language),
				})
			}
		}
		if d.Teletext != nil {
			for i, item := range d.Teletext.Items {
				if item.Type != teletextSubtitlePage && item.Type != teletextHearingImpairedPage {
					continue
				}
				out = append(out, NativeTrack{
					ID:       fmt.Sprintf("%d.t%d", pid, i),
					Language: normalizeISO639(item.Language),
				})
			}
		}
	}
	return out
}

func hasTag(descriptors []*astits.Descriptor, tags ...uint8) bool {
	for _, d := range descriptors {
		for _, tag := range tags {
			if d.Tag == tag {
				return true
			}
		}
	}
	return false
}

func normalizeISO639(raw []byte) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(string(raw), "\x00")))
}
