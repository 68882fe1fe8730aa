// SPDX-License-Identifier: MIT

// Package playlist renders HLS master and variant playlists from an analysis.
package playlist

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/ManuGH/vodhls/internal/domain/stream"
	"github.com/ManuGH/vodhls/internal/stream/plan"
)

// hlsCodecs is the codec pair advertised for every rendition: H.264 Main
// profile video with AAC-LC audio.
const hlsCodecs = `avc1.4d401f,mp4a.40.2`

// WriteMaster renders the master playlist: one stream entry per eligible
// profile, highest quality first.
func WriteMaster(w io.Writer, profiles []stream.QualityProfile) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	for _, p := range profiles {
		fmt.Fprintf(buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,CODECS=%q\n",
			p.Bandwidth(), p.Resolution(), hlsCodecs)
		fmt.Fprintf(buf, "%s/playlist.m3u8\n", p.Label)
	}
	_, err := io.Copy(w, buf)
	return err
}

// WriteVariant renders a VOD variant playlist for the segment plan. The name
// function maps a segment index to its filename.
func WriteVariant(w io.Writer, segs []stream.SegmentSpec, name func(index int) string) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(buf, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segs))
	buf.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	buf.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	for _, entry := range plan.HLSEntries(segs, name) {
		buf.WriteString(entry)
		buf.WriteString("\n")
	}
	buf.WriteString("#EXT-X-ENDLIST\n")
	_, err := io.Copy(w, buf)
	return err
}

// targetDuration is the ceiling of the longest planned segment duration.
func targetDuration(segs []stream.SegmentSpec) int {
	longest := 0.0
	for _, s := range segs {
		if d := s.Duration(); d > longest {
			longest = d
		}
	}
	return int(math.Ceil(longest))
}
