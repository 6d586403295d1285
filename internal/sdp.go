package internal

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// SummarizeSDP returns one line listing each media section and its codecs,
// e.g. "video[recvonly]: VP8/90000 H264/90000; audio[sendrecv]: opus/48000/2".
func SummarizeSDP(raw string) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("failed to parse SDP: %w", err)
	}

	sections := make([]string, 0, len(desc.MediaDescriptions))
	for _, media := range desc.MediaDescriptions {
		direction := "sendrecv"
		var codecs []string
		for _, attr := range media.Attributes {
			switch attr.Key {
			case "sendrecv", "sendonly", "recvonly", "inactive":
				direction = attr.Key
			case "rtpmap":
				// "96 H264/90000"
				if _, codec, ok := strings.Cut(attr.Value, " "); ok {
					codecs = append(codecs, codec)
				}
			}
		}
		if len(codecs) == 0 {
			codecs = media.MediaName.Formats
		}
		sections = append(sections, fmt.Sprintf("%s[%s]: %s", media.MediaName.Media, direction, strings.Join(codecs, " ")))
	}
	return strings.Join(sections, "; "), nil
}
