package frame

import (
	"mime"
	"strings"
)

// Kind is the media kind of a selected file.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "none"
	}
}

// KindOf classifies a declared media type ("image/png", "video/mp4; codecs=...").
// Content is never sniffed.
func KindOf(mediaType string) Kind {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mediaType))
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	default:
		return KindUnknown
	}
}
