// Package media classifies filenames for delivery headers. Classification is
// a pure extension lookup with no failure mode; it only decides response
// headers and whether streaming endpoints apply, never how bytes are stored.
package media

import (
	"mime"
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindOther Kind = "other"
)

// Container formats browsers commonly play; stdlib mime tables miss several
// of these, so content types are pinned here.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".3gp":  "video/3gpp",
	".ts":   "video/mp2t",
}

var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".wma":  "audio/x-ms-wma",
}

type Classification struct {
	Kind        Kind
	ContentType string
}

func Classify(filename string) Classification {
	ext := strings.ToLower(filepath.Ext(filename))
	if ctype, ok := videoTypes[ext]; ok {
		return Classification{Kind: KindVideo, ContentType: ctype}
	}
	if ctype, ok := audioTypes[ext]; ok {
		return Classification{Kind: KindAudio, ContentType: ctype}
	}
	ctype := mime.TypeByExtension(ext)
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return Classification{Kind: KindOther, ContentType: ctype}
}

// Streamable reports whether the streaming endpoint applies to this file.
func (c Classification) Streamable() bool {
	return c.Kind == KindVideo || c.Kind == KindAudio
}
