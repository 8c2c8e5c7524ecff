package subtitle

import (
	"io"
	"time"
)

// represents single subtitle entry
type Entry struct {
	Index     int
	StartTime time.Duration
	EndTime   time.Duration
	Text      string
}

// represents complete subtitle track
type Subtitle struct {
	Entries  []Entry
	Language string
	Format   string
}

// represents supported subtitle formats
type Format string

const (
	FormatSRT Format = "srt"
	FormatTSV Format = "tsv"
	FormatVTT Format = "vtt"
	FormatASS Format = "ass"
)

// interface for writing subtitles to files or streams
type Writer interface {
	Write(subtitle *Subtitle, path string) error
	Encode(w io.Writer, subtitle *Subtitle) error
}
