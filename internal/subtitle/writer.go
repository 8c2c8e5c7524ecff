package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// path that sends a track to stdout instead of a file
const StdoutPath = "-"

// SubRip format
type SRTWriter struct{}

// tab-separated start/end milliseconds and text
type TSVWriter struct{}

// WebVTT format
type VTTWriter struct{}

// Advanced SubStation Alpha format
type ASSWriter struct {
	Title    string
	FontName string
	FontSize int
}

func NewWriter(format Format) (Writer, error) {
	switch format {
	case FormatSRT:
		return &SRTWriter{}, nil
	case FormatTSV:
		return &TSVWriter{}, nil
	case FormatVTT:
		return &VTTWriter{}, nil
	case FormatASS:
		return &ASSWriter{
			Title:    "vidocr Extracted Subtitles",
			FontName: "Arial",
			FontSize: 20,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func (w *SRTWriter) Write(sub *Subtitle, path string) error {
	return writeTrack(path, sub, w.Encode)
}

// numbered blocks with comma-separated milliseconds
func (w *SRTWriter) Encode(out io.Writer, sub *Subtitle) error {
	return encodeCues(out, sub, "", srtClock)
}

func (w *TSVWriter) Write(sub *Subtitle, path string) error {
	return writeTrack(path, sub, w.Encode)
}

// one row per entry, millisecond offsets, text as recognised
func (w *TSVWriter) Encode(out io.Writer, sub *Subtitle) error {
	bw := bufio.NewWriter(out)
	fmt.Fprint(bw, "start\tend\ttext\n")
	for _, entry := range sub.Entries {
		fmt.Fprintf(bw, "%d\t%d\t%s\n",
			entry.StartTime.Milliseconds(), entry.EndTime.Milliseconds(), entry.Text)
	}
	return bw.Flush()
}

func (w *VTTWriter) Write(sub *Subtitle, path string) error {
	return writeTrack(path, sub, w.Encode)
}

func (w *VTTWriter) Encode(out io.Writer, sub *Subtitle) error {
	header := "WEBVTT\n\n"
	if sub.Language != "" {
		header = fmt.Sprintf("WEBVTT\nLanguage: %s\n\n", sub.Language)
	}
	return encodeCues(out, sub, header, vttClock)
}

func (w *ASSWriter) Write(sub *Subtitle, path string) error {
	return writeTrack(path, sub, w.Encode)
}

func (w *ASSWriter) Encode(out io.Writer, sub *Subtitle) error {
	bw := bufio.NewWriter(out)

	fmt.Fprintf(bw, "[Script Info]\nTitle: %s\nScriptType: v4.00+\nCollisions: Normal\nPlayDepth: 0\n", w.Title)
	if sub.Language != "" {
		fmt.Fprintf(bw, "Language: %s\n", sub.Language)
	}

	fmt.Fprint(bw, "\n[V4+ Styles]\n")
	fmt.Fprintf(bw, "Format: %s\n", strings.Join(assStyleFields, ", "))
	fmt.Fprintf(bw, "Style: Default,%s,%d,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,2,2,10,10,10,1\n",
		w.FontName, w.FontSize)

	fmt.Fprint(bw, "\n[Events]\n")
	fmt.Fprintf(bw, "Format: %s\n", strings.Join(assEventFields, ", "))
	for _, entry := range sub.Entries {
		fmt.Fprintf(bw, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			assClock.format(entry.StartTime),
			assClock.format(entry.EndTime),
			strings.ReplaceAll(entry.Text, "\n", `\N`))
	}
	return bw.Flush()
}

var (
	assStyleFields = []string{
		"Name", "Fontname", "Fontsize", "PrimaryColour", "SecondaryColour", "OutlineColour", "BackColour",
		"Bold", "Italic", "Underline", "StrikeOut", "ScaleX", "ScaleY", "Spacing", "Angle",
		"BorderStyle", "Outline", "Shadow", "Alignment", "MarginL", "MarginR", "MarginV", "Encoding",
	}
	assEventFields = []string{
		"Layer", "Start", "End", "Style", "Name", "MarginL", "MarginR", "MarginV", "Effect", "Text",
	}
)

// SRT and VTT share the block layout and differ only in the header and clock
func encodeCues(out io.Writer, sub *Subtitle, header string, c clock) error {
	bw := bufio.NewWriter(out)
	fmt.Fprint(bw, header)
	for i, entry := range sub.Entries {
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n",
			i+1, c.format(entry.StartTime), c.format(entry.EndTime), entry.Text)
	}
	return bw.Flush()
}

// timestamp layout for one format
type clock struct {
	padHours bool
	sep      byte
	digits   int // fractional digits: 3 for milliseconds, 2 for centiseconds
}

var (
	srtClock = clock{padHours: true, sep: ',', digits: 3}
	vttClock = clock{padHours: true, sep: '.', digits: 3}
	assClock = clock{padHours: false, sep: '.', digits: 2}
)

func (c clock) format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	seconds := ms / 1000 % 60
	frac := ms % 1000
	if c.digits == 2 {
		frac /= 10
	}

	hourLayout := "%d"
	if c.padHours {
		hourLayout = "%02d"
	}
	return fmt.Sprintf(hourLayout+":%02d:%02d%c%0*d", hours, minutes, seconds, c.sep, c.digits, frac)
}

// encodes into path, or stdout for StdoutPath; a failed encode leaves no partial file
func writeTrack(path string, sub *Subtitle, encode func(io.Writer, *Subtitle) error) error {
	if path == StdoutPath {
		return encode(os.Stdout, sub)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, sub); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// subtitle format based on file extension
func GetFormatFromExtension(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".tsv":
		return FormatTSV
	case ".vtt":
		return FormatVTT
	case ".ass", ".ssa":
		return FormatASS
	default:
		return FormatSRT
	}
}

// file extension for a format
func GetExtensionForFormat(format Format) string {
	switch format {
	case FormatTSV, FormatVTT, FormatASS:
		return "." + string(format)
	default:
		return ".srt"
	}
}

// validates a user supplied format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatSRT, FormatTSV, FormatVTT, FormatASS:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", name)
	}
}
