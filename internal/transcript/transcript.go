// Package transcript reads timed transcripts from disk: SubRip (.srt),
// WebVTT (.vtt), and YAML or JSON manifests that also describe the video.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/transcript-chat/internal/chunker"
)

var (
	ErrUnknownFormat = errors.New("transcript: unknown file format")
	ErrBadTimestamp  = errors.New("transcript: malformed timestamp")
)

// Video is the metadata a manifest may carry. Caption files only yield a
// SourceID, taken from the file name.
type Video struct {
	SourceID        string     `json:"source_id"                  yaml:"source_id"`
	Title           string     `json:"title"                      yaml:"title"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"      yaml:"uploaded_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
}

// File is one parsed transcript.
type File struct {
	Path     string            `json:"-"        yaml:"-"`
	Video    Video             `json:"video"    yaml:"video"`
	Segments []chunker.Segment `json:"segments" yaml:"segments"`
}

// Load reads and parses path, picking the format from its extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse decodes data according to the extension of name.
func Parse(name string, data []byte) (*File, error) {
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))

	var (
		f   *File
		err error
	)
	switch ext {
	case ".srt":
		f, err = captions(data)
	case ".vtt":
		f, err = captions(data)
	case ".yaml", ".yml":
		f = &File{}
		err = yaml.Unmarshal(data, f)
	case ".json":
		f = &File{}
		err = json.Unmarshal(data, f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	if f.Video.SourceID == "" {
		f.Video.SourceID = stem
	}
	if f.Video.Title == "" {
		f.Video.Title = f.Video.SourceID
	}
	return f, nil
}

// captions parses SRT and WebVTT cue blocks:
//
//	1
//	00:00:00,000 --> 00:00:01,830
//	I'm happy to
//	have you here today.
//
// Sequence numbers, the WEBVTT header, NOTE blocks and cue settings are
// ignored. Multi-line cue text is joined with spaces.
func captions(data []byte) (*File, error) {
	f := &File{}
	sc := bufio.NewScanner(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		cur     *chunker.Segment
		text    []string
		skip    bool
		lineNum int
	)
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, " ")
			f.Segments = append(f.Segments, *cur)
		}
		cur, text, skip = nil, nil, false
	}

	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			flush()
		case skip:
		case cur == nil && (strings.HasPrefix(line, "WEBVTT") || strings.HasPrefix(line, "NOTE") || line == "STYLE" || line == "REGION"):
			skip = true
		case strings.Contains(line, "-->"):
			flush()
			start, end, err := cueTimes(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			cur = &chunker.Segment{Start: start, End: end}
		case cur == nil:
			// sequence number or cue identifier
		default:
			if t := tagRE.ReplaceAllString(line, ""); strings.TrimSpace(t) != "" {
				text = append(text, strings.TrimSpace(t))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return f, nil
}

// tagRE matches inline markup such as <i>, </b> or <00:00:01.000>.
var tagRE = regexp.MustCompile(`<[^>]*>`)

func cueTimes(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	startStr := strings.TrimSpace(parts[0])
	endFields := strings.Fields(parts[1])
	if len(endFields) == 0 {
		return 0, 0, ErrBadTimestamp
	}
	start, err := ParseTimestamp(startStr)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(endFields[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// ParseTimestamp converts "HH:MM:SS,mmm" (SubRip) or "HH:MM:SS.mmm" /
// "MM:SS.mmm" (WebVTT) to seconds.
func ParseTimestamp(s string) (float64, error) {
	s = strings.Replace(s, ",", ".", 1)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}
	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		if p == "" {
			return 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
		}
		var (
			v   float64
			err error
		)
		if last {
			v, err = strconv.ParseFloat(p, 64)
			if err == nil && v >= 60 {
				err = ErrBadTimestamp
			}
		} else {
			var n int
			n, err = strconv.Atoi(p)
			v = float64(n)
			if err == nil && (n < 0 || (i > 0 && n >= 60)) {
				err = ErrBadTimestamp
			}
		}
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
		}
		total = total*60 + v
	}
	return total, nil
}
