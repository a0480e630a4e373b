// Package media recognises audio container formats from their leading bytes.
package media

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

// HeaderSize is the number of leading bytes Detect needs.
const HeaderSize = 64

// Format is a detected container format.
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatOGG     Format = "ogg"
	FormatWAV     Format = "wav"
	FormatAIFF    Format = "aiff"
	FormatMP4     Format = "mp4"
)

var mimeTypes = map[Format]string{
	FormatMP3:  "audio/mpeg",
	FormatFLAC: "audio/flac",
	FormatOGG:  "audio/ogg",
	FormatWAV:  "audio/wav",
	FormatAIFF: "audio/aiff",
	FormatMP4:  "audio/mp4",
}

// MIME returns the media type of f, or application/octet-stream.
func (f Format) MIME() string {
	if m, ok := mimeTypes[f]; ok {
		return m
	}
	return "application/octet-stream"
}

// Detect identifies the container from the first bytes of a file.
func Detect(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return FormatMP3
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(header, []byte("OggS")):
		return FormatOGG
	case len(header) >= 12 && string(header[0:4]) == "RIFF" && string(header[8:12]) == "WAVE":
		return FormatWAV
	case len(header) >= 12 && string(header[0:4]) == "FORM" &&
		(string(header[8:12]) == "AIFF" || string(header[8:12]) == "AIFC"):
		return FormatAIFF
	case len(header) >= 8 && string(header[4:8]) == "ftyp":
		return FormatMP4
	}
	return FormatUnknown
}

// Info describes a media file.
type Info struct {
	Format Format
	MIME   string
	// Streamable is false for MP4 files whose moov atom follows the media data;
	// players cannot start those before the whole file has arrived.
	Streamable bool
}

// Inspect reads the header of r, and for MP4 the top-level atom layout.
func Inspect(r io.ReaderAt, size int64) (Info, error) {
	header := make([]byte, HeaderSize)
	n, err := r.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return Info{}, err
	}
	f := Detect(header[:n])
	info := Info{Format: f, MIME: f.MIME(), Streamable: true}
	if f == FormatMP4 {
		info.Streamable = MoovPosition(r, size) != "tail"
	}
	return info, nil
}

// InspectFile inspects the file at path.
func InspectFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	return Inspect(f, st.Size())
}

// MoovPosition walks the top-level MP4 atoms and returns "head", "tail", or "unknown".
func MoovPosition(r io.ReaderAt, size int64) string {
	var (
		types  []string
		offset int64
	)
	buf := make([]byte, 16)
	for offset+8 <= size {
		if _, err := r.ReadAt(buf[:8], offset); err != nil {
			break
		}
		sz := int64(binary.BigEndian.Uint32(buf[0:4]))
		typ := string(buf[4:8])
		switch sz {
		case 0:
			// atom extends to the end of the file
			sz = size - offset
		case 1:
			if _, err := r.ReadAt(buf[8:16], offset+8); err != nil {
				return "unknown"
			}
			sz = int64(binary.BigEndian.Uint64(buf[8:16]))
		}
		if sz < 8 {
			break
		}
		types = append(types, typ)
		offset += sz
	}

	moov := -1
	for i, t := range types {
		if t == "moov" {
			moov = i
		}
	}
	if moov == -1 {
		return "unknown"
	}
	for _, t := range types[:moov] {
		if t == "mdat" {
			return "tail"
		}
	}
	return "head"
}
