package media

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   Format
	}{
		{"id3", []byte("ID3\x04\x00\x00"), FormatMP3},
		{"mpeg frame", []byte{0xFF, 0xFB, 0x90, 0x64}, FormatMP3},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), FormatFLAC},
		{"ogg", []byte("OggS\x00\x02"), FormatOGG},
		{"wav", []byte("RIFF\x24\x08\x00\x00WAVEfmt "), FormatWAV},
		{"avi is not wav", []byte("RIFF\x24\x08\x00\x00AVI LIST"), FormatUnknown},
		{"aiff", []byte("FORM\x00\x00\x00\x00AIFF"), FormatAIFF},
		{"aifc", []byte("FORM\x00\x00\x00\x00AIFC"), FormatAIFF},
		{"m4a", []byte("\x00\x00\x00\x20ftypM4A "), FormatMP4},
		{"text", []byte("hello world"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.header); got != tt.want {
				t.Errorf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMIME(t *testing.T) {
	if FormatMP3.MIME() != "audio/mpeg" {
		t.Errorf("Unexpected mp3 MIME %s", FormatMP3.MIME())
	}
	if FormatUnknown.MIME() != "application/octet-stream" {
		t.Errorf("Unexpected fallback MIME %s", FormatUnknown.MIME())
	}
}

func atom(typ string, payload int) []byte {
	b := make([]byte, 8+payload)
	binary.BigEndian.PutUint32(b, uint32(len(b)))
	copy(b[4:], typ)
	return b
}

func mp4(types ...string) []byte {
	var buf bytes.Buffer
	for _, t := range types {
		buf.Write(atom(t, 16))
	}
	return buf.Bytes()
}

func TestMoovPosition(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"fast start", mp4("ftyp", "moov", "mdat"), "head"},
		{"free before moov", mp4("ftyp", "free", "moov", "mdat"), "head"},
		{"moov last", mp4("ftyp", "mdat", "moov"), "tail"},
		{"no moov", mp4("ftyp", "mdat"), "unknown"},
		{"not mp4", []byte("ID3 not boxes at all"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.data)
			if got := MoovPosition(r, int64(len(tt.data))); got != tt.want {
				t.Errorf("MoovPosition() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInspectFile(t *testing.T) {
	dir := t.TempDir()

	tail := filepath.Join(dir, "tail.m4a")
	os.WriteFile(tail, mp4("ftyp", "mdat", "moov"), 0644)
	info, err := InspectFile(tail)
	if err != nil {
		t.Fatalf("InspectFile failed: %v", err)
	}
	if info.Format != FormatMP4 || info.Streamable || info.MIME != "audio/mp4" {
		t.Errorf("Unexpected info for tail moov: %+v", info)
	}

	short := filepath.Join(dir, "short.flac")
	os.WriteFile(short, []byte("fLaC"), 0644)
	info, err = InspectFile(short)
	if err != nil {
		t.Fatalf("InspectFile failed: %v", err)
	}
	if info.Format != FormatFLAC || !info.Streamable {
		t.Errorf("Unexpected info for flac: %+v", info)
	}

	if _, err := InspectFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
}
