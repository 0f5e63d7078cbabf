package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var errNotWAV = errors.New("not a RIFF/WAVE file")

// ReadWAV decodes the header of a RIFF/WAVE file.
func ReadWAV(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Metadata{}, err
	}

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return Metadata{}, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Metadata{}, errNotWAV
	}

	var (
		channels   uint16
		sampleRate uint32
		byteRate   uint32
		haveFormat bool
	)
	for {
		var header [8]byte
		if _, err := io.ReadFull(f, header[:]); err != nil {
			return Metadata{}, fmt.Errorf("wav: missing data chunk: %w", err)
		}
		id := string(header[0:4])
		size := int64(binary.LittleEndian.Uint32(header[4:8]))
		switch id {
		case "fmt ":
			var fmtChunk [16]byte
			if size < int64(len(fmtChunk)) {
				return Metadata{}, errors.New("wav: short fmt chunk")
			}
			if _, err := io.ReadFull(f, fmtChunk[:]); err != nil {
				return Metadata{}, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			channels = binary.LittleEndian.Uint16(fmtChunk[2:4])
			sampleRate = binary.LittleEndian.Uint32(fmtChunk[4:8])
			byteRate = binary.LittleEndian.Uint32(fmtChunk[8:12])
			haveFormat = true
			if _, err := f.Seek(size-int64(len(fmtChunk))+size%2, io.SeekCurrent); err != nil {
				return Metadata{}, err
			}
		case "data":
			if !haveFormat {
				return Metadata{}, errors.New("wav: data chunk before fmt chunk")
			}
			meta := Metadata{
				SampleRate: int(sampleRate),
				Channels:   int(channels),
				SizeBytes:  info.Size(),
				Format:     "wav",
			}
			if byteRate > 0 {
				meta.Duration = float64(size) / float64(byteRate)
			}
			return meta, nil
		default:
			if _, err := f.Seek(size+size%2, io.SeekCurrent); err != nil {
				return Metadata{}, err
			}
		}
	}
}
