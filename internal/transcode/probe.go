package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"

	"framerecorder/internal/domain"
)

var ErrInvalidOutput = errors.New("transcode output is not a valid MP4")

// ProbeMP4 checks that data is an MP4 with a movie header and summarizes it.
func ProbeMP4(data []byte) (domain.MediaInfo, error) {
	if len(data) == 0 {
		return domain.MediaInfo{}, fmt.Errorf("%w: empty output", ErrInvalidOutput)
	}
	file, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if file.Ftyp == nil {
		return domain.MediaInfo{}, fmt.Errorf("%w: missing ftyp box", ErrInvalidOutput)
	}
	if file.Moov == nil || file.Moov.Mvhd == nil {
		return domain.MediaInfo{}, fmt.Errorf("%w: missing moov box", ErrInvalidOutput)
	}

	info := domain.MediaInfo{MajorBrand: file.Ftyp.MajorBrand()}
	if mvhd := file.Moov.Mvhd; mvhd.Timescale > 0 {
		info.Duration = time.Duration(mvhd.Duration) * time.Second / time.Duration(mvhd.Timescale)
	}
	for _, trak := range file.Moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil {
			continue
		}
		switch trak.Mdia.Hdlr.HandlerType {
		case "vide":
			info.HasVideo = true
		case "soun":
			info.HasAudio = true
		}
	}
	if !info.HasVideo {
		return domain.MediaInfo{}, fmt.Errorf("%w: no video track", ErrInvalidOutput)
	}
	return info, nil
}
