package frame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FrameReader yields successive decoded frames. ReadFrame returns io.EOF
// after the last frame.
type FrameReader interface {
	ReadFrame() (image.Image, error)
	Close() error
}

// RawReader reads tightly packed RGBA frames of a fixed size.
type RawReader struct {
	r      io.Reader
	width  int
	height int
}

// NewRawReader reads width*height*4 byte RGBA frames from r.
func NewRawReader(r io.Reader, width, height int) *RawReader {
	return &RawReader{r: r, width: width, height: height}
}

// ReadFrame returns the next frame. A truncated trailing frame is treated as
// the end of the stream.
func (rr *RawReader) ReadFrame() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, rr.width, rr.height))
	if _, err := io.ReadFull(rr.r, img.Pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return img, nil
}

// Close closes the underlying reader when it is an io.Closer.
func (rr *RawReader) Close() error {
	if c, ok := rr.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// VideoInfo describes the first video stream of a file.
type VideoInfo struct {
	Width  int
	Height int
	FPS    float64
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// ProbeFile inspects a video file with ffprobe.
func ProbeFile(path string) (VideoInfo, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("probe %s: %w", path, err)
	}
	return parseProbe(out)
}

func parseProbe(out string) (VideoInfo, error) {
	var probe probeOutput
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return VideoInfo{}, fmt.Errorf("parse probe output: %w", err)
	}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		if s.Width <= 0 || s.Height <= 0 {
			return VideoInfo{}, fmt.Errorf("video stream has invalid size %dx%d", s.Width, s.Height)
		}
		fps := parseRate(s.AvgFrameRate)
		if fps <= 0 {
			fps = parseRate(s.RFrameRate)
		}
		return VideoInfo{Width: s.Width, Height: s.Height, FPS: fps}, nil
	}
	return VideoInfo{}, errors.New("no video stream found")
}

// parseRate parses ffprobe rates such as "30000/1001" or "25".
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

type ffmpegReader struct {
	*RawReader
	pipe   *io.PipeReader
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenFile decodes a video file through ffmpeg, streaming raw RGBA frames.
func OpenFile(ctx context.Context, path string) (FrameReader, VideoInfo, error) {
	info, err := ProbeFile(path)
	if err != nil {
		return nil, VideoInfo{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	stream := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgba"}).
		WithOutput(pw)
	stream.Context = ctx

	done := make(chan struct{})
	go func() {
		defer close(done)
		// A nil error closes the pipe with io.EOF.
		_ = pw.CloseWithError(stream.Run())
	}()

	return &ffmpegReader{
		RawReader: NewRawReader(pr, info.Width, info.Height),
		pipe:      pr,
		cancel:    cancel,
		done:      done,
	}, info, nil
}

func (f *ffmpegReader) Close() error {
	f.cancel()
	err := f.pipe.Close()
	<-f.done
	return err
}
