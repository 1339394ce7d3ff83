package session

import (
	"context"
	"fmt"
	"os"

	"github.com/dj-oyu/ppe-monitor/internal/frame"
)

// Opener turns a selected file into a frame source.
type Opener interface {
	OpenImage(f File, opts ...frame.Option) (*frame.Image, error)
	// OpenVideo prepares the first frame. ctx bounds the lifetime of the decoder.
	OpenVideo(ctx context.Context, f File, opts ...frame.Option) (*frame.Video, error)
}

// DiskOpener reads files from the local filesystem and decodes video with ffmpeg.
type DiskOpener struct{}

func (DiskOpener) OpenImage(f File, opts ...frame.Option) (*frame.Image, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := frame.DecodeImage(file, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return img, nil
}

func (DiskOpener) OpenVideo(ctx context.Context, f File, opts ...frame.Option) (*frame.Video, error) {
	r, info, err := frame.OpenFile(ctx, f.Path)
	if err != nil {
		return nil, err
	}
	v, err := frame.NewVideo(r, info.FPS, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return v, nil
}
