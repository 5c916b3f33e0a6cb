package pipeline

import (
	"AnpdServer/engine"
	iface "AnpdServer/interface"
	"AnpdServer/logger"
	"AnpdServer/monitor"
	"AnpdServer/storage"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// TargetSize is the letterbox size used for uploads.
const TargetSize = 640

var (
	ErrDecode          = errors.New("cannot decode image")
	ErrUnsupportedType = errors.New("unsupported file type, use jpg, jpeg or png")
)

// Annotator runs detection and rendering. *engine.Annotator implements it.
type Annotator interface {
	Annotate(ctx context.Context, img image.Image, size int) (*engine.Annotated, error)
}

type Output struct {
	Rendered     image.Image
	Download     []byte
	DownloadName string
	MIME         string
	Detections   []iface.Result
	SavedPath    string
}

type ImagePipeline struct {
	Store       *storage.UploadStore
	Annotator   Annotator
	Size        int
	JPEGQuality int
}

// DownloadName is the file name offered for the processed image.
func DownloadName(name string) string {
	return "processed_" + storage.BaseName(name)
}

// DownloadFormat maps the upload extension to the encoding of the download.
func DownloadFormat(name string) (imaging.Format, string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return imaging.JPEG, "image/jpeg", nil
	case ".png":
		return imaging.PNG, "image/png", nil
	default:
		return 0, "", ErrUnsupportedType
	}
}

// ProcessUpload stores the upload, detects plates and encodes the rendered
// result for download. Every returned error reads as a user-facing message.
func (p *ImagePipeline) ProcessUpload(ctx context.Context, data []byte, name string) (*Output, error) {
	out, err := p.process(ctx, data, name)
	if err != nil {
		monitor.UploadErrors.Inc()
		logger.Log().Warn("upload failed", zap.String("file", name), zap.Error(err))
		return nil, fmt.Errorf("error processing image: %w", err)
	}
	return out, nil
}

func (p *ImagePipeline) process(ctx context.Context, data []byte, name string) (*Output, error) {
	format, mime, err := DownloadFormat(name)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: upload is empty", ErrDecode)
	}

	saved, err := p.Store.Save(name, data)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	size := p.Size
	if size <= 0 {
		size = TargetSize
	}
	res, err := p.Annotator.Annotate(ctx, img, size)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	quality := p.JPEGQuality
	if quality <= 0 {
		quality = 95
	}
	if err := imaging.Encode(&buf, res.Image, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	return &Output{
		Rendered:     res.Image,
		Download:     buf.Bytes(),
		DownloadName: DownloadName(name),
		MIME:         mime,
		Detections:   res.Detections,
		SavedPath:    saved,
	}, nil
}
