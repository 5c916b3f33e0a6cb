package reader

import (
	iface "AnpdServer/interface"
	"AnpdServer/logger"
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// TextDetector is the part of the Rekognition API the reader needs.
type TextDetector interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Reader reads plate text inside detected boxes.
type Reader struct {
	client        TextDetector
	minConfidence float32
	log           *zap.Logger
}

func New(client TextDetector, minConfidence float32) *Reader {
	return &Reader{
		client:        client,
		minConfidence: minConfidence,
		log:           logger.Named("reader"),
	}
}

// NewFromAWS builds a Reader on the default AWS credential chain.
func NewFromAWS(ctx context.Context, region string, minConfidence float32) (*Reader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(rekognition.NewFromConfig(cfg), minConfidence), nil
}

// Normalize uppercases plate text and strips spaces and dots.
func Normalize(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, ".", "")
}

// Read returns a copy of results with Text and TextConf filled where the
// plate could be read. Failures leave that result unchanged.
func (r *Reader) Read(ctx context.Context, img image.Image, results []iface.Result) []iface.Result {
	out := append([]iface.Result(nil), results...)
	bounds := img.Bounds()
	for i := range out {
		rect := out[i].Box.Rect().Add(bounds.Min).Intersect(bounds)
		if rect.Empty() {
			continue
		}
		text, conf, err := r.readCrop(ctx, imaging.Crop(img, rect))
		if err != nil {
			r.log.Warn("plate read failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		if text == "" {
			continue
		}
		out[i].Text = text
		out[i].TextConf = conf
	}
	return out
}

func (r *Reader) readCrop(ctx context.Context, crop image.Image) (string, float32, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, crop, imaging.JPEG); err != nil {
		return "", 0, err
	}
	res, err := r.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: buf.Bytes()},
	})
	if err != nil {
		return "", 0, fmt.Errorf("detect text: %w", err)
	}

	var best string
	var bestConf float32
	for _, td := range res.TextDetections {
		if td.Type != types.TextTypesLine && td.Type != types.TextTypesWord {
			continue
		}
		text := Normalize(aws.ToString(td.DetectedText))
		conf := aws.ToFloat32(td.Confidence)
		if text == "" || conf < r.minConfidence {
			continue
		}
		if conf > bestConf {
			best, bestConf = text, conf
		}
	}
	return best, bestConf, nil
}
