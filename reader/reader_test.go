package reader

import (
	iface "AnpdServer/interface"
	"context"
	"errors"
	"image"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRekognition struct {
	outputs []*rekognition.DetectTextOutput
	errs    []error
	calls   int
}

func (f *fakeRekognition) DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	i := f.calls
	f.calls++
	if len(params.Image.Bytes) == 0 {
		return nil, errors.New("empty image bytes")
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.outputs[i], nil
}

func detection(text string, conf float32, typ types.TextTypes) types.TextDetection {
	return types.TextDetection{
		DetectedText: aws.String(text),
		Confidence:   aws.Float32(conf),
		Type:         typ,
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "51G12345", Normalize("51g 123.45"))
	assert.Equal(t, "", Normalize(" . "))
}

func TestReader_Read(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	results := []iface.Result{
		{Class: "plate", Conf: 0.9, Box: iface.NewBox(10, 10, 50, 30)},
		{Class: "plate", Conf: 0.8, Box: iface.NewBox(60, 60, 90, 80)},
		{Class: "plate", Conf: 0.7, Box: iface.NewBox(200, 200, 220, 210)},
	}
	fake := &fakeRekognition{
		outputs: []*rekognition.DetectTextOutput{
			{TextDetections: []types.TextDetection{
				detection("KA 01", 70, types.TextTypesWord),
				detection("ka01ab.1234", 95, types.TextTypesLine),
			}},
			nil,
		},
		errs: []error{nil, errors.New("throttled")},
	}

	out := New(fake, 80).Read(context.Background(), img, results)
	require.Len(t, out, 3)
	assert.Equal(t, "KA01AB1234", out[0].Text)
	assert.Equal(t, float32(95), out[0].TextConf)
	assert.Empty(t, out[1].Text)
	assert.Empty(t, out[2].Text)
	// the box outside the image is skipped without a call
	assert.Equal(t, 2, fake.calls)
	// the input is not modified
	assert.Empty(t, results[0].Text)
}

func TestReader_BelowMinConfidence(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	fake := &fakeRekognition{outputs: []*rekognition.DetectTextOutput{
		{TextDetections: []types.TextDetection{detection("AB123", 50, types.TextTypesLine)}},
	}}
	out := New(fake, 80).Read(context.Background(), img, []iface.Result{{Box: iface.NewBox(0, 0, 20, 10)}})
	assert.Empty(t, out[0].Text)
}
