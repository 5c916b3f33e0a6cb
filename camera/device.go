package camera

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"gocv.io/x/gocv"
)

var (
	ErrOpen = errors.New("cannot open camera")
	ErrRead = errors.New("failed to read frame from camera")
	ErrBusy = errors.New("camera is in use by another session")
)

// FrameSource yields frames until it fails or is closed.
type FrameSource interface {
	Read() (image.Image, error)
	Close() error
}

// Opener opens a FrameSource for one stream.
type Opener func() (FrameSource, error)

type WebcamSource struct {
	deviceID int
	webcam   *gocv.VideoCapture
	mat      gocv.Mat
}

// OpenDevice opens a local capture device by index.
func OpenDevice(deviceID int) (FrameSource, error) {
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %v", ErrOpen, deviceID, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("%w %d", ErrOpen, deviceID)
	}
	return &WebcamSource{deviceID: deviceID, webcam: webcam, mat: gocv.NewMat()}, nil
}

// DeviceOpener binds OpenDevice to an index.
func DeviceOpener(deviceID int) Opener {
	return func() (FrameSource, error) { return OpenDevice(deviceID) }
}

func (we *WebcamSource) Read() (image.Image, error) {
	if ok := we.webcam.Read(&we.mat); !ok || we.mat.Empty() {
		return nil, fmt.Errorf("%w: device %d", ErrRead, we.deviceID)
	}
	img, err := we.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return img, nil
}

func (we *WebcamSource) Close() error {
	err := we.webcam.Close()
	we.mat.Close()
	return err
}

// Device guards exclusive use of the capture device.
type Device struct {
	busy atomic.Bool
}

func (d *Device) TryAcquire() bool { return d.busy.CompareAndSwap(false, true) }

func (d *Device) Release() { d.busy.Store(false) }

func (d *Device) InUse() bool { return d.busy.Load() }
