package web

import (
	"AnpdServer/camera"
	"AnpdServer/engine"
	iface "AnpdServer/interface"
	"AnpdServer/pages"
	"AnpdServer/pipeline"
	"AnpdServer/storage"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct{}

func (fakeBackend) Detect(ctx context.Context, img image.Image, size int) ([]iface.Result, error) {
	box := iface.NewBox(2, 2, 12, 8)
	return []iface.Result{{Class: "plate", Conf: 0.91, Box: box, Center: box.Center()}}, nil
}
func (fakeBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{ModelPath: "model/last.onnx", InputSize: 640}
}
func (fakeBackend) Destroy() error { return nil }

type fakeSource struct {
	failAfter int
	reads     atomic.Int32
	closes    atomic.Int32
}

func (f *fakeSource) Read() (image.Image, error) {
	n := int(f.reads.Add(1))
	if f.failAfter > 0 && n > f.failAfter {
		return nil, errors.New("unplugged")
	}
	time.Sleep(5 * time.Millisecond)
	return image.NewRGBA(image.Rect(0, 0, 32, 24)), nil
}

func (f *fakeSource) Close() error {
	f.closes.Add(1)
	return nil
}

type testEnv struct {
	server *Server
	engine *gin.Engine
	source *fakeSource
}

func newTestEnv(t *testing.T, load engine.Loader) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if load == nil {
		load = func(ctx context.Context) (iface.Backend, error) { return fakeBackend{}, nil }
	}
	router, err := pages.NewRouter()
	require.NoError(t, err)
	store, err := storage.NewUploadStore(t.TempDir(), storage.NamingMemory)
	require.NoError(t, err)
	provider := engine.NewProvider(load)

	src := &fakeSource{}
	s := &Server{
		Pages:     router,
		Provider:  provider,
		ModelPath: "model/last.onnx",
		Images: &pipeline.ImagePipeline{
			Store:     store,
			Annotator: &engine.Annotator{Source: provider, Label: "upload"},
			Size:      pipeline.TargetSize,
		},
		Branding:        pages.Branding{AppTitle: "ANPR", Organization: "Test College"},
		LogoPath:        filepath.Join(t.TempDir(), "missing.png"),
		MaxUploadBytes:  1 << 20,
		CameraOpener:    func() (camera.FrameSource, error) { return src, nil },
		CameraAnnotator: &engine.Annotator{Source: provider, Label: "camera"},
	}
	return &testEnv{server: s, engine: s.Handler(), source: src}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, path, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestPages(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := []struct {
		query string
		want  string
	}{
		{"", `id="home"`},
		{"?page=Home", `id="home"`},
		{"?page=model", `id="upload"`},
		{"?page=Model+Implementation&tab=camera", `id="camera-toggle"`},
		{"?page=exit", `action="/exit"`},
		{"?page=nonsense", `id="home"`},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, "/"+tc.query, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestExitConfirm(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/exit", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `id="farewell"`)

	// the process keeps serving after exit
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"pong"}`, rec.Body.String())
}

func TestUploadPage(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("success", func(t *testing.T) {
		rec := env.do(uploadRequest(t, "/model/upload", "car1.jpg", jpegBytes(t)))
		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `download="processed_car1.jpg"`)
		assert.Contains(t, body, `src="data:image/jpeg;base64,`)
		assert.Contains(t, body, "91.0%")
	})

	t.Run("corrupted", func(t *testing.T) {
		rec := env.do(uploadRequest(t, "/model/upload", "car1.jpg", []byte("garbage")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "error processing image")
		assert.Contains(t, rec.Body.String(), `id="upload"`)
	})

	t.Run("missing file", func(t *testing.T) {
		rec := env.do(uploadRequest(t, "/model/upload", "", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "no file uploaded")
	})
}

func TestDetectAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, "/api/v1/detect", "car1.jpg", jpegBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "processed_car1.jpg", resp.DownloadName)
	assert.Equal(t, "image/jpeg", resp.MIME)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "plate", resp.Detections[0].Class)

	raw, err := base64.StdEncoding.DecodeString(resp.Image)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), img.Bounds())
}

func TestDetectAPI_Errors(t *testing.T) {
	t.Run("load error", func(t *testing.T) {
		env := newTestEnv(t, func(ctx context.Context) (iface.Backend, error) {
			return nil, &engine.LoadError{Path: "model/last.onnx", Err: os.ErrNotExist}
		})
		rec := env.do(uploadRequest(t, "/api/v1/detect", "car1.jpg", jpegBytes(t)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "load", body["kind"])
		assert.Contains(t, body["error"], "model/last.onnx")
	})

	t.Run("unsupported type", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(uploadRequest(t, "/api/v1/detect", "car1.bmp", jpegBytes(t)))
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		assert.Contains(t, rec.Body.String(), `"kind":"upload"`)
	})

	t.Run("too large", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.server.MaxUploadBytes = 10
		rec := env.do(uploadRequest(t, "/api/v1/detect", "car1.jpg", jpegBytes(t)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("oversized body rejected before parsing", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.server.MaxUploadBytes = 1 << 10
		big := bytes.Repeat([]byte{0xff}, 256<<10)
		rec := env.do(uploadRequest(t, "/api/v1/detect", "car1.jpg", big))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), `"kind":"upload"`)
	})

	t.Run("oversized body without length", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.server.MaxUploadBytes = 1 << 10
		big := bytes.Repeat([]byte{0xff}, 256<<10)
		req := uploadRequest(t, "/api/v1/detect", "car1.jpg", big)
		req.ContentLength = -1
		rec := env.do(req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestDownloadAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(uploadRequest(t, "/api/v1/detect/download", "shot.png", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="processed_shot.png"`, rec.Header().Get("Content-Disposition"))
	_, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	assert.NoError(t, err)
}

func TestModelStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/v1/model", nil))
	assert.JSONEq(t, `{"loaded":false,"modelPath":"model/last.onnx"}`, rec.Body.String())

	env.do(uploadRequest(t, "/api/v1/detect", "car1.jpg", jpegBytes(t)))
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/v1/model", nil))
	assert.Contains(t, rec.Body.String(), `"loaded":true`)
	assert.Contains(t, rec.Body.String(), `"loads":1`)
}

func TestLogo(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/branding/logo", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	home := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotContains(t, home.Body.String(), `src="/branding/logo"`)

	logo := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(logo, pngBytes(t), 0o644))
	env.server.LogoPath = logo
	rec = env.do(httptest.NewRequest(http.MethodGet, "/branding/logo", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	home = env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, home.Body.String(), `src="/branding/logo"`)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(uploadRequest(t, "/api/v1/detect", "car1.jpg", jpegBytes(t)))
	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `anpd_inference_total{source="upload"}`)
}

func dialCamera(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.engine)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/camera"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until a text message of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) (wsMessage, int) {
	t.Helper()
	binary := 0
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if mt == websocket.BinaryMessage {
			_, err := jpeg.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			binary++
			continue
		}
		var m wsMessage
		require.NoError(t, json.Unmarshal(data, &m))
		if m.Type == typ {
			return m, binary
		}
	}
}

func TestCameraSocket_ReadFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.source.failAfter = 2
	conn := dialCamera(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("start")))
	m, _ := readUntil(t, conn, "status")
	assert.Equal(t, "started", m.State)

	m, frames := readUntil(t, conn, "error")
	assert.Equal(t, "camera", m.Kind)
	assert.Contains(t, m.Message, camera.ErrRead.Error())
	assert.Equal(t, 2, frames)
	assert.Eventually(t, func() bool { return env.source.closes.Load() == 1 }, time.Second, 10*time.Millisecond)
	assert.False(t, env.server.Device.InUse())
}

func TestCameraSocket_StartStop(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialCamera(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("start")))
	m, _ := readUntil(t, conn, "detections")
	require.Len(t, m.Detections, 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("stop")))
	m, _ = readUntil(t, conn, "status")
	if m.State == "started" {
		m, _ = readUntil(t, conn, "status")
	}
	assert.Equal(t, "stopped", m.State)
	assert.Equal(t, int32(1), env.source.closes.Load())
	assert.False(t, env.server.Device.InUse())
}

func TestCameraSocket_OpenFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.CameraOpener = func() (camera.FrameSource, error) {
		return nil, errors.New("no device 0")
	}
	conn := dialCamera(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("start")))
	m, frames := readUntil(t, conn, "error")
	assert.Equal(t, "camera", m.Kind)
	assert.Contains(t, m.Message, camera.ErrOpen.Error())
	assert.Zero(t, frames)
}

func TestCameraSocket_Busy(t *testing.T) {
	env := newTestEnv(t, nil)
	require.True(t, env.server.Device.TryAcquire())
	defer env.server.Device.Release()
	conn := dialCamera(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("start")))
	m, _ := readUntil(t, conn, "error")
	assert.Contains(t, m.Message, "in use")
}

func TestErrorKind(t *testing.T) {
	kind, status := errorKind(&engine.LoadError{Err: os.ErrNotExist})
	assert.Equal(t, "load", kind)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	kind, _ = errorKind(camera.ErrRead)
	assert.Equal(t, "camera", kind)

	kind, status = errorKind(pipeline.ErrDecode)
	assert.Equal(t, "upload", kind)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCloseCameras(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialCamera(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("start")))
	_, _ = readUntil(t, conn, "detections")
	require.True(t, env.server.Device.InUse())

	env.server.CloseCameras()
	assert.False(t, env.server.Device.InUse())
	assert.Equal(t, int32(1), env.source.closes.Load())

	m, _ := readUntil(t, conn, "status")
	for m.State != "closed" {
		m, _ = readUntil(t, conn, "status")
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	late := dialCamera(t, env)
	m, _ = readUntil(t, late, "error")
	assert.Contains(t, m.Message, "shutting down")
	assert.False(t, env.server.Device.InUse())
}
