package web

import (
	"AnpdServer/camera"
	"AnpdServer/engine"
	"AnpdServer/logger"
	"AnpdServer/monitor"
	"AnpdServer/pages"
	"AnpdServer/pipeline"
	"AnpdServer/storage"
	"errors"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errTooLarge = errors.New("file is too large")

// Server holds everything the HTTP handlers need.
type Server struct {
	Pages    *pages.Router
	Images   *pipeline.ImagePipeline
	Provider *engine.Provider
	// ModelPath is reported before the model is loaded.
	ModelPath string
	Branding pages.Branding
	LogoPath string
	// MaxUploadBytes caps a single upload, 0 for no limit.
	MaxUploadBytes int64

	Device          *camera.Device
	CameraOpener    camera.Opener
	CameraAnnotator camera.Annotator
	CameraOptions   camera.Options
	JPEGQuality     int

	log       *zap.Logger
	camMu     sync.Mutex
	cams      map[*camera.Session]*wsConn
	camClosed bool
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	s.log = logger.Named("web")
	if s.Device == nil {
		s.Device = &camera.Device{}
	}

	r := gin.New()
	r.Use(requestLogger(s.log), recovery(s.log))

	r.GET("/", s.page)
	r.POST("/model/upload", s.uploadPage)
	r.POST("/exit", s.exitPage)
	r.GET("/branding/logo", s.logo)
	r.GET("/ws/camera", s.cameraSocket)
	r.GET("/metrics", gin.WrapH(monitor.Handler()))

	api := r.Group("/api")
	{
		api.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong"})
		})
		v1 := api.Group("/v1")
		v1.GET("/model", s.modelStatus)
		v1.POST("/detect", s.detect)
		v1.POST("/detect/download", s.download)
	}
	return r
}

// errorKind maps an error to its category and HTTP status.
func errorKind(err error) (string, int) {
	switch {
	case errors.Is(err, engine.ErrModelLoad), errors.Is(err, engine.ErrNotLoaded):
		return "load", http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrBusy):
		return "camera", http.StatusConflict
	case errors.Is(err, camera.ErrOpen), errors.Is(err, camera.ErrRead):
		return "camera", http.StatusServiceUnavailable
	case errors.Is(err, errTooLarge):
		return "upload", http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrUnsupportedType):
		return "upload", http.StatusUnsupportedMediaType
	case errors.Is(err, pipeline.ErrDecode), errors.Is(err, storage.ErrEmptyName),
		errors.Is(err, engine.ErrEmptyImage), errors.Is(err, http.ErrMissingFile):
		return "upload", http.StatusBadRequest
	default:
		return "upload", http.StatusInternalServerError
	}
}

func (s *Server) pageData() pages.Data {
	b := s.Branding
	if s.LogoPath != "" {
		if fi, err := os.Stat(s.LogoPath); err == nil && !fi.IsDir() {
			b.HasLogo = true
		}
	}
	return pages.Data{Branding: b}
}
