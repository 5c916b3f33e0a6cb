package main

import (
	"AnpdServer/camera"
	"AnpdServer/config"
	"AnpdServer/engine"
	"AnpdServer/logger"
	"AnpdServer/monitor"
	"AnpdServer/pages"
	"AnpdServer/pipeline"
	"AnpdServer/reader"
	"AnpdServer/storage"
	"AnpdServer/web"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func GetOutboundIP() (string, error) {
	// 只用于选路得到本机出口 IP，不会真正发包
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()
	for _, w := range warnings {
		log.Warn(w)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	log.Info("Safely exited")
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := os.MkdirAll(cfg.Uploads.DownloadsDir, 0o755); err != nil {
		return fmt.Errorf("create downloads dir: %w", err)
	}
	naming, err := storage.ParseNaming(cfg.Uploads.Naming)
	if err != nil {
		return err
	}
	store, err := storage.NewUploadStore(cfg.Uploads.Dir, naming)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 模型在第一次使用时加载
	provider := engine.NewProvider(engine.ONNXLoader(engine.Config{
		ModelPath:      cfg.Model.Path,
		Names:          cfg.Model.Names,
		Conf:           cfg.Model.Confidence,
		Iou:            cfg.Model.Iou,
		InputSize:      cfg.Model.InputSize,
		RuntimeLib:     cfg.Model.RuntimeLib,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		InterOpThreads: cfg.Model.InterOpThreads,
	}))
	defer func() {
		if err := provider.Close(); err != nil {
			log.Warn("close model", zap.Error(err))
		}
	}()

	var plateReader engine.PlateReader
	if cfg.Reader.Enabled {
		r, err := reader.NewFromAWS(ctx, cfg.Reader.Region, cfg.Reader.MinConfidence)
		if err != nil {
			log.Warn("plate reader disabled", zap.Error(err))
		} else {
			plateReader = r
			log.Info("plate reader enabled", zap.String("region", cfg.Reader.Region))
		}
	}

	router, err := pages.NewRouter()
	if err != nil {
		return err
	}

	if cfg.Monitor.Enabled {
		go monitor.StartMon(ctx, time.Duration(cfg.Monitor.SampleIntervalMs)*time.Millisecond)
	}

	gin.SetMode(cfg.Server.Mode)
	b := cfg.Branding
	srv := &web.Server{
		Pages:     router,
		Provider:  provider,
		ModelPath: cfg.Model.Path,
		Images: &pipeline.ImagePipeline{
			Store:     store,
			Annotator: &engine.Annotator{Source: provider, Reader: plateReader, Label: "upload"},
			Size:      cfg.Model.InputSize,
		},
		Branding: pages.Branding{
			AppTitle:     b.AppTitle,
			Organization: b.Organization,
			Location:     b.Location,
			Developer:    b.Developer,
			Department:   b.Department,
			Batch:        b.Batch,
			Year:         b.Year,
		},
		LogoPath:        b.LogoPath,
		MaxUploadBytes:  cfg.Uploads.MaxBytes,
		Device:          &camera.Device{},
		CameraOpener:    camera.DeviceOpener(cfg.Camera.Device),
		CameraAnnotator: &engine.Annotator{Source: provider, Reader: plateReader, Label: "camera"},
		CameraOptions:   camera.Options{MaxFPS: cfg.Camera.MaxFPS},
		JPEGQuality:     cfg.Camera.JPEGQuality,
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	fields := []zap.Field{
		zap.Int("port", cfg.Server.Port),
		zap.String("model", cfg.Model.Path),
		zap.String("uploadNaming", string(naming)),
	}
	if ip, err := GetOutboundIP(); err == nil {
		fields = append(fields, zap.String("url", fmt.Sprintf("http://%s:%d/", ip, cfg.Server.Port)))
	}
	log.Info("AnpdServer started", fields...)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	// 先停掉摄像头流，再关闭模型
	srv.CloseCameras()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
