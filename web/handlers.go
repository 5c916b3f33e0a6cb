package web

import (
	iface "AnpdServer/interface"
	"AnpdServer/pages"
	"AnpdServer/pipeline"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) render(c *gin.Context, status int, sel pages.Selection, data pages.Data) {
	var buf bytes.Buffer
	if err := s.Pages.Render(&buf, sel, data); err != nil {
		s.log.Error("render page", zap.Stringer("page", sel), zap.Error(err))
		c.String(http.StatusInternalServerError, "cannot render page")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) page(c *gin.Context) {
	data := s.pageData()
	data.Tab = c.Query("tab")
	s.render(c, http.StatusOK, pages.ParseSelection(c.Query("page")), data)
}

func (s *Server) exitPage(c *gin.Context) {
	data := s.pageData()
	data.Confirmed = true
	s.render(c, http.StatusOK, pages.Exit, data)
}

func (s *Server) logo(c *gin.Context) {
	if s.LogoPath == "" {
		c.Status(http.StatusNotFound)
		return
	}
	if fi, err := os.Stat(s.LogoPath); err != nil || fi.IsDir() {
		c.Status(http.StatusNotFound)
		return
	}
	c.File(s.LogoPath)
}

// multipartSlack covers the multipart headers and boundaries around the file.
const multipartSlack = 64 << 10

// readUpload returns the bytes and name of the multipart "file" field. The
// request body is capped before parsing, so an oversized upload is never
// read in full.
func (s *Server) readUpload(c *gin.Context) ([]byte, string, error) {
	if s.MaxUploadBytes > 0 {
		limit := s.MaxUploadBytes + multipartSlack
		if c.Request.ContentLength > limit {
			return nil, "", fmt.Errorf("%w: %d bytes, limit %d", errTooLarge, c.Request.ContentLength, s.MaxUploadBytes)
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, "", fmt.Errorf("%w: limit %d", errTooLarge, s.MaxUploadBytes)
		}
		return nil, "", fmt.Errorf("no file uploaded: %w", http.ErrMissingFile)
	}
	if s.MaxUploadBytes > 0 && fh.Size > s.MaxUploadBytes {
		return nil, fh.Filename, fmt.Errorf("%w: %d bytes, limit %d", errTooLarge, fh.Size, s.MaxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fh.Filename, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fh.Filename, err
	}
	return data, fh.Filename, nil
}

func (s *Server) process(c *gin.Context) (*pipeline.Output, error) {
	data, name, err := s.readUpload(c)
	if err != nil {
		return nil, fmt.Errorf("error processing image: %w", err)
	}
	return s.Images.ProcessUpload(c.Request.Context(), data, name)
}

func dataURI(mime string, b []byte) template.URL {
	return template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b))
}

func (s *Server) uploadPage(c *gin.Context) {
	data := s.pageData()
	data.Tab = "image"
	out, err := s.process(c)
	if err != nil {
		_, status := errorKind(err)
		data.Error = err.Error()
		s.render(c, status, pages.ModelImplementation, data)
		return
	}
	uri := dataURI(out.MIME, out.Download)
	data.Upload = &pages.UploadView{
		FileName:     out.DownloadName,
		ImageURI:     uri,
		DownloadURI:  uri,
		DownloadName: out.DownloadName,
		MIME:         out.MIME,
		Detections:   out.Detections,
	}
	s.render(c, http.StatusOK, pages.ModelImplementation, data)
}

func (s *Server) apiError(c *gin.Context, err error) {
	kind, status := errorKind(err)
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

// DetectResponse is the JSON body of POST /api/v1/detect.
type DetectResponse struct {
	DownloadName string         `json:"downloadName"`
	MIME         string         `json:"mime"`
	Detections   []iface.Result `json:"detections"`
	Image        string         `json:"image"`
}

func (s *Server) detect(c *gin.Context) {
	out, err := s.process(c)
	if err != nil {
		s.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, DetectResponse{
		DownloadName: out.DownloadName,
		MIME:         out.MIME,
		Detections:   out.Detections,
		Image:        base64.StdEncoding.EncodeToString(out.Download),
	})
}

func (s *Server) download(c *gin.Context) {
	out, err := s.process(c)
	if err != nil {
		s.apiError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.DownloadName))
	c.Data(http.StatusOK, out.MIME, out.Download)
}

func (s *Server) modelStatus(c *gin.Context) {
	if s.Provider == nil || !s.Provider.Loaded() {
		c.JSON(http.StatusOK, gin.H{"loaded": false, "modelPath": s.ModelPath})
		return
	}
	backend, err := s.Provider.Get(c.Request.Context())
	if err != nil {
		s.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loaded": true, "loads": s.Provider.Loads(), "config": backend.CheckConfig()})
}
