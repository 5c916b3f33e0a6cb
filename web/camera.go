package web

import (
	"AnpdServer/camera"
	iface "AnpdServer/interface"
	"bytes"
	"net/http"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is a text frame sent to the camera tab.
type wsMessage struct {
	Type       string         `json:"type"`
	State      string         `json:"state,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Message    string         `json:"message,omitempty"`
	Seq        int            `json:"seq,omitempty"`
	Detections []iface.Result `json:"detections,omitempty"`
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) write(mt int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(mt, data)
}

func (w *wsConn) writeJSON(m wsMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(m)
}

// track registers a live camera socket. It fails once CloseCameras ran.
func (s *Server) track(session *camera.Session, ws *wsConn) bool {
	s.camMu.Lock()
	defer s.camMu.Unlock()
	if s.camClosed {
		return false
	}
	if s.cams == nil {
		s.cams = make(map[*camera.Session]*wsConn)
	}
	s.cams[session] = ws
	return true
}

func (s *Server) untrack(session *camera.Session) {
	s.camMu.Lock()
	defer s.camMu.Unlock()
	delete(s.cams, session)
}

// CloseCameras stops every running camera stream, waits for the device to be
// released and closes the sockets. Later camera sockets are refused.
// http.Server.Shutdown does not cover hijacked connections, so this has to
// run before the model is closed.
func (s *Server) CloseCameras() {
	s.camMu.Lock()
	s.camClosed = true
	live := make(map[*camera.Session]*wsConn, len(s.cams))
	for session, ws := range s.cams {
		live[session] = ws
	}
	s.camMu.Unlock()

	for session, ws := range live {
		session.Stop()
		_ = ws.writeJSON(wsMessage{Type: "status", State: "closed", Message: "Server is shutting down"})
		_ = ws.conn.Close()
	}
	if len(live) > 0 {
		s.log.Info("camera sockets closed", zap.Int("count", len(live)))
	}
}

// cameraSocket drives one live camera toggle. The client sends "start" or
// "stop"; frames go back as binary JPEG followed by a detections message.
func (s *Server) cameraSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(4096)
	ws := &wsConn{conn: conn}

	quality := s.JPEGQuality
	if quality <= 0 {
		quality = 80
	}
	emit := func(f camera.Frame) error {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, f.Image, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return err
		}
		if err := ws.write(websocket.BinaryMessage, buf.Bytes()); err != nil {
			return err
		}
		return ws.writeJSON(wsMessage{Type: "detections", Seq: f.Seq, Detections: f.Detections})
	}
	onExit := func(err error) {
		if err != nil {
			kind, _ := errorKind(err)
			_ = ws.writeJSON(wsMessage{Type: "error", Kind: kind, Message: err.Error()})
			return
		}
		_ = ws.writeJSON(wsMessage{Type: "status", State: "stopped", Message: "Camera stopped"})
	}

	session := camera.NewSession(s.Device, s.CameraOpener, s.CameraAnnotator, s.CameraOptions, emit, onExit)
	if !s.track(session, ws) {
		_ = ws.writeJSON(wsMessage{Type: "error", Kind: "camera", Message: "server is shutting down"})
		return
	}
	defer s.untrack(session)
	defer session.Stop()
	log := s.log.With(zap.String("session", session.ID))
	log.Debug("camera socket connected")

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("camera socket closed", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			_ = ws.writeJSON(wsMessage{Type: "error", Kind: "camera", Message: "unsupported message type"})
			continue
		}
		switch strings.ToLower(strings.TrimSpace(string(msg))) {
		case "start":
			if session.Running() {
				continue
			}
			if s.Device.InUse() {
				_ = ws.writeJSON(wsMessage{Type: "error", Kind: "camera", Message: camera.ErrBusy.Error()})
				continue
			}
			_ = ws.writeJSON(wsMessage{Type: "status", State: "started", Message: "Camera started"})
			if err := session.Start(c.Request.Context()); err != nil {
				kind, _ := errorKind(err)
				_ = ws.writeJSON(wsMessage{Type: "error", Kind: kind, Message: err.Error()})
			}
		case "stop":
			session.Stop()
		default:
			_ = ws.writeJSON(wsMessage{Type: "error", Kind: "camera", Message: "unknown command " + string(msg)})
		}
	}
}
