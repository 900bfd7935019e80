package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"camstream/internal/camera"
)

const (
	frameBuffer = 4
	eventBuffer = 64

	// snapshotTimeout は静止画1枚を待つ時間
	snapshotTimeout = 5 * time.Second
	wsWriteTimeout  = 5 * time.Second
)

// EventMessage はWebSocketで配信するメッセージ。
// 接続直後の1件目は Camera に現在のスナップショットを入れる。
type EventMessage struct {
	CameraID  string         `json:"camera_id"`
	Camera    *camera.Camera `json:"camera,omitempty"`
	Event     *camera.Event  `json:"event,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// handleStream はMJPEGストリームを配信する
func (s *Server) handleStream(c *gin.Context) {
	service, ok := s.service(c)
	if !ok {
		return
	}

	// ストリーミング中かつMJPGであること
	info := service.Info()
	if info.State != camera.StateStreaming {
		respondError(c, camera.ErrNotStreaming)
		return
	}
	if info.Config == nil || info.Config.Format() != camera.PixelFormatMJPG {
		respondError(c, &camera.Error{
			Kind: camera.KindUnsupportedFormat,
			Op:   "stream",
			Err:  fmt.Errorf("MJPEG配信にはMJPGフォーマットが必要です"),
		})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	subscriberID := "mjpeg-" + uuid.New().String()
	frames := service.SubscribeFrames(subscriberID, frameBuffer)
	defer service.UnsubscribeFrames(subscriberID)
	s.logger.Debug("MJPEGストリームを開始しました", "camera", service.ID(), "viewers", service.FrameSubscribers())

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)
	flusher.Flush()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return

		case frame, ok := <-frames:
			if !ok {
				// セッション終了、または購読が遅すぎて外された
				return
			}
			if frame.Format != camera.PixelFormatMJPG {
				continue
			}
			if err := writeMJPEGPart(c.Writer, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeMJPEGPart(w gin.ResponseWriter, frame camera.Frame) error {
	header := fmt.Sprintf("--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\nX-Sequence: %d\r\n\r\n",
		len(frame.Data), frame.Sequence)
	if _, err := w.WriteString(header); err != nil {
		return err
	}
	if _, err := w.Write(frame.Data); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

// handleSnapshot は次にキャプチャされたフレームを1枚返す
func (s *Server) handleSnapshot(c *gin.Context) {
	service, ok := s.service(c)
	if !ok {
		return
	}
	if service.Info().State != camera.StateStreaming {
		respondError(c, camera.ErrNotStreaming)
		return
	}

	subscriberID := "snapshot-" + uuid.New().String()
	frames := service.SubscribeFrames(subscriberID, 1)
	defer service.UnsubscribeFrames(subscriberID)

	timer := time.NewTimer(snapshotTimeout)
	defer timer.Stop()

	select {
	case frame, ok := <-frames:
		if !ok {
			respondError(c, camera.ErrActorStopped)
			return
		}
		contentType := "application/octet-stream"
		if frame.Format == camera.PixelFormatMJPG {
			contentType = "image/jpeg"
		}
		c.Header("X-Frame-Format", frame.Format.String())
		c.Header("X-Frame-Width", strconv.FormatUint(uint64(frame.Width), 10))
		c.Header("X-Frame-Height", strconv.FormatUint(uint64(frame.Height), 10))
		c.Header("X-Sequence", strconv.FormatUint(frame.Sequence, 10))
		c.Data(http.StatusOK, contentType, frame.Data)
	case <-timer.C:
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:     "timeout",
			Message:   "フレームを受信できませんでした",
			Timestamp: time.Now(),
		})
	case <-c.Request.Context().Done():
	}
}

// handleEvents はカメラのイベントをWebSocketで配信する。
// フレームのイベントは ?frames=true の場合のみ送る。
func (s *Server) handleEvents(c *gin.Context) {
	service, ok := s.service(c)
	if !ok {
		return
	}
	withFrames := c.Query("frames") == "true"

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocketへのアップグレードに失敗しました", "error", err)
		return
	}
	defer conn.Close()

	subscriberID := "ws-" + uuid.New().String()
	events := service.SubscribeEvents(subscriberID, eventBuffer)
	defer service.UnsubscribeEvents(subscriberID)

	// クライアントからの切断を検知する
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("イベント購読を開始しました", "camera", service.ID(), "subscriber", subscriberID)

	info := service.Info()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(EventMessage{CameraID: service.ID(), Camera: &info, Timestamp: time.Now()}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return

		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "camera stopped"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if ev.Type == camera.EventFrameCaptured && !withFrames {
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			msg := EventMessage{CameraID: service.ID(), Event: &ev, Timestamp: time.Now()}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
