package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"camstream/internal/camera"
)

// DeviceInfo はシステム上のデバイス1件
type DeviceInfo struct {
	Device   string `json:"device"`
	Name     string `json:"name"`
	CameraID string `json:"camera_id,omitempty"` // 管理中なら割り当て済みのカメラID
}

// AddCameraRequest はカメラ追加のリクエスト
type AddCameraRequest struct {
	Device string `json:"device" binding:"required"`
}

// ConfigRequest は設定変更のリクエスト
type ConfigRequest struct {
	Width  uint32 `json:"width" binding:"required"`
	Height uint32 `json:"height" binding:"required"`
	FPS    uint32 `json:"fps" binding:"required"`
	Format string `json:"format" binding:"required"` // 例: "MJPG"
}

// InterfaceRequest はデバイス差し替えのリクエスト
type InterfaceRequest struct {
	Device string `json:"device" binding:"required"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	cameras := s.manager.GetCameras()
	streaming := 0
	for _, cam := range cameras {
		if cam.State == camera.StateStreaming {
			streaming++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"server": gin.H{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		},
		"driver":    s.config.Camera.Driver,
		"cameras":   len(cameras),
		"streaming": streaming,
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"timestamp": time.Now(),
	})
}

// handleListDevices はシステム上のカメラデバイス一覧を返す
func (s *Server) handleListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": s.deviceInfos(s.discovery.ScanDevices(c.Request.Context()))})
}

// handleScanDevices はデバイスを再検出し、管理対象を更新する
func (s *Server) handleScanDevices(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	devices, err := s.manager.DiscoverCameras(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"devices": s.deviceInfos(devices),
		"cameras": s.manager.GetCameras(),
	})
}

func (s *Server) deviceInfos(devices []string) []DeviceInfo {
	owners := make(map[string]string)
	for _, cam := range s.manager.GetCameras() {
		owners[cam.Device] = cam.ID
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		infos = append(infos, DeviceInfo{
			Device:   device,
			Name:     s.discovery.DeviceName(device),
			CameraID: owners[device],
		})
	}
	return infos
}

// handleListCameras はカメラ一覧を返す
func (s *Server) handleListCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cameras": s.manager.GetCameras()})
}

// handleAddCamera はデバイスのアクターを起動してカメラを追加する
func (s *Server) handleAddCamera(c *gin.Context) {
	var req AddCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	cam, err := s.manager.AddCamera(ctx, req.Device)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cam)
}

// handleGetCamera はカメラのスナップショットを返す
func (s *Server) handleGetCamera(c *gin.Context) {
	cam, found := s.manager.GetCamera(c.Param("id"))
	if !found {
		respondError(c, camera.ErrCameraNotFound)
		return
	}
	c.JSON(http.StatusOK, cam)
}

// handleRemoveCamera はカメラのアクターを終了して削除する
func (s *Server) handleRemoveCamera(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	if err := s.manager.RemoveCamera(ctx, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDiscover はカメラの能力を検出する
func (s *Server) handleDiscover(c *gin.Context) {
	service, ok := s.service(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	caps, err := service.Discover(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, caps)
}

// handleCapabilities は検出済みの能力を返す
func (s *Server) handleCapabilities(c *gin.Context) {
	service, ok := s.service(c)
	if !ok {
		return
	}

	caps := service.Info().Capabilities
	if caps == nil {
		respondError(c, camera.ErrCapabilitiesNotDiscovered)
		return
	}
	c.JSON(http.StatusOK, caps)
}

// handleGetConfig は現在の設定をアクターから取得する
func (s *Server) handleGetConfig(c *gin.Context) {
	service, ok := s.service(c)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	cfg, err := service.Configuration(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// handleSetConfig は設定を検証して適用する
func (s *Server) handleSetConfig(c *gin.Context) {
	service, ok := s.service(c)
	if !ok {
		return
	}

	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	format, err := camera.ParsePixelFormat(req.Format)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	cfg, err := service.Configure(ctx, camera.SetConfiguration{
		Width:  req.Width,
		Height: req.Height,
		FPS:    req.FPS,
		Format: format,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// handleStart はストリーミングを開始する
func (s *Server) handleStart(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	id := c.Param("id")
	if err := s.manager.StartCamera(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	s.respondCamera(c, id)
}

// handleStop はストリーミングを停止する
func (s *Server) handleStop(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	id := c.Param("id")
	if err := s.manager.StopCamera(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	s.respondCamera(c, id)
}

// handleSetInterface はカメラのデバイスを差し替える
func (s *Server) handleSetInterface(c *gin.Context) {
	var req InterfaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	id := c.Param("id")
	if err := s.manager.SetInterface(ctx, id, req.Device); err != nil {
		respondError(c, err)
		return
	}
	s.respondCamera(c, id)
}

// ヘルパー関数

// service はパスのIDに対応するセッションを返す。無ければ 404 を返して false。
func (s *Server) service(c *gin.Context) (*camera.Service, bool) {
	service, found := s.manager.GetService(c.Param("id"))
	if !found {
		respondError(c, camera.ErrCameraNotFound)
		return nil, false
	}
	return service, true
}

func (s *Server) respondCamera(c *gin.Context, id string) {
	cam, found := s.manager.GetCamera(id)
	if !found {
		respondError(c, camera.ErrCameraNotFound)
		return
	}
	c.JSON(http.StatusOK, cam)
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}
