package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"camstream/internal/camera"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// statusFor はエラーをHTTPステータスとエラーコードに変換する
func statusFor(err error) (int, string) {
	var camErr *camera.Error
	switch {
	case errors.Is(err, camera.ErrCameraNotFound):
		return http.StatusNotFound, "camera_not_found"
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return http.StatusNotFound, "device_unavailable"
	case errors.Is(err, camera.ErrDeviceInUse):
		return http.StatusConflict, "device_in_use"
	case errors.Is(err, camera.ErrActorStopped):
		return http.StatusGone, "camera_stopped"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &camErr):
		return statusForKind(camErr.Kind), camErr.Kind.String()
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func statusForKind(kind camera.ErrorKind) int {
	switch kind {
	case camera.KindInterfaceNotFound:
		return http.StatusNotFound
	case camera.KindCapabilitiesNotDiscovered, camera.KindNotConfigured,
		camera.KindAlreadyStreaming, camera.KindNotStreaming:
		return http.StatusConflict
	case camera.KindUnsupportedFormat, camera.KindUnsupportedResolution:
		return http.StatusUnprocessableEntity
	case camera.KindDriver:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError はエラーをJSONで返す
func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// respondBadRequest はリクエストの形式エラーを返す
func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     "bad_request",
		Message:   message,
		Timestamp: time.Now(),
	})
}
