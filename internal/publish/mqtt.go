// Package publish はカメラのイベントとフレームをMQTTブローカーへ転送する
package publish

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"camstream/internal/camera"
	"camstream/internal/config"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	// publishTimeout を過ぎても完了しない送信は失敗として記録する
	publishTimeout = 5 * time.Second
	disconnectWait = 250 // ミリ秒
)

// Options は MQTTPublisher の設定
type Options struct {
	TopicPrefix   string
	QoS           byte
	PublishFrames bool // フレームのペイロードも送る
	Logger        *slog.Logger
}

// MQTTPublisher は camera.EventSink をMQTTで実装する。
//
// トピック:
//
//	<prefix>/status                 "online" / "offline"（retained）
//	<prefix>/<camera-id>/events     フレーム以外のイベント（JSON）
//	<prefix>/<camera-id>/frame      フレームのペイロード
//	<prefix>/<camera-id>/frame/meta フレームのメタデータ（JSON）
type MQTTPublisher struct {
	client        mqtt.Client
	prefix        string
	qos           byte
	publishFrames bool
	logger        *slog.Logger
}

var _ camera.EventSink = (*MQTTPublisher)(nil)

// EventMessage は events トピックに送るメッセージ
type EventMessage struct {
	CameraID  string       `json:"camera_id"`
	Event     camera.Event `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
}

// FrameMeta は frame/meta トピックに送るメッセージ
type FrameMeta struct {
	CameraID  string             `json:"camera_id"`
	Format    camera.PixelFormat `json:"format"`
	Width     uint32             `json:"width"`
	Height    uint32             `json:"height"`
	Sequence  uint64             `json:"sequence"`
	Size      int                `json:"size"`
	Timestamp time.Time          `json:"timestamp"` // キャプチャ時刻
}

// NewMQTTPublisher は接続済みのクライアントからパブリッシャーを作成する
func NewMQTTPublisher(client mqtt.Client, opts Options) *MQTTPublisher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{
		client:        client,
		prefix:        opts.TopicPrefix,
		qos:           opts.QoS,
		publishFrames: opts.PublishFrames,
		logger:        logger.With("component", "mqtt"),
	}
}

// Connect は設定に従ってブローカーへ接続し、パブリッシャーを返す
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	statusTopic := cfg.TopicPrefix + "/status"

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetWill(statusTopic, statusOffline, cfg.QoS, true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("MQTTブローカーに接続しました", "broker", cfg.Broker)
		c.Publish(statusTopic, cfg.QoS, true, statusOnline)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTTブローカーとの接続が切れました", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("MQTTブローカー %s への接続がタイムアウトしました", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "MQTTブローカー %s に接続できません", cfg.Broker)
	}

	return NewMQTTPublisher(client, Options{
		TopicPrefix:   cfg.TopicPrefix,
		QoS:           cfg.QoS,
		PublishFrames: cfg.PublishFrames,
		Logger:        logger,
	}), nil
}

// Publish はイベントを転送する。カメラのイベント処理を止めないよう送信完了は待たない。
func (p *MQTTPublisher) Publish(cameraID string, ev camera.Event) {
	if ev.Type == camera.EventFrameCaptured && ev.Frame != nil {
		p.publishFrame(cameraID, *ev.Frame)
		return
	}

	payload, err := json.Marshal(EventMessage{CameraID: cameraID, Event: ev, Timestamp: time.Now()})
	if err != nil {
		p.logger.Error("イベントのエンコードに失敗しました", "camera", cameraID, "error", err)
		return
	}
	topic := p.topic(cameraID, "events")
	p.watch(topic, p.client.Publish(topic, p.qos, false, payload))
}

func (p *MQTTPublisher) publishFrame(cameraID string, frame camera.Frame) {
	meta, err := json.Marshal(FrameMeta{
		CameraID:  cameraID,
		Format:    frame.Format,
		Width:     frame.Width,
		Height:    frame.Height,
		Sequence:  frame.Sequence,
		Size:      len(frame.Data),
		Timestamp: frame.Timestamp,
	})
	if err != nil {
		p.logger.Error("フレーム情報のエンコードに失敗しました", "camera", cameraID, "error", err)
		return
	}

	// フレームは取りこぼしても次が来るので結果を追わない
	p.client.Publish(p.topic(cameraID, "frame/meta"), p.qos, false, meta)
	if p.publishFrames {
		p.client.Publish(p.topic(cameraID, "frame"), p.qos, false, frame.Data)
	}
}

// watch は送信結果を別ゴルーチンで確認してログに残す
func (p *MQTTPublisher) watch(topic string, token mqtt.Token) {
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("MQTT送信がタイムアウトしました", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("MQTT送信に失敗しました", "topic", topic, "error", err)
		}
	}()
}

// Close はオフラインを通知して切断する
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		token := p.client.Publish(p.prefix+"/status", p.qos, true, statusOffline)
		token.WaitTimeout(time.Second)
	}
	p.client.Disconnect(disconnectWait)
}

func (p *MQTTPublisher) topic(cameraID, suffix string) string {
	return p.prefix + "/" + cameraID + "/" + suffix
}
