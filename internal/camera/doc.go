// Package camera カメラデバイスの制御をアクターとして提供する
//
// # 責務
// - カメラ1台につき1つのゴルーチン（アクター）がデバイスを専有する
// - コマンドを受け取り、能力検出・設定・ストリーミングを状態機械として実行する
// - すべてのコマンドに対してイベントを1つ返し、ストリーミング中はフレームを発行する
// - 複数カメラの動的な追加・削除とデバイスの検出
//
// # 構成
// - Spawn / Handle: アクターの起動、コマンド送信、シャットダウン
// - Service: 1台分のクライアントセッション。応答待ちとフレーム配信
// - DefaultCameraManager: 複数カメラの統合管理（1デバイスにつきアクター1つ）
// - Discovery: /dev/video* の列挙と sysfs からの実名取得
// - Driver: V4L2 (blackjack/webcam) とテスト用の MockDriver
//
// # 状態遷移
//
//	Idle --SetConfiguration--> Configured --StartStreaming--> Streaming
//	Streaming --StopStreaming--> Configured
//	任意の状態 --SetInterface--> Idle
//
// # 前提要件
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
//   - V4L2 ドライバーは Linux のみ。他のOSではモックドライバーを使う
package camera
