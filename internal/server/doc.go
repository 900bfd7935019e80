// Package server は、カメラ制御のHTTP APIとストリーミング配信を提供します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラの追加・削除、能力検出、設定、ストリーミング開始・停止のREST API
//   - MJPEGストリームと静止画の配信
//   - WebSocketによるカメライベントの配信
//
// 仕様:
//   - ルーティングは gin、WebSocketは gorilla/websocket を使用
//   - カメラのエラー種別をHTTPステータスに対応付ける
//     (InterfaceNotFound は 404、状態の不整合は 409、非対応の設定は 422、ドライバーエラーは 502)
//   - 1リクエストあたりのカメラ操作は requestTimeout で打ち切る
package server
