// Package matchrelay 提供了一個雙人即時配對與狀態轉發服務器。
//
// 客戶端透過持久的 WebSocket 連接接入，請求配對；配對成功後，
// 雙方的每幀遊戲狀態經服務器轉發給對手，直到一方斷線或宣告遊戲結束。
//
// # 配對佇列
//
// 嚴格 FIFO 的等待列表：
//   - 加入即排隊，佇列中累積兩人立即配對
//   - 一波集中加入按到達順序成對排空
//   - 斷線的會話無條件移出佇列，避免配對到已消失的連接
//
// # 房間與轉發
//
// 房間是恰好兩個會話的配對，加上各自最後上報的狀態：
//   - 配對成功時原子創建並註冊
//   - 狀態更新只轉發給對手，發送者永遠不收到回聲
//   - 任一方斷線或發送 GAME_OVER 時通知對手並銷毀整個房間
//   - 引用已銷毀房間的操作是良性空操作，不是錯誤
//
// # 併發模型
//
// 佇列與房間註冊表的所有變更由 Manager 的單一互斥鎖序列化，
// 等價於單線程事件循環：任何事件的處理都不會觀察到
// 半更新的佇列或房間。持鎖路徑上唯一的 I/O 是出站訊息入隊
// （緩衝 channel，發送即忘），慢客戶端不會拖慢配對與轉發。
//
// # 錯誤處理
//
// 這個系統裡沒有任何致命錯誤：
//   - 畸形訊息 → 丟棄，連接保持打開
//   - 陳舊的房間引用 → 良性空操作
//   - 服務器內部狀況從不以錯誤回覆客戶端，
//     只主動推送既定的通知訊息（對手斷線 / 對手結束遊戲）
//
// # 使用範例
//
// 啟動服務器：
//
//	manager := internal.NewManager(logger)
//	hub := internal.NewHub(manager, 256, logger)
//	handler := internal.NewHandler(manager, hub, logger)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", handler.Routes())
//	mux.HandleFunc("/ws", hub.ServeWS)
//	log.Fatal(http.ListenAndServe(":8080", mux))
//
// 客戶端訊息（JSON，type 欄位路由）：
//
//	→ {"type": "JOIN_MATCHMAKING", "playerName": "Ann"}
//	← {"type": "MATCHMAKING_STATUS", "status": "In queue...", "playerId": "..."}
//	← {"type": "GAME_START", "opponentId": "...", "opponentName": "Bo"}
//	→ {"type": "PLAYER_STATE_UPDATE", "roomId": "...", "state": {...}}
//	→ {"type": "GAME_OVER", "roomId": "..."}
//
// 所有狀態都是單進程內存駐留的，進程退出即丟失。
package matchrelay
