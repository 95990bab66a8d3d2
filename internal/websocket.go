package internal

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何把 WebSocket 傳輸層與配對/轉發邏輯乾淨地分離？
//
// 核心挑戰：
//   1. 連接管理：每個連接一個會話，連接關閉即會話銷毀
//   2. 事件分發：入站訊息按種類路由到入隊、轉發或結束處理
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 讀寫分離：每連接兩條 goroutine，業務邏輯永不直接寫 socket
//
// 設計方案：
//   ✅ Hub 模式 - 集中管理所有活躍連接
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送（不阻塞）
//   ✅ 畸形容錯 - 解析失敗丟棄訊息但保持連接

// Hub WebSocket 連接中心
//
// 與配對邏輯的分工：
//   - Hub 只負責連接的建立、註冊、註銷與讀寫泵
//   - 所有佇列/房間狀態的變更都委派給 Manager
//   - 連接關閉事件統一轉換為 Manager.HandleDisconnect
type Hub struct {
	manager    *Manager
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	sendBuffer int

	connections map[string]*Connection // sessionID -> Connection
	mu          sync.RWMutex
}

// Connection 一條 WebSocket 連接及其分發狀態
//
// 每連接攜帶的狀態：
//   - session：連接建立時固定分配的會話（ID 不變，Name 可在入隊時更新）
//   - roomID：最後已知的房間 ID，僅作提示；
//     斷線清理的權威查找按會話 ID 掃描註冊表，不信任這個緩存值
type Connection struct {
	session   *Session
	roomID    string
	Conn      *websocket.Conn
	Hub       *Hub
	closeOnce sync.Once // 確保 Send channel 只關閉一次
}

// NewHub 創建 WebSocket Hub
func NewHub(manager *Manager, sendBuffer int, logger *slog.Logger) *Hub {
	return &Hub{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sendBuffer:  sendBuffer,
		connections: make(map[string]*Connection),
	}
}

// ServeWS 處理 WebSocket 連接
//
// 會話 ID 在這裡立即分配；名稱先用服務器生成的佔位名，
// 等客戶端發送 JOIN_MATCHMAKING 時才更新。
func (hub *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	session := NewSession(placeholderName(), hub.sendBuffer)

	connection := &Connection{
		session: session,
		Conn:    conn,
		Hub:     hub,
	}

	hub.register(connection)

	go connection.writePump()
	go connection.readPump()

	hub.logger.Info("WebSocket 連接建立",
		"session_id", session.ID,
		"remote_addr", conn.RemoteAddr().String())
}

// register 註冊連接
func (hub *Hub) register(conn *Connection) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.connections[conn.session.ID] = conn
}

// unregister 註銷連接並觸發斷線清理
//
// 這是「連接關閉」事件進入核心邏輯的唯一入口，
// 傳輸層保證對每條連接至多觸發一次。
func (hub *Hub) unregister(conn *Connection) {
	hub.mu.Lock()
	if actual, exists := hub.connections[conn.session.ID]; exists && actual == conn {
		delete(hub.connections, conn.session.ID)
	}
	hub.mu.Unlock()

	// 先讓 Manager 忘掉這個會話，再關閉出站通道：
	// HandleDisconnect 返回後（它與所有發送路徑共用同一把鎖），
	// 不再有任何路徑會往這條通道寫入，關閉才是安全的。
	hub.manager.HandleDisconnect(conn.session.ID)

	conn.closeOnce.Do(func() {
		close(conn.session.Send)
	})

	hub.logger.Info("WebSocket 連接關閉", "session_id", conn.session.ID)
}

// Count 獲取活躍連接數
func (hub *Hub) Count() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.connections)
}

// Stop 關閉所有連接
func (hub *Hub) Stop() {
	hub.mu.Lock()
	conns := make([]*Connection, 0, len(hub.connections))
	for _, conn := range hub.connections {
		conns = append(conns, conn)
	}
	hub.mu.Unlock()

	for _, conn := range conns {
		conn.Conn.Close()
	}

	hub.logger.Info("WebSocket Hub 已停止")
}

// readPump 讀取客戶端訊息
//
// 心跳機制（讀取端）：60 秒內沒有收到任何訊息（包括 Pong）就關閉連接，
// 配合 writePump 的 54 秒 Ping（留 6 秒余量）。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	if err := c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket 讀取錯誤",
					"error", err,
					"session_id", c.session.ID)
			}
			break
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 寫入訊息到客戶端
//
// 心跳機制（發送端）：54 秒 Ping 間隔，避開常見的 60 秒代理超時。
// 出站訊息從會話的 Send channel 消費，業務邏輯只做非阻塞入隊。
func (c *Connection) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.session.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// Hub 關閉了通道，優雅關閉連接
				deadline := time.Now().Add(time.Second)
				if err := c.Conn.SetWriteDeadline(deadline); err == nil {
					_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的訊息
			n := len(c.session.Send)
			for i := 0; i < n; i++ {
				if err := c.Conn.WriteMessage(websocket.TextMessage, <-c.session.Send); err != nil {
					c.Hub.logger.Error("發送訊息失敗", "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 按訊息種類分發
//
// 錯誤處理原則：
//   - 解析失敗或缺少必填欄位 → 丟棄整個訊息，連接保持打開
//   - 未知種類 → 忽略，不回覆錯誤
//   - 任何路徑都不會讓進程崩潰或讓共享狀態不一致
func (c *Connection) handleMessage(message []byte) {
	msg, err := DecodeClientMessage(message)
	if err != nil {
		c.Hub.logger.Debug("丟棄畸形訊息",
			"error", err,
			"session_id", c.session.ID)
		return
	}

	switch msg.Type {
	case TypeJoinMatchmaking:
		// 先確認排隊，再入隊：兩者走同一條出站通道，順序有保證
		c.send(newMatchmakingStatus(c.session.ID))
		c.Hub.manager.Enqueue(c.session, msg.PlayerName)

	case TypePlayerStateUpdate:
		c.roomID = msg.RoomID
		c.Hub.manager.RelayState(msg.RoomID, c.session.ID, msg.State)

	case TypeGameOver:
		c.roomID = msg.RoomID
		c.Hub.manager.EndGame(msg.RoomID, c.session.ID)

	default:
		c.Hub.logger.Debug("收到未知訊息種類",
			"type", msg.Type,
			"session_id", c.session.ID)
	}
}

// send 序列化並非阻塞地寫入出站通道
func (c *Connection) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.Hub.logger.Error("序列化出站訊息失敗", "error", err)
		return
	}
	select {
	case c.session.Send <- data:
	default:
		c.Hub.logger.Warn("出站緩衝區滿，訊息丟棄", "session_id", c.session.ID)
	}
}

// placeholderName 生成佔位玩家名稱（客戶端入隊前的預設顯示名）
func placeholderName() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		// 隨機讀取失敗時退回時間戳
		return fmt.Sprintf("Player %d", time.Now().UnixNano()%1000)
	}
	return fmt.Sprintf("Player %d", binary.LittleEndian.Uint16(b)%1000)
}
