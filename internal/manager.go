package internal

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// 系統設計問題：
//   如何協調配對佇列與房間註冊表這兩張共享可變表？
//
// 核心挑戰：
//   1. 原子性：每個入站事件的處理不能觀察到半更新的佇列或房間
//   2. 配對順序：嚴格 FIFO，最早加入的兩人先配對
//   3. 失敗語義：斷線是唯一的清理觸發，必須冪等
//   4. 背壓：出站發送不能讓持鎖路徑阻塞
//
// 設計方案：
//   ✅ 單一互斥鎖 - 佇列與註冊表的所有變更用同一把鎖序列化，
//      等價於單線程事件循環的參照語義
//   ✅ 飢渴配對 - 入隊後立即循環配對，一波加入按到達順序成對排空
//   ✅ 非阻塞發送 - 持鎖期間只做出站入隊（緩衝 channel），不等待投遞
//   ✅ 無定時器 - 房間只在斷線或 GAME_OVER 時銷毀，沒有其他變更路徑，
//      因此不需要清掃循環

// Manager 配對佇列與房間註冊表的擁有者
//
// 所有共享可變狀態都集中在這裡，不存在包級別的全局表。
// 狀態被唯一一把互斥鎖守護：
//   - queue：等待配對的會話，插入順序即加入順序
//   - rooms：roomID → Room，只在配對時新增、只在房間銷毀時刪除
//
// 鎖的粒度刻意粗：規模上限是單進程內存狀態，
// 正確性（事件級原子性）比吞吐重要。
type Manager struct {
	mu     sync.Mutex
	queue  []*Session
	rooms  map[string]*Room // roomID -> Room
	logger *slog.Logger
}

// NewManager 創建管理器
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// Enqueue 將會話加入配對佇列尾部，並立即嘗試配對
//
// name 非空時更新會話的顯示名稱；在鎖內更新，
// 保證配對時讀到的名稱不會與改名競爭。
//
// 同一會話已在佇列或已在房間中時是空操作：
// 契約上呼叫方不應重複入隊，但這裡的防護保證
// 「會話在佇列中最多出現一次」的不變量在任何輸入下都成立。
func (m *Manager) Enqueue(s *Session, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name != "" {
		s.Name = name
	}

	for _, queued := range m.queue {
		if queued.ID == s.ID {
			m.logger.Debug("會話已在佇列中，忽略重複入隊", "session_id", s.ID)
			return
		}
	}
	if roomID := m.findRoomLocked(s.ID); roomID != "" {
		m.logger.Debug("會話已在房間中，忽略入隊",
			"session_id", s.ID,
			"room_id", roomID)
		return
	}

	m.queue = append(m.queue, s)

	m.logger.Info("玩家加入配對佇列",
		"session_id", s.ID,
		"player_name", s.Name,
		"queue_len", len(m.queue))

	m.pairLocked()
}

// pairLocked 只要佇列中還有兩人就從頭部取出配對
//
// 呼叫方必須持有 m.mu。
func (m *Manager) pairLocked() {
	for len(m.queue) >= 2 {
		a, b := m.queue[0], m.queue[1]
		m.queue = m.queue[2:]

		room := NewRoom(uuid.NewString(), a, b)
		m.rooms[room.ID] = room

		// 通知雙方配對成功（非阻塞入隊，不等待投遞）
		m.send(a, newGameStart(b))
		m.send(b, newGameStart(a))

		m.logger.Info("配對成功，遊戲開始",
			"room_id", room.ID,
			"player_a", a.Name,
			"player_b", b.Name)
	}
}

// Remove 按 ID 將會話移出佇列，不在佇列中時是空操作
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeFromQueueLocked(sessionID)
}

// removeFromQueueLocked 呼叫方必須持有 m.mu
func (m *Manager) removeFromQueueLocked(sessionID string) {
	for i, queued := range m.queue {
		if queued.ID == sessionID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			m.logger.Info("玩家離開配對佇列", "session_id", sessionID)
			return
		}
	}
}

// RelayState 記錄發送者的最新狀態並轉發給對手
//
// 房間不存在時靜默忽略：發送者的 GAME_OVER 或先前的斷線
// 可能已經關閉了房間，這是良性的陳舊引用，不是錯誤。
// 發送者永遠不會收到自己狀態的回聲。
func (m *Manager) RelayState(roomID, senderID string, state json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return
	}

	room.SetState(senderID, state)

	// 對手查找失敗（發送者不在房間中）同樣是良性空操作
	opponent := room.Opponent(senderID)
	if opponent == nil {
		return
	}

	m.send(opponent, newStateUpdate(senderID, state))
}

// EndGame 任一玩家宣告遊戲結束：通知對手並銷毀房間
//
// 冪等：房間已被刪除後的第二次 GAME_OVER 或斷線都是空操作。
func (m *Manager) EndGame(roomID, requesterID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, exists := m.rooms[roomID]
	if !exists {
		return
	}

	if opponent := room.Opponent(requesterID); opponent != nil {
		m.send(opponent, Notice{Type: TypeOpponentCrashed})
	}

	delete(m.rooms, roomID)

	m.logger.Info("遊戲結束，房間已銷毀",
		"room_id", roomID,
		"requester_id", requesterID)
}

// HandleDisconnect 連接關閉時的統一清理入口
//
// 兩件事，順序無關但必須都做：
//  1. 無條件將會話移出佇列（不在佇列中就是廉價空操作），
//     防止配對到一個連接已經消失的會話
//  2. 掃描註冊表找包含該會話的房間（由兩人不變量與
//     單連接單會話規則，至多存在一個），通知對手並銷毀
//
// 對同一會話的第二次斷線信號是空操作。
func (m *Manager) HandleDisconnect(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeFromQueueLocked(sessionID)

	roomID := m.findRoomLocked(sessionID)
	if roomID == "" {
		return
	}

	room := m.rooms[roomID]
	if opponent := room.Opponent(sessionID); opponent != nil {
		m.send(opponent, Notice{Type: TypeOpponentDisconnected})
	}

	delete(m.rooms, roomID)

	m.logger.Info("玩家斷線，房間已銷毀",
		"room_id", roomID,
		"session_id", sessionID)
}

// findRoomLocked 線性掃描找包含該會話的房間，呼叫方必須持有 m.mu
//
// 房間數量與在線玩家數同階，且每次斷線最多觸發一次掃描，
// 在單進程規模下不值得維護反向索引。
func (m *Manager) findRoomLocked(sessionID string) string {
	for roomID, room := range m.rooms {
		if room.Contains(sessionID) {
			return roomID
		}
	}
	return ""
}

// GetRoom 獲取房間
func (m *Manager) GetRoom(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, exists := m.rooms[roomID]
	return room, exists
}

// RoomOf 獲取會話所在的房間 ID
func (m *Manager) RoomOf(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID := m.findRoomLocked(sessionID)
	return roomID, roomID != ""
}

// QueueLen 獲取佇列長度
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Stats 獲取統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]any{
		"queued_players":  len(m.queue),
		"active_rooms":    len(m.rooms),
		"players_in_game": len(m.rooms) * 2,
	}
}

// send 序列化訊息並非阻塞地寫入會話的出站通道
//
// 發送即忘：緩衝滿時丟棄並記錄，投遞失敗不回流到轉發邏輯。
// 這保證持鎖路徑上唯一的 I/O 動作就是出站入隊本身。
func (m *Manager) send(s *Session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("序列化出站訊息失敗", "error", err, "session_id", s.ID)
		return
	}

	select {
	case s.Send <- data:
	default:
		m.logger.Warn("出站緩衝區滿，訊息丟棄",
			"session_id", s.ID,
			"player_name", s.Name)
	}
}
