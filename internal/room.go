package internal

import (
	"encoding/json"
)

// 系統設計問題：
//   如何管理兩人對戰房間的生命週期與狀態轉發？
//
// 核心挑戰：
//   1. 生命週期：房間在配對成功時原子創建，任一方離開即銷毀
//   2. 狀態表：只保留每個玩家最後一次上報的狀態（最新值覆蓋，無歷史）
//   3. 對手解析：任一玩家都必須能解析出「X 的對手」
//
// 設計方案：
//   ✅ 固定兩元素陣列 - 房間恆為兩人，對手查找就是直接的兩元素比對
//   ✅ 不透明狀態 - 服務器只轉發，不解釋 state 內容
//   ✅ 無內部鎖 - 所有讀寫都在 Manager 的單一互斥鎖之下（見 manager.go）

// Room 兩人遊戲房間
//
// 不變量：
//   - 房間恆有兩個不同的玩家，創建後順序不再有意義
//   - 任一玩家離開（斷線或結束遊戲）時整個房間從註冊表刪除，
//     房間永遠不會以少於兩個活躍玩家的狀態存在
//   - states 的鍵 ⊆ 兩個玩家的 ID
//
// 併發：Room 自身沒有鎖。房間只能透過 Manager 取得，
// 而 Manager 對佇列與註冊表的所有變更使用同一把互斥鎖序列化。
type Room struct {
	ID      string
	players [2]*Session
	states  map[string]json.RawMessage
}

// NewRoom 創建房間，初始化空的玩家狀態表
func NewRoom(id string, a, b *Session) *Room {
	return &Room{
		ID:      id,
		players: [2]*Session{a, b},
		states:  make(map[string]json.RawMessage),
	}
}

// Opponent 解析玩家的對手
//
// 刻意保留為直接的兩元素比對（而非泛化的查找結構）：
// 房間恆為兩人，線性比對就是最簡單的實現。
// playerID 不在房間中時返回 nil。
func (r *Room) Opponent(playerID string) *Session {
	if r.players[0].ID == playerID {
		return r.players[1]
	}
	if r.players[1].ID == playerID {
		return r.players[0]
	}
	return nil
}

// Contains 檢查玩家是否在房間中
func (r *Room) Contains(playerID string) bool {
	return r.players[0].ID == playerID || r.players[1].ID == playerID
}

// SetState 記錄玩家最後上報的狀態（最新值覆蓋）
//
// 非房間成員的上報被忽略：按照不變量這不應該發生，
// 但即使發生也只是良性空操作，不是錯誤。
func (r *Room) SetState(playerID string, state json.RawMessage) {
	if !r.Contains(playerID) {
		return
	}
	r.states[playerID] = state
}

// State 獲取玩家最後上報的狀態
func (r *Room) State(playerID string) (json.RawMessage, bool) {
	state, ok := r.states[playerID]
	return state, ok
}

// Players 返回房間的兩個玩家
func (r *Room) Players() [2]*Session {
	return r.players
}
