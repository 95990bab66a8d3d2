package internal

import (
	"encoding/json"
	"fmt"
)

// 系統設計問題：
//   如何在不丟失類型安全的前提下，處理動態的 JSON 訊息？
//
// 核心挑戰：
//   1. 訊息路由：每個入站訊息以 type 欄位區分種類
//   2. 欄位驗證：不同種類的訊息有不同的必填欄位
//   3. 容錯性：畸形訊息不能讓連接或進程崩潰
//
// 設計方案：
//   ✅ 標籤聯合 - 以 type 欄位枚舉所有訊息種類
//   ✅ 解碼即驗證 - 缺少必填欄位視同解碼失敗
//   ✅ 不透明狀態 - state 欄位保留 json.RawMessage，服務器不解釋內容

// 客戶端 → 服務器 訊息種類
const (
	TypeJoinMatchmaking   = "JOIN_MATCHMAKING"
	TypePlayerStateUpdate = "PLAYER_STATE_UPDATE"
	TypeGameOver          = "GAME_OVER"
)

// 服務器 → 客戶端 訊息種類
const (
	TypeMatchmakingStatus    = "MATCHMAKING_STATUS"
	TypeGameStart            = "GAME_START"
	TypeOpponentDisconnected = "OPPONENT_DISCONNECTED"
	TypeOpponentCrashed      = "OPPONENT_CRASHED"
)

// ClientMessage 客戶端入站訊息的信封
//
// 所有入站訊息共用一個扁平的 JSON 結構，以 Type 區分種類。
// 各種類使用的欄位：
//   - JOIN_MATCHMAKING:    PlayerName（可為空，保留服務器生成的預設名稱）
//   - PLAYER_STATE_UPDATE: RoomID、State
//   - GAME_OVER:           RoomID
type ClientMessage struct {
	Type       string          `json:"type"`
	PlayerName string          `json:"playerName,omitempty"`
	RoomID     string          `json:"roomId,omitempty"`
	State      json.RawMessage `json:"state,omitempty"`
}

// DecodeClientMessage 解碼並驗證入站訊息
//
// 錯誤處理原則（畸形輸入不是致命錯誤）：
//   - JSON 解析失敗 → 返回錯誤，呼叫方丟棄整個訊息
//   - 缺少該種類的必填欄位 → 同上
//   - 未知的訊息種類 → 不是錯誤，由呼叫方忽略
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析訊息失敗: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("訊息缺少 type 欄位")
	}

	// 按種類驗證必填欄位
	switch msg.Type {
	case TypePlayerStateUpdate:
		if msg.RoomID == "" {
			return nil, fmt.Errorf("%s 缺少 roomId 欄位", msg.Type)
		}
		if len(msg.State) == 0 {
			return nil, fmt.Errorf("%s 缺少 state 欄位", msg.Type)
		}
	case TypeGameOver:
		if msg.RoomID == "" {
			return nil, fmt.Errorf("%s 缺少 roomId 欄位", msg.Type)
		}
	}

	return &msg, nil
}

// MatchmakingStatus 排隊確認訊息
type MatchmakingStatus struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	PlayerID string `json:"playerId"`
}

// GameStart 配對成功訊息，發給配對的雙方
type GameStart struct {
	Type         string `json:"type"`
	OpponentID   string `json:"opponentId"`
	OpponentName string `json:"opponentName"`
}

// StateUpdate 狀態轉發訊息，只發給發送者的對手
type StateUpdate struct {
	Type     string          `json:"type"`
	PlayerID string          `json:"playerId"`
	State    json.RawMessage `json:"state"`
}

// Notice 無欄位的通知訊息（對手斷線 / 對手結束遊戲）
type Notice struct {
	Type string `json:"type"`
}

func newMatchmakingStatus(playerID string) MatchmakingStatus {
	return MatchmakingStatus{
		Type:     TypeMatchmakingStatus,
		Status:   "In queue...",
		PlayerID: playerID,
	}
}

func newGameStart(opponent *Session) GameStart {
	return GameStart{
		Type:         TypeGameStart,
		OpponentID:   opponent.ID,
		OpponentName: opponent.Name,
	}
}

func newStateUpdate(senderID string, state json.RawMessage) StateUpdate {
	return StateUpdate{
		Type:     TypePlayerStateUpdate,
		PlayerID: senderID,
		State:    state,
	}
}
