package internal_test

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/koopa0/match-relay/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// newTestSession 創建帶緩衝出站通道的測試會話
func newTestSession(name string) *internal.Session {
	return internal.NewSession(name, 16)
}

// receive 取出一條出站訊息並解碼
//
// Manager 的發送在持鎖路徑上同步入隊，因此操作返回後
// 訊息必然已在通道中，非阻塞讀取是確定性的。
func receive(t *testing.T, s *internal.Session) map[string]any {
	t.Helper()
	select {
	case data := <-s.Send:
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	default:
		t.Fatal("期望有出站訊息，但通道為空")
		return nil
	}
}

// assertNoMessage 驗證會話沒有收到任何訊息
func assertNoMessage(t *testing.T, s *internal.Session) {
	t.Helper()
	select {
	case data := <-s.Send:
		t.Fatalf("期望沒有出站訊息，卻收到: %s", data)
	default:
	}
}

// drainGameStart 取出並驗證一條 GAME_START 訊息
func drainGameStart(t *testing.T, s *internal.Session, opponent *internal.Session) {
	t.Helper()
	msg := receive(t, s)
	assert.Equal(t, internal.TypeGameStart, msg["type"])
	assert.Equal(t, opponent.ID, msg["opponentId"])
	assert.Equal(t, opponent.Name, msg["opponentName"])
}

// TestNewManager 測試創建管理器
func TestNewManager(t *testing.T) {
	manager := internal.NewManager(testLogger())
	require.NotNil(t, manager)

	stats := manager.Stats()
	assert.Equal(t, 0, stats["queued_players"])
	assert.Equal(t, 0, stats["active_rooms"])
	assert.Equal(t, 0, stats["players_in_game"])
}

// TestManager_Enqueue_FIFOPairing 測試嚴格 FIFO 配對
//
// 對任意 N 個加入事件，配對嚴格按到達順序兩兩消費；
// N 為奇數時恰好剩一個會話在佇列中。
func TestManager_Enqueue_FIFOPairing(t *testing.T) {
	manager := internal.NewManager(testLogger())

	sessions := make([]*internal.Session, 5)
	for i := range sessions {
		sessions[i] = newTestSession(fmt.Sprintf("玩家%d", i+1))
		manager.Enqueue(sessions[i], "")
	}

	// 最早的兩人先配對：(1,2) 與 (3,4)，5 留在佇列
	drainGameStart(t, sessions[0], sessions[1])
	drainGameStart(t, sessions[1], sessions[0])
	drainGameStart(t, sessions[2], sessions[3])
	drainGameStart(t, sessions[3], sessions[2])
	assertNoMessage(t, sessions[4])

	assert.Equal(t, 1, manager.QueueLen())

	// 驗證房間歸屬：(1,2) 同房，(3,4) 同房，兩房不同
	room12, ok := manager.RoomOf(sessions[0].ID)
	require.True(t, ok)
	room12b, ok := manager.RoomOf(sessions[1].ID)
	require.True(t, ok)
	assert.Equal(t, room12, room12b)

	room34, ok := manager.RoomOf(sessions[2].ID)
	require.True(t, ok)
	assert.NotEqual(t, room12, room34)

	_, ok = manager.RoomOf(sessions[4].ID)
	assert.False(t, ok)

	// 第六人加入後，排隊中的第五人立即配對
	s6 := newTestSession("玩家6")
	manager.Enqueue(s6, "")
	drainGameStart(t, sessions[4], s6)
	drainGameStart(t, s6, sessions[4])
	assert.Equal(t, 0, manager.QueueLen())
}

// TestManager_Enqueue_DisplayName 測試入隊時的顯示名稱更新
func TestManager_Enqueue_DisplayName(t *testing.T) {
	tests := []struct {
		name         string
		initialName  string
		joinName     string
		expectedName string
	}{
		{
			name:         "client supplied name replaces placeholder",
			initialName:  "Player 42",
			joinName:     "小明",
			expectedName: "小明",
		},
		{
			name:         "empty name keeps placeholder",
			initialName:  "Player 42",
			joinName:     "",
			expectedName: "Player 42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := internal.NewManager(testLogger())
			s := newTestSession(tt.initialName)
			manager.Enqueue(s, tt.joinName)

			assert.Equal(t, tt.expectedName, s.Name)

			// 對手在 GAME_START 中看到的是更新後的名稱
			other := newTestSession("對手")
			manager.Enqueue(other, "")
			msg := receive(t, other)
			assert.Equal(t, internal.TypeGameStart, msg["type"])
			assert.Equal(t, tt.expectedName, msg["opponentName"])
		})
	}
}

// TestManager_Enqueue_Duplicate 測試重複入隊防護
func TestManager_Enqueue_Duplicate(t *testing.T) {
	t.Run("already queued", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		s := newTestSession("玩家一")

		manager.Enqueue(s, "")
		manager.Enqueue(s, "")

		// 會話在佇列中最多出現一次：沒有自我配對
		assert.Equal(t, 1, manager.QueueLen())
		assertNoMessage(t, s)
	})

	t.Run("already in room", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		a := newTestSession("玩家一")
		b := newTestSession("玩家二")
		manager.Enqueue(a, "")
		manager.Enqueue(b, "")
		drainGameStart(t, a, b)
		drainGameStart(t, b, a)

		// 已在房間中的會話不會再進入佇列
		manager.Enqueue(a, "")
		assert.Equal(t, 0, manager.QueueLen())
	})
}

// TestManager_Remove 測試按 ID 移出佇列
func TestManager_Remove(t *testing.T) {
	manager := internal.NewManager(testLogger())

	a := newTestSession("玩家一")
	manager.Enqueue(a, "")
	require.Equal(t, 1, manager.QueueLen())

	// 移除存在的會話
	manager.Remove(a.ID)
	assert.Equal(t, 0, manager.QueueLen())

	// 移除不存在的會話是空操作
	manager.Remove(a.ID)
	manager.Remove("不存在的ID")
	assert.Equal(t, 0, manager.QueueLen())

	// 被移除的會話不會被後續配對
	b := newTestSession("玩家二")
	manager.Enqueue(b, "")
	assert.Equal(t, 1, manager.QueueLen())
	assertNoMessage(t, a)
	assertNoMessage(t, b)
}

// pairTwo 配對兩個會話並排空 GAME_START，返回房間 ID
func pairTwo(t *testing.T, manager *internal.Manager, a, b *internal.Session) string {
	t.Helper()
	manager.Enqueue(a, "")
	manager.Enqueue(b, "")
	drainGameStart(t, a, b)
	drainGameStart(t, b, a)

	roomID, ok := manager.RoomOf(a.ID)
	require.True(t, ok)
	return roomID
}

// TestManager_RelayState 測試狀態轉發
func TestManager_RelayState(t *testing.T) {
	t.Run("delivered only to opponent", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		a := newTestSession("Ann")
		b := newTestSession("Bo")
		roomID := pairTwo(t, manager, a, b)

		state := json.RawMessage(`{"x":1}`)
		manager.RelayState(roomID, a.ID, state)

		// 對手收到轉發，帶發送者 ID 與原樣狀態
		msg := receive(t, b)
		assert.Equal(t, internal.TypePlayerStateUpdate, msg["type"])
		assert.Equal(t, a.ID, msg["playerId"])
		assert.Equal(t, map[string]any{"x": float64(1)}, msg["state"])

		// 發送者永遠不收到自己的回聲
		assertNoMessage(t, a)

		// 房間記錄了最後上報的狀態
		room, ok := manager.GetRoom(roomID)
		require.True(t, ok)
		recorded, ok := room.State(a.ID)
		require.True(t, ok)
		assert.JSONEq(t, `{"x":1}`, string(recorded))
	})

	t.Run("latest state wins", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		a := newTestSession("Ann")
		b := newTestSession("Bo")
		roomID := pairTwo(t, manager, a, b)

		manager.RelayState(roomID, a.ID, json.RawMessage(`{"x":1}`))
		manager.RelayState(roomID, a.ID, json.RawMessage(`{"x":2}`))

		room, ok := manager.GetRoom(roomID)
		require.True(t, ok)
		recorded, _ := room.State(a.ID)
		assert.JSONEq(t, `{"x":2}`, string(recorded))

		// 每次上報都各轉發一次
		receive(t, b)
		msg := receive(t, b)
		assert.Equal(t, map[string]any{"x": float64(2)}, msg["state"])
	})

	t.Run("stale room is a no-op", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		a := newTestSession("Ann")
		b := newTestSession("Bo")
		pairTwo(t, manager, a, b)

		manager.RelayState("已不存在的房間", a.ID, json.RawMessage(`{"x":1}`))
		assertNoMessage(t, a)
		assertNoMessage(t, b)
	})

	t.Run("sender outside the room is a no-op", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		a := newTestSession("Ann")
		b := newTestSession("Bo")
		roomID := pairTwo(t, manager, a, b)

		outsider := newTestSession("路人")
		manager.RelayState(roomID, outsider.ID, json.RawMessage(`{"x":9}`))
		assertNoMessage(t, a)
		assertNoMessage(t, b)

		room, _ := manager.GetRoom(roomID)
		_, ok := room.State(outsider.ID)
		assert.False(t, ok)
	})
}

// TestManager_EndGame 測試遊戲結束的房間銷毀
func TestManager_EndGame(t *testing.T) {
	manager := internal.NewManager(testLogger())
	a := newTestSession("Ann")
	b := newTestSession("Bo")
	roomID := pairTwo(t, manager, a, b)

	manager.EndGame(roomID, a.ID)

	// 對手收到結束通知，發起方不收到任何訊息
	msg := receive(t, b)
	assert.Equal(t, internal.TypeOpponentCrashed, msg["type"])
	assertNoMessage(t, a)

	// 房間已從註冊表刪除
	_, ok := manager.GetRoom(roomID)
	assert.False(t, ok)

	// 冪等：第二次結束與後續狀態上報都是空操作
	manager.EndGame(roomID, b.ID)
	manager.RelayState(roomID, a.ID, json.RawMessage(`{"x":1}`))
	manager.RelayState(roomID, b.ID, json.RawMessage(`{"y":2}`))
	assertNoMessage(t, a)
	assertNoMessage(t, b)
}

// TestManager_HandleDisconnect 測試斷線清理
func TestManager_HandleDisconnect(t *testing.T) {
	t.Run("removes queued session", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		a := newTestSession("Ann")
		manager.Enqueue(a, "")

		manager.HandleDisconnect(a.ID)
		assert.Equal(t, 0, manager.QueueLen())

		// 斷線的會話不會被後續加入的玩家配對到
		b := newTestSession("Bo")
		manager.Enqueue(b, "")
		assert.Equal(t, 1, manager.QueueLen())
		assertNoMessage(t, a)
	})

	t.Run("destroys room and notifies opponent", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		a := newTestSession("Ann")
		b := newTestSession("Bo")
		roomID := pairTwo(t, manager, a, b)

		manager.HandleDisconnect(b.ID)

		msg := receive(t, a)
		assert.Equal(t, internal.TypeOpponentDisconnected, msg["type"])

		_, ok := manager.GetRoom(roomID)
		assert.False(t, ok)
	})

	t.Run("second disconnect is a no-op", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		a := newTestSession("Ann")
		b := newTestSession("Bo")
		pairTwo(t, manager, a, b)

		manager.HandleDisconnect(b.ID)
		receive(t, a) // 排空第一次的通知

		manager.HandleDisconnect(b.ID)
		assertNoMessage(t, a)
		assert.Equal(t, 0, manager.QueueLen())
	})

	t.Run("unknown session is a no-op", func(t *testing.T) {
		manager := internal.NewManager(testLogger())
		manager.HandleDisconnect("從未出現的ID")
		assert.Equal(t, 0, manager.QueueLen())
	})
}

// TestManager_Scenario 按規格場景走完整個生命週期
//
// Ann 與 Bo 配對、Ann 上報狀態、Bo 斷線；
// Cid 排隊等待第四人。
func TestManager_Scenario(t *testing.T) {
	manager := internal.NewManager(testLogger())

	ann := newTestSession("佔位A")
	bo := newTestSession("佔位B")
	cid := newTestSession("佔位C")

	// Ann 與 Bo 先後加入 → 互相收到對方的 ID 與名稱
	manager.Enqueue(ann, "Ann")
	manager.Enqueue(bo, "Bo")

	msgAnn := receive(t, ann)
	assert.Equal(t, internal.TypeGameStart, msgAnn["type"])
	assert.Equal(t, bo.ID, msgAnn["opponentId"])
	assert.Equal(t, "Bo", msgAnn["opponentName"])

	msgBo := receive(t, bo)
	assert.Equal(t, ann.ID, msgBo["opponentId"])
	assert.Equal(t, "Ann", msgBo["opponentName"])

	roomID, ok := manager.RoomOf(ann.ID)
	require.True(t, ok)

	// Cid 加入 → 留在佇列等待第四人
	manager.Enqueue(cid, "Cid")
	assert.Equal(t, 1, manager.QueueLen())
	assertNoMessage(t, cid)

	// Ann 上報狀態 → 只有 Bo 收到
	manager.RelayState(roomID, ann.ID, json.RawMessage(`{"x":1}`))
	relayed := receive(t, bo)
	assert.Equal(t, internal.TypePlayerStateUpdate, relayed["type"])
	assert.Equal(t, ann.ID, relayed["playerId"])
	assertNoMessage(t, ann)

	// Bo 斷線 → Ann 收到通知，房間銷毀，Cid 不受影響
	manager.HandleDisconnect(bo.ID)
	notice := receive(t, ann)
	assert.Equal(t, internal.TypeOpponentDisconnected, notice["type"])

	_, ok = manager.GetRoom(roomID)
	assert.False(t, ok)
	assert.Equal(t, 1, manager.QueueLen())
}

// TestManager_Stats 測試統計資訊
func TestManager_Stats(t *testing.T) {
	manager := internal.NewManager(testLogger())

	a := newTestSession("Ann")
	b := newTestSession("Bo")
	c := newTestSession("Cid")
	manager.Enqueue(a, "")
	manager.Enqueue(b, "")
	manager.Enqueue(c, "")

	stats := manager.Stats()
	assert.Equal(t, 1, stats["queued_players"])
	assert.Equal(t, 1, stats["active_rooms"])
	assert.Equal(t, 2, stats["players_in_game"])
}
