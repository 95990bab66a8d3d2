package internal

import (
	"github.com/google/uuid"
)

// Session 玩家會話
//
// 會話是服務器對一個已連接客戶端的記賬身份，與底層連接一一對應：
//   - 一個連接只有一個會話，一個會話只屬於一個連接
//   - ID 在連接建立時生成，會話存續期間不變
//   - Name 在加入配對時由客戶端提供；在那之前是服務器生成的佔位名稱
//
// 生命週期：連接建立時創建，連接關閉時銷毀。沒有重連或恢復機制。
type Session struct {
	ID   string
	Name string

	// 出站訊息通道，由連接的 writePump 消費。
	// Manager 只會非阻塞地寫入（見 Manager.send），緩衝滿時丟棄，
	// 保證配對與轉發路徑永遠不會被慢客戶端阻塞。
	Send chan []byte
}

// NewSession 創建會話，ID 使用 UUID 保證全局唯一
func NewSession(name string, sendBuffer int) *Session {
	return &Session{
		ID:   uuid.NewString(),
		Name: name,
		Send: make(chan []byte, sendBuffer),
	}
}
