package worker

import (
	"context"
	"time"
)

// Compute 可被卸載的重型純計算
// 必須自行尊重 ctx 的取消與截止時間，且不得碰觸協作循環的共享狀態
type Compute func(ctx context.Context) (any, error)

// Call 代表一次卸載呼叫
type Call struct {
	ID       string          // 呼叫唯一識別碼，用於結果回配
	Kind     string          // 計算種類（同時作為指標的 operation 名稱）
	Fn       Compute         // 計算本體
	ctx      context.Context // 呼叫端提供的截止時間與取消
	resultCh chan Result     // 專屬結果通道，容量 1
}

// Result 代表卸載計算的執行結果
type Result struct {
	CallID   string        // 對應的呼叫識別碼
	Value    any           // 計算結果，失敗時為 nil
	Err      error         // 錯誤訊息（如果有）
	Duration time.Duration // 實際執行時間
}
