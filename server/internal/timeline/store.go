package timeline

import (
	"context"

	"care-talk/server/internal/model"
)

// Store 练习会话的审计日志。编排器先写 timeline 再更新状态（append-first）。
type Store interface {
	// Append 写入事件并返回 seq。同一 session 的 seq 单调递增；相同 EventID 幂等返回同一 seq。
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	// List 返回该 session 的全量事件。
	List(ctx context.Context, sessionID string) ([]model.Event, error)
	// ListSince 返回 seq 大于 afterSeq 的事件，用于断线重连后补发。
	ListSince(ctx context.Context, sessionID string, afterSeq int64) ([]model.Event, error)
	// Delete 删除该 session 的全部事件。
	Delete(ctx context.Context, sessionID string) error
}
