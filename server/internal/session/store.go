package session

import (
	"context"
	"time"

	"care-talk/server/internal/model"
)

// Store 会话快照存储。实现必须返回/保存副本，调用方修改快照不影响存储内容。
type Store interface {
	Get(ctx context.Context, id string) (*model.SessionState, error)
	Save(ctx context.Context, s *model.SessionState) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Summary, error)
}

// Summary 会话列表项
type Summary struct {
	SessionID  string         `json:"session_id"`
	ScenarioID string         `json:"scenario_id"`
	Category   model.Category `json:"category"`
	Turns      int            `json:"turns"`
	Completed  int            `json:"checkpoints_completed"`
	Total      int            `json:"checkpoints_total"`
	Finished   bool           `json:"finished"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func summarize(s *model.SessionState) Summary {
	return Summary{
		SessionID:  s.SessionID,
		ScenarioID: s.ScenarioID,
		Category:   s.Category,
		Turns:      len(s.Turns),
		Completed:  s.Checkpoints.CompletedCount(),
		Total:      len(s.Checkpoints),
		Finished:   s.Completed,
		UpdatedAt:  s.UpdatedAt,
	}
}
