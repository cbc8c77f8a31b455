package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"care-talk/server/internal/domain"
	"care-talk/server/internal/model"
	"care-talk/server/internal/profile"
	"care-talk/server/internal/session"
)

var (
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrTooManySessions = errors.New("too many active sessions")
)

// Manager 按会话 ID 持有编排器，负责创建、查找、删除与空闲回收。
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Orchestrator

	catalog     *domain.Catalog
	profiles    profile.Provider
	deps        Deps
	maxSessions int
}

// NewManager deps.Rules 为空时使用 catalog 的规则。maxSessions<=0 表示不限。
func NewManager(catalog *domain.Catalog, profiles profile.Provider, deps Deps, maxSessions int) *Manager {
	if deps.Rules == nil {
		deps.Rules = catalog
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if profiles == nil {
		profiles = profile.NewDeterministic()
	}
	return &Manager{
		sessions:    make(map[string]*Orchestrator),
		catalog:     catalog,
		profiles:    profiles,
		deps:        deps,
		maxSessions: maxSessions,
	}
}

// Catalog 场景目录
func (m *Manager) Catalog() *domain.Catalog {
	return m.catalog
}

// Create 为场景创建新会话：生成人设、初始化检查点并保存快照。
func (m *Manager) Create(ctx context.Context, scenarioID string) (*Orchestrator, error) {
	scenario, ok := m.catalog.Scenario(scenarioID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, scenarioID)
	}
	checkpoints, err := m.catalog.NewCheckpointSet(scenarioID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return nil, ErrTooManySessions
	}

	now := m.deps.Now()
	state := &model.SessionState{
		SessionID:   uuid.NewString(),
		ScenarioID:  scenario.ID,
		Category:    scenario.Category,
		Checkpoints: checkpoints,
		Profile:     m.profiles.CreateProfile(scenario.Category, scenario),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.deps.Store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	orch := New(state, scenario, m.deps)
	m.sessions[state.SessionID] = orch
	orch.metrics.ActiveSessions.Add(ctx, 1)
	log.Printf("[Manager] ✅ session=%s scenario=%s counterpart=%s", state.SessionID, scenario.ID, state.Profile.Name)
	return orch, nil
}

// Get 不存在时返回 session.ErrNotFound
func (m *Manager) Get(id string) (*Orchestrator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orch, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return orch, nil
}

// IDs 当前会话 ID（排序）
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete 删除会话及其时间线。
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	orch, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return session.ErrNotFound
	}

	orch.SetSpeech(nil)
	var errs []error
	if err := m.deps.Store.Delete(ctx, id); err != nil && !errors.Is(err, session.ErrNotFound) {
		errs = append(errs, err)
	}
	if err := m.deps.Timeline.Delete(ctx, id); err != nil {
		errs = append(errs, err)
	}
	orch.metrics.ActiveSessions.Add(ctx, -1)
	return errors.Join(errs...)
}

// EvictIdle 删除超过 maxIdle 未更新且没有在途回复的会话，返回被删除的 ID。
func (m *Manager) EvictIdle(ctx context.Context, maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	now := m.deps.Now()

	m.mu.RLock()
	var idle []string
	for id, orch := range m.sessions {
		snap := orch.Snapshot()
		if !snap.Busy && now.Sub(snap.UpdatedAt) > maxIdle {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(idle)
	var evicted []string
	for _, id := range idle {
		if err := m.Delete(ctx, id); err != nil && !errors.Is(err, session.ErrNotFound) {
			log.Printf("[Manager] ⚠️ evict session=%s: %v", id, err)
			continue
		}
		evicted = append(evicted, id)
	}
	if len(evicted) > 0 {
		log.Printf("[Manager] 🧹 evicted %d idle sessions", len(evicted))
	}
	return evicted
}
