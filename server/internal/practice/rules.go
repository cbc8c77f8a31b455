package practice

import (
	"strings"
)

// Predicate 一条关键词匹配规则。所有已设置的条件同时满足才算命中：
// - Any：至少包含其中一个词组（为空则忽略）
// - All：必须包含全部词组
// - MinWords / MinChars：长度下限
// 一个检查点可以有多条 Predicate，任意一条命中即视为完成（宽松 OR）。
type Predicate struct {
	Any      []string `json:"any,omitempty" yaml:"any,omitempty"`
	All      []string `json:"all,omitempty" yaml:"all,omitempty"`
	MinWords int      `json:"min_words,omitempty" yaml:"min_words,omitempty"`
	MinChars int      `json:"min_chars,omitempty" yaml:"min_chars,omitempty"`
}

// Empty 没有任何条件的规则会命中一切，加载时应拒绝。
func (p Predicate) Empty() bool {
	return len(p.Any) == 0 && len(p.All) == 0 && p.MinWords <= 0 && p.MinChars <= 0
}

// Match 对已归一化（小写）的文本求值。
func (p Predicate) Match(normalized string) bool {
	if p.Empty() {
		return false
	}
	if len(p.Any) > 0 && !containsAny(normalized, p.Any) {
		return false
	}
	for _, term := range p.All {
		if !strings.Contains(normalized, strings.ToLower(term)) {
			return false
		}
	}
	if p.MinWords > 0 && len(strings.Fields(normalized)) < p.MinWords {
		return false
	}
	if p.MinChars > 0 && len([]rune(normalized)) < p.MinChars {
		return false
	}
	return true
}

// CheckpointRules 单个检查点的匹配规则与提示内容。
type CheckpointRules struct {
	Match       []Predicate
	Guidance    string
	Suggestions []string
}

// ScenarioRules 单个场景的规则，Checkpoints 与检查点顺序一一对应。
type ScenarioRules struct {
	Checkpoints []CheckpointRules
	Insights    string
}

// RuleBook 场景 × 检查点下标 → 规则/提示 的只读查询。
type RuleBook interface {
	Rules(scenarioID string, index int) ([]Predicate, bool)
	Guidance(scenarioID string, index int) (string, bool)
	Suggestions(scenarioID string, index int) ([]string, bool)
	Insights(scenarioID string) (string, bool)
}

// Table 基于 map 的 RuleBook 实现。
type Table map[string]ScenarioRules

func (t Table) checkpoint(scenarioID string, index int) (CheckpointRules, bool) {
	sc, ok := t[scenarioID]
	if !ok || index < 0 || index >= len(sc.Checkpoints) {
		return CheckpointRules{}, false
	}
	return sc.Checkpoints[index], true
}

func (t Table) Rules(scenarioID string, index int) ([]Predicate, bool) {
	cp, ok := t.checkpoint(scenarioID, index)
	if !ok || len(cp.Match) == 0 {
		return nil, false
	}
	return cp.Match, true
}

func (t Table) Guidance(scenarioID string, index int) (string, bool) {
	cp, ok := t.checkpoint(scenarioID, index)
	if !ok || strings.TrimSpace(cp.Guidance) == "" {
		return "", false
	}
	return cp.Guidance, true
}

func (t Table) Suggestions(scenarioID string, index int) ([]string, bool) {
	cp, ok := t.checkpoint(scenarioID, index)
	if !ok || len(cp.Suggestions) == 0 {
		return nil, false
	}
	return cp.Suggestions, true
}

func (t Table) Insights(scenarioID string) (string, bool) {
	sc, ok := t[scenarioID]
	if !ok || strings.TrimSpace(sc.Insights) == "" {
		return "", false
	}
	return sc.Insights, true
}

// normalize 小写并压缩空白。
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func containsAny(normalized string, terms []string) bool {
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(normalized, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
