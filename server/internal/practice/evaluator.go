package practice

import (
	"strings"

	"care-talk/server/internal/model"
)

// fallbackPredicate 没有为 (场景, 检查点) 编写规则时使用的长度启发式。
var fallbackPredicate = Predicate{MinWords: 4}

// Evaluation 一次评估的结果。Set 是新的副本，输入集合不会被修改。
type Evaluation struct {
	Set model.CheckpointSet
	// Index 被评估的检查点下标；NoOp 时为 -1。
	Index     int
	Completed bool
	Tier      model.EscalationTier
	// NoOp 没有可评估的检查点（已全部完成或集合为空）。
	NoOp bool
}

// Blocked 是否需要阻塞回复生成（展示提示而不是让对方回答）。
func (e Evaluation) Blocked() bool {
	return !e.NoOp && !e.Completed && e.Tier > model.TierNone
}

// Evaluator 检查点评估器。
//
// 契约：
// - 每次调用最多推进一个检查点，已完成的检查点不会回退。
// - 只有当前检查点的 attempts 增加，每次调用加一。
// - 纯函数：不持有会话状态，返回新集合。
type Evaluator struct {
	rules RuleBook
}

func NewEvaluator(rules RuleBook) *Evaluator {
	if rules == nil {
		rules = Table{}
	}
	return &Evaluator{rules: rules}
}

// Evaluate 用学习者的一句话评估当前检查点。
func (e *Evaluator) Evaluate(scenarioID string, set model.CheckpointSet, utterance string) Evaluation {
	idx := set.Current()
	if idx < 0 || strings.TrimSpace(utterance) == "" {
		return Evaluation{Set: set.Clone(), Index: -1, NoOp: true}
	}

	next := set.Clone()
	next[idx].Attempts++

	if e.Matches(scenarioID, idx, utterance) {
		next[idx].Completed = true
		return Evaluation{Set: next, Index: idx, Completed: true, Tier: model.TierNone}
	}

	return Evaluation{Set: next, Index: idx, Tier: TierFor(next[idx].Attempts)}
}

// Matches 判断一句话是否满足某场景第 index 个检查点。
func (e *Evaluator) Matches(scenarioID string, index int, utterance string) bool {
	normalized := normalize(utterance)
	if normalized == "" {
		return false
	}
	predicates, ok := e.rules.Rules(scenarioID, index)
	if !ok {
		return fallbackPredicate.Match(normalized)
	}
	for _, p := range predicates {
		if p.Match(normalized) {
			return true
		}
	}
	return false
}

// TierFor 由（自增后的）尝试次数推导提示层级：1 次→引导，≥2 次→句子建议。
func TierFor(attempts int) model.EscalationTier {
	switch {
	case attempts <= 0:
		return model.TierNone
	case attempts == 1:
		return model.TierGuidance
	default:
		return model.TierSuggestions
	}
}

// ForceComplete 学习者选用建议句子时直接完成当前检查点，不经过匹配。
// 返回新集合、被完成的下标；没有未完成检查点时 ok=false。
func ForceComplete(set model.CheckpointSet) (next model.CheckpointSet, index int, ok bool) {
	idx := set.Current()
	if idx < 0 {
		return set.Clone(), -1, false
	}
	next = set.Clone()
	next[idx].Completed = true
	return next, idx, true
}
