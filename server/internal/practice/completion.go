package practice

import "care-talk/server/internal/model"

// DefaultInsights 场景没有编写总结时的通用祝贺。
const DefaultInsights = "Herzlichen Glückwunsch! Sie haben alle Gesprächsziele erreicht. Achten Sie weiterhin auf eine klare, freundliche und professionelle Kommunikation."

// CompletionDetector 检查点全部完成时触发一次性的完成事件。
// 不是并发安全的：由持有会话状态的编排器在锁内调用。
type CompletionDetector struct {
	rules      RuleBook
	scenarioID string
	fired      bool
}

func NewCompletionDetector(rules RuleBook, scenarioID string) *CompletionDetector {
	if rules == nil {
		rules = Table{}
	}
	return &CompletionDetector{rules: rules, scenarioID: scenarioID}
}

// Check 所有检查点完成且至少有一个轮次时返回总结文本，每个会话只返回一次。
func (d *CompletionDetector) Check(set model.CheckpointSet, hasAnyTurns bool) (string, bool) {
	if d.fired || !hasAnyTurns || !set.AllCompleted() {
		return "", false
	}
	d.fired = true
	if text, ok := d.rules.Insights(d.scenarioID); ok {
		return text, true
	}
	return DefaultInsights, true
}

// Fired 是否已经触发过。
func (d *CompletionDetector) Fired() bool {
	return d.fired
}

// Reset 仅在显式重开会话时调用。
func (d *CompletionDetector) Reset() {
	d.fired = false
}
