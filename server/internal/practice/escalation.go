package practice

import "care-talk/server/internal/model"

// 没有编写内容时的通用提示。
const DefaultGuidance = "Bleiben Sie einfühlsam und professionell: Sprechen Sie Ihr Gegenüber direkt an und gehen Sie auf das aktuelle Anliegen ein."

// DefaultSuggestions 没有编写内容时的通用建议句子。
var DefaultSuggestions = []string{
	"Wie geht es Ihnen gerade?",
	"Können Sie mir bitte genauer erzählen, was los ist?",
}

const maxSuggestions = 3

// Escalator 按场景与检查点下标查询提示内容（纯查询）。
type Escalator struct {
	rules RuleBook
}

func NewEscalator(rules RuleBook) *Escalator {
	if rules == nil {
		rules = Table{}
	}
	return &Escalator{rules: rules}
}

// Guidance 返回第一层的引导文本。
func (g *Escalator) Guidance(scenarioID string, index int) string {
	if text, ok := g.rules.Guidance(scenarioID, index); ok {
		return text
	}
	return DefaultGuidance
}

// Suggestions 返回 2–3 个可直接使用的句子（副本）。
func (g *Escalator) Suggestions(scenarioID string, index int) []string {
	src, ok := g.rules.Suggestions(scenarioID, index)
	if !ok {
		src = DefaultSuggestions
	}
	n := len(src)
	if n > maxSuggestions {
		n = maxSuggestions
	}
	out := make([]string, n)
	copy(out, src[:n])
	if len(out) < 2 {
		// 编写的内容不足两句时用通用句子补齐
		for _, s := range DefaultSuggestions {
			if len(out) >= 2 {
				break
			}
			out = append(out, s)
		}
	}
	return out
}

// Escalate 根据层级生成 Escalation（None | Guidance | Suggestions）。
func (g *Escalator) Escalate(tier model.EscalationTier, scenarioID string, index int) model.Escalation {
	switch tier {
	case model.TierGuidance:
		return model.Escalation{
			Tier:            model.TierGuidance,
			CheckpointIndex: index,
			Guidance:        g.Guidance(scenarioID, index),
		}
	case model.TierSuggestions:
		return model.Escalation{
			Tier:            model.TierSuggestions,
			CheckpointIndex: index,
			Guidance:        g.Guidance(scenarioID, index),
			Suggestions:     g.Suggestions(scenarioID, index),
		}
	default:
		return model.Escalation{}
	}
}
