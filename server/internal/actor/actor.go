package actor

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"care-talk/server/internal/model"
)

//go:embed prompts/roles/*.md
var embeddedPrompts embed.FS

// maxInstructionsLen 指令长度上限（字节）。
const maxInstructionsLen = 4000

// ActorEngine 负责根据场景、人设和当前检查点构建对话对象的 Prompt
type ActorEngine struct {
	rolePrompts map[model.Speaker]string
}

// ActorRequest 演员引擎的输入请求
type ActorRequest struct {
	SessionID string
	Scenario  model.Scenario
	Profile   model.CounterpartProfile
	// Objective 当前检查点的描述；全部完成时为空。
	Objective    string
	LastUserText string
	TurnCount    int
	// MaxSentences 回复句数上限，0 表示使用默认值。
	MaxSentences int
}

// ActorPrompt 演员引擎的输出
type ActorPrompt struct {
	Instructions string
	DebugInfo    map[string]interface{}
}

// NewActorEngine 创建演员引擎；promptsDir 为空时使用内置模板
func NewActorEngine(promptsDir string) (*ActorEngine, error) {
	var fsys fs.FS
	if promptsDir == "" {
		sub, err := fs.Sub(embeddedPrompts, "prompts")
		if err != nil {
			return nil, fmt.Errorf("open embedded prompts: %w", err)
		}
		fsys = sub
	} else {
		fsys = os.DirFS(promptsDir)
	}
	return NewActorEngineFS(fsys)
}

// NewActorEngineFS 从任意文件系统加载 roles/*.md
func NewActorEngineFS(fsys fs.FS) (*ActorEngine, error) {
	engine := &ActorEngine{rolePrompts: make(map[model.Speaker]string)}
	if err := engine.loadPrompts(fsys); err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	return engine, nil
}

// loadPrompts 加载所有角色模板
func (a *ActorEngine) loadPrompts(fsys fs.FS) error {
	roleFiles, err := fs.ReadDir(fsys, "roles")
	if err != nil {
		return fmt.Errorf("read roles dir: %w", err)
	}
	for _, file := range roleFiles {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".md") {
			continue
		}
		role := model.Speaker(strings.TrimSuffix(file.Name(), ".md"))
		content, err := fs.ReadFile(fsys, "roles/"+file.Name())
		if err != nil {
			return fmt.Errorf("read role %s: %w", role, err)
		}
		a.rolePrompts[role] = string(content)
	}
	if len(a.rolePrompts) == 0 {
		return fmt.Errorf("no role prompts found")
	}
	return nil
}

// Roles 返回已加载的角色
func (a *ActorEngine) Roles() []model.Speaker {
	out := make([]model.Speaker, 0, len(a.rolePrompts))
	for r := range a.rolePrompts {
		out = append(out, r)
	}
	return out
}

// BuildPrompt 根据 ActorRequest 构建完整的 Prompt
func (a *ActorEngine) BuildPrompt(req ActorRequest) (ActorPrompt, error) {
	role := req.Profile.Role
	if role == "" {
		role = req.Scenario.Counterpart
	}
	rolePrompt, ok := a.rolePrompts[role]
	if !ok {
		return ActorPrompt{}, fmt.Errorf("role not found: %s", role)
	}

	instructions := a.assembleInstructions(req, rolePrompt)
	debugInfo := map[string]interface{}{
		"session_id": req.SessionID, "scenario_id": req.Scenario.ID,
		"role": string(role), "objective": req.Objective,
		"turn_count": req.TurnCount,
	}
	return ActorPrompt{Instructions: instructions, DebugInfo: debugInfo}, nil
}

// assembleInstructions 组装完整的指令文本
func (a *ActorEngine) assembleInstructions(req ActorRequest, rolePrompt string) string {
	var sb strings.Builder
	p := req.Profile

	sb.WriteString("[Role Definition]\n")
	sb.WriteString(extractRoleEssence(rolePrompt))
	sb.WriteString("\n")

	sb.WriteString("[Persona]\n")
	sb.WriteString(fmt.Sprintf("Name: %s\n", p.Name))
	if p.Age > 0 {
		sb.WriteString(fmt.Sprintf("Alter: %d\n", p.Age))
	}
	if p.Condition != "" {
		sb.WriteString(fmt.Sprintf("Zustand: %s\n", p.Condition))
	}
	if p.Mood != "" {
		sb.WriteString(fmt.Sprintf("Stimmung: %s\n", p.Mood))
	}
	if p.Background != "" {
		sb.WriteString(fmt.Sprintf("Hintergrund: %s\n", p.Background))
	}
	sb.WriteString("\n")

	sb.WriteString("[Current Situation]\n")
	sb.WriteString(fmt.Sprintf("Szenario: %s\n", req.Scenario.Title))
	if req.Scenario.Description != "" {
		sb.WriteString(req.Scenario.Description)
		sb.WriteString("\n")
	}
	if req.Objective != "" {
		sb.WriteString(fmt.Sprintf("Lernziel der Pflegekraft gerade: %s\n", req.Objective))
	} else {
		sb.WriteString("Alle Lernziele sind erreicht. Bring das Gespräch natürlich zu einem Ende.\n")
	}
	if req.LastUserText != "" {
		sb.WriteString(fmt.Sprintf("Letzte Äußerung der Pflegekraft: \"%s\"\n", req.LastUserText))
	}
	sb.WriteString("\n")

	maxSentences := req.MaxSentences
	if maxSentences <= 0 {
		maxSentences = 3
	}
	sb.WriteString("[Constraints]\n")
	sb.WriteString(fmt.Sprintf("- Antworte mit höchstens %d kurzen Sätzen.\n", maxSentences))
	sb.WriteString("- Verrate das Lernziel nicht, aber gib der Pflegekraft Gelegenheit, es zu erreichen.\n")
	sb.WriteString("- Bleib in deiner Rolle und sprich die Pflegekraft mit \"Sie\" an.\n")
	if req.TurnCount > 12 {
		sb.WriteString("- Das Gespräch dauert schon lange: lenke es zu einem Abschluss.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("[Output Format]\n")
	sb.WriteString("Antworte nur mit JSON: reply (deine Rolle), feedback (ein Satz zur Sprache der Pflegekraft), ")
	sb.WriteString("suggestion (ein besserer Satz, optional), tone (positive|corrective|neutral), ")
	sb.WriteString("conversation_complete (true wenn das Gespräch natürlich beendet ist), insights (kurzes Fazit, nur wenn beendet).\n")

	return sb.String()
}

// extractRoleEssence 从角色模板的 "## Profile" 段落中提取核心人设
func extractRoleEssence(rolePrompt string) string {
	lines := strings.Split(rolePrompt, "\n")
	var essence strings.Builder
	inProfile := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "## Profile") {
			inProfile = true
			continue
		}
		if inProfile {
			if strings.HasPrefix(line, "##") {
				break
			}
			if line != "" && !strings.HasPrefix(line, "#") {
				essence.WriteString(line)
				essence.WriteString("\n")
			}
		}
	}
	if essence.Len() == 0 {
		for i, line := range lines {
			if i >= 5 {
				break
			}
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				essence.WriteString(line)
				essence.WriteString("\n")
			}
		}
	}
	return essence.String()
}

// Validate 校验生成的 Prompt
func (a *ActorEngine) Validate(prompt ActorPrompt) error {
	if len(prompt.Instructions) == 0 {
		return fmt.Errorf("empty instructions")
	}
	requiredSections := []string{
		"[Role Definition]",
		"[Current Situation]",
		"[Constraints]",
		"[Output Format]",
	}
	for _, section := range requiredSections {
		if !strings.Contains(prompt.Instructions, section) {
			return fmt.Errorf("missing required section: %s", section)
		}
	}
	if len(prompt.Instructions) > maxInstructionsLen {
		return fmt.Errorf("instructions too long: %d > %d", len(prompt.Instructions), maxInstructionsLen)
	}
	return nil
}

// BuildFallbackPrompt 构建兜底 Prompt
func (a *ActorEngine) BuildFallbackPrompt(req ActorRequest) ActorPrompt {
	instructions := fmt.Sprintf(`[Role Definition]
Du bist %s in einem Pflege-Rollenspiel.

[Current Situation]
Szenario: %s

[Constraints]
- Antworte mit höchstens 2 kurzen Sätzen auf Deutsch.
- Bleib in deiner Rolle.

[Output Format]
Antworte nur mit JSON: reply, feedback, suggestion, tone, conversation_complete, insights.
`, req.Profile.Name, req.Scenario.Title)

	return ActorPrompt{
		Instructions: instructions,
		DebugInfo: map[string]interface{}{
			"fallback": true,
			"reason":   "Failed to build normal prompt",
		},
	}
}
