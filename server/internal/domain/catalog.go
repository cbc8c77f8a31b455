package domain

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"care-talk/server/internal/model"
	"care-talk/server/internal/practice"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// CheckpointSpec 场景文件中的一个检查点定义。
type CheckpointSpec struct {
	ID          string               `yaml:"id"`
	Description string               `yaml:"description"`
	Match       []practice.Predicate `yaml:"match"`
	Guidance    string               `yaml:"guidance"`
	Suggestions []string             `yaml:"suggestions"`
}

// ScenarioSpec 场景文件中的一个场景定义。
type ScenarioSpec struct {
	model.Scenario `yaml:",inline"`
	Insights       string           `yaml:"insights"`
	Checkpoints    []CheckpointSpec `yaml:"checkpoints"`
}

type catalogFile struct {
	Scenarios []ScenarioSpec `yaml:"scenarios"`
}

// Catalog 只读的场景目录，同时实现 practice.RuleBook。
type Catalog struct {
	order []string
	specs map[string]ScenarioSpec
	rules practice.Table
}

// LoadCatalog 从指定路径加载场景目录；path 为空时使用内置目录。
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultCatalogYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog 返回内置目录。内置文件在测试中校验过，解析失败属于构建错误。
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// ParseCatalog 解析并校验 YAML 内容。
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, fmt.Errorf("catalog has no scenarios")
	}

	c := &Catalog{
		specs: make(map[string]ScenarioSpec, len(file.Scenarios)),
		rules: make(practice.Table, len(file.Scenarios)),
	}
	for i, sc := range file.Scenarios {
		if err := validateScenario(sc); err != nil {
			return nil, fmt.Errorf("scenario %d (%s): %w", i, sc.ID, err)
		}
		if _, dup := c.specs[sc.ID]; dup {
			return nil, fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		c.order = append(c.order, sc.ID)
		c.specs[sc.ID] = sc
		c.rules[sc.ID] = toRules(sc)
	}
	return c, nil
}

func validateScenario(sc ScenarioSpec) error {
	if strings.TrimSpace(sc.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if sc.Category == "" {
		return fmt.Errorf("category is required")
	}
	if !sc.Counterpart.IsCounterpart() {
		return fmt.Errorf("invalid counterpart %q", sc.Counterpart)
	}
	if len(sc.Checkpoints) == 0 {
		return fmt.Errorf("at least one checkpoint is required")
	}
	seen := make(map[string]bool, len(sc.Checkpoints))
	for j, cp := range sc.Checkpoints {
		if cp.ID == "" {
			return fmt.Errorf("checkpoint %d: id is required", j)
		}
		if seen[cp.ID] {
			return fmt.Errorf("checkpoint %d: duplicate id %q", j, cp.ID)
		}
		seen[cp.ID] = true
		for k, p := range cp.Match {
			if p.Empty() {
				return fmt.Errorf("checkpoint %s: predicate %d is empty", cp.ID, k)
			}
		}
	}
	return nil
}

func toRules(sc ScenarioSpec) practice.ScenarioRules {
	out := practice.ScenarioRules{
		Insights:    sc.Insights,
		Checkpoints: make([]practice.CheckpointRules, len(sc.Checkpoints)),
	}
	for i, cp := range sc.Checkpoints {
		out.Checkpoints[i] = practice.CheckpointRules{
			Match:       cp.Match,
			Guidance:    cp.Guidance,
			Suggestions: cp.Suggestions,
		}
	}
	return out
}

// Scenario 按 ID 查找场景。
func (c *Catalog) Scenario(id string) (model.Scenario, bool) {
	sc, ok := c.specs[id]
	if !ok {
		return model.Scenario{}, false
	}
	return sc.Scenario, true
}

// Scenarios 按文件顺序返回全部场景。
func (c *Catalog) Scenarios() []model.Scenario {
	out := make([]model.Scenario, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.specs[id].Scenario)
	}
	return out
}

// Categories 返回目录中出现的类别（排序）。
func (c *Catalog) Categories() []model.Category {
	seen := make(map[model.Category]bool)
	var out []model.Category
	for _, id := range c.order {
		cat := c.specs[id].Category
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewCheckpointSet 为场景创建一份全新的检查点集合。
func (c *Catalog) NewCheckpointSet(id string) (model.CheckpointSet, error) {
	sc, ok := c.specs[id]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", id)
	}
	set := make(model.CheckpointSet, len(sc.Checkpoints))
	for i, cp := range sc.Checkpoints {
		set[i] = model.Checkpoint{ID: cp.ID, Description: cp.Description}
	}
	return set, nil
}

func (c *Catalog) Rules(scenarioID string, index int) ([]practice.Predicate, bool) {
	return c.rules.Rules(scenarioID, index)
}

func (c *Catalog) Guidance(scenarioID string, index int) (string, bool) {
	return c.rules.Guidance(scenarioID, index)
}

func (c *Catalog) Suggestions(scenarioID string, index int) ([]string, bool) {
	return c.rules.Suggestions(scenarioID, index)
}

func (c *Catalog) Insights(scenarioID string) (string, bool) {
	return c.rules.Insights(scenarioID)
}
