package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/screenplay-engine/pkg/chat"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// DirectorBuilder constructs the director's decision request using a fluent interface.
type DirectorBuilder struct {
	sc            *screenplay.SceneContext
	role          *screenplay.Role
	emotions      map[string]screenplay.RoleEmotion
	beliefs       map[string][]screenplay.RoleBelief
	counters      director.Counters
	maxSceneTurns int
	rhythm        director.Rhythm
	skipped       map[string]bool
	historyLimit  int
}

// NewDirector creates a director prompt builder with default settings.
func NewDirector() *DirectorBuilder {
	return &DirectorBuilder{
		rhythm:        director.DefaultRhythm,
		maxSceneTurns: 20,
		historyLimit:  DefaultHistoryLimit,
		skipped:       make(map[string]bool),
	}
}

func (b *DirectorBuilder) WithScene(sc *screenplay.SceneContext) *DirectorBuilder {
	b.sc = sc
	return b
}

// WithDirector sets the admin role whose personality leads the system prompt.
func (b *DirectorBuilder) WithDirector(r screenplay.Role) *DirectorBuilder {
	b.role = &r
	return b
}

// WithEmotions sets current emotions keyed by role id.
func (b *DirectorBuilder) WithEmotions(emotions map[string]screenplay.RoleEmotion) *DirectorBuilder {
	b.emotions = emotions
	return b
}

// WithBeliefs sets active beliefs grouped by role id.
func (b *DirectorBuilder) WithBeliefs(beliefs map[string][]screenplay.RoleBelief) *DirectorBuilder {
	b.beliefs = beliefs
	return b
}

func (b *DirectorBuilder) WithCounters(c director.Counters, maxSceneTurns int) *DirectorBuilder {
	b.counters = c
	if maxSceneTurns > 0 {
		b.maxSceneTurns = maxSceneTurns
	}
	return b
}

func (b *DirectorBuilder) WithRhythm(r director.Rhythm) *DirectorBuilder {
	b.rhythm = r
	return b
}

// WithSkipped marks roles that must not be chosen this turn.
func (b *DirectorBuilder) WithSkipped(roleIDs ...string) *DirectorBuilder {
	for _, id := range roleIDs {
		b.skipped[id] = true
	}
	return b
}

func (b *DirectorBuilder) WithHistoryLimit(limit int) *DirectorBuilder {
	if limit > 0 {
		b.historyLimit = limit
	}
	return b
}

// Build returns the system and user messages of the decision request.
func (b *DirectorBuilder) Build() ([]chat.ChatMessage, error) {
	if err := requireScene(b.sc); err != nil {
		return nil, err
	}
	if b.role == nil {
		return nil, fmt.Errorf("director role is required")
	}

	system := DirectorSystemPrompt
	if p := strings.TrimSpace(b.role.Personality); p != "" {
		system = p + "\n\n" + system
	}

	return []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: system},
		{Role: chat.ChatRoleUser, Content: b.userPrompt()},
	}, nil
}

func (b *DirectorBuilder) userPrompt() string {
	sc := b.sc
	var sb strings.Builder

	sb.WriteString("请分析以下全局状态，并输出一个 JSON 指令。\n\n")

	sb.WriteString("【剧本信息】\n")
	sb.WriteString("标题：" + sc.Screenplay.Title + "\n")
	sb.WriteString("背景：" + orNone(sc.Screenplay.Background) + "\n\n")

	sb.WriteString("【当前场景】\n")
	sb.WriteString(fmt.Sprintf("ID：%s | 名称：%s\n", sc.Scene.ID, sc.Scene.Name))
	sb.WriteString("描述：" + orNone(sc.Scene.Description) + "\n")
	sb.WriteString(fmt.Sprintf("已持续 %d 轮对话\n", b.counters.DialogueLength))
	sb.WriteString(fmt.Sprintf("场景终止策略：%s\n\n", sc.Scene.TerminationStrategy))

	writeGoal(&sb, sc.Scene.Goal)

	sb.WriteString("【在场角色状态】\n")
	if len(sc.Present) == 0 {
		sb.WriteString(None + "\n")
	}
	for _, r := range sc.Present {
		sb.WriteString(fmt.Sprintf("%s - ID: %s\n", roleLine(r), r.ID))
		sb.WriteString("  - 情绪：" + b.emotionText(r.ID) + "\n")
		sb.WriteString("  - 当前信念：" + b.beliefText(r.ID) + "\n")
	}
	sb.WriteString("\n")

	sb.WriteString("【可入场角色】（不在当前场景中的角色）\n")
	offstage := sc.Offstage()
	if len(offstage) == 0 {
		sb.WriteString("无可用角色\n")
	}
	for _, r := range offstage {
		sb.WriteString(fmt.Sprintf("%s - ID: %s\n", roleLine(r), r.ID))
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("【最近对话流】（最近%d轮）\n", b.historyLimit))
	sb.WriteString(FormatDialogues(sc, sc.Window(b.historyLimit)) + "\n\n")

	sb.WriteString("【叙事统计】\n")
	sb.WriteString(fmt.Sprintf("- 连续纯对话轮数：%d\n", b.counters.ContinuousDialogueCount))
	sb.WriteString(fmt.Sprintf("- 上次 Narrator 描述：%d 轮前\n", b.counters.LastNarrationDistance))
	sb.WriteString(fmt.Sprintf("- 当前场景最大建议轮数：%d\n\n", b.maxSceneTurns))

	sb.WriteString("【节奏约束】\n" + RhythmConstraint(b.counters, b.rhythm) + "\n\n")

	candidates := b.candidates()
	sb.WriteString("【可用操作】\n")
	sb.WriteString("- next_speaker: role_id（从以下角色ID中选择：" + orNone(strings.Join(candidates, ", ")) + "）\n")
	if len(b.skipped) > 0 {
		sb.WriteString("- 本轮禁止发言：" + strings.Join(b.skippedNames(), ", ") + "\n")
	}
	sb.WriteString("- insert_narration: boolean\n")
	sb.WriteString("- suggest_scene_change: boolean（按场景终止策略判断）\n")
	sb.WriteString("- request_director_intervention: string 或 null\n")
	sb.WriteString("- role_enter: {role_id, entry_type: normal|quiet|dramatic|sudden}（从可入场角色中选择）或 null\n")
	sb.WriteString("- role_exit: {role_id}（从在场角色中选择）或 null\n\n")
	sb.WriteString("只输出 JSON 对象，不要任何其他文本。")

	return sb.String()
}

// RhythmConstraint states whether the next turn must carry narration.
func RhythmConstraint(c director.Counters, r director.Rhythm) string {
	if r.NarrationRequired(c) {
		return fmt.Sprintf("本轮必须插入旁白：insert_narration 必须为 true（连续纯对话 %d 轮，距上次旁白 %d 轮；阈值：连续对话 ≥%d 轮或距上次旁白 >%d 轮）。",
			c.ContinuousDialogueCount, c.LastNarrationDistance, r.AfterDialogues, r.MaxDistance)
	}
	return fmt.Sprintf("本轮无需强制旁白（连续对话 ≥%d 轮或距上次旁白 >%d 轮时必须插入旁白）。",
		r.AfterDialogues, r.MaxDistance)
}

func (b *DirectorBuilder) emotionText(roleID string) string {
	e, ok := b.emotions[roleID]
	if !ok {
		return fmt.Sprintf("%s(%d)", None, screenplay.DefaultIntensity)
	}
	return fmt.Sprintf("%s(%d)", orNone(e.EmotionType), e.Intensity)
}

func (b *DirectorBuilder) beliefText(roleID string) string {
	beliefs := b.beliefs[roleID]
	if len(beliefs) == 0 {
		return None
	}
	parts := make([]string, 0, len(beliefs))
	for _, belief := range beliefs {
		if !belief.IsActive {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s（%.2g）", belief.ID, belief.Content, belief.Confidence))
	}
	return orNone(strings.Join(parts, ", "))
}

func (b *DirectorBuilder) candidates() []string {
	var ids []string
	for _, r := range b.sc.Present {
		if !b.skipped[r.ID] {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (b *DirectorBuilder) skippedNames() []string {
	var names []string
	for _, r := range b.sc.Present {
		if b.skipped[r.ID] {
			names = append(names, fmt.Sprintf("%s（%s）", r.Name, r.ID))
		}
	}
	return names
}
