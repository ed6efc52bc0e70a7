package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/screenplay-engine/pkg/chat"
	"github.com/jwebster45206/screenplay-engine/pkg/narrator"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// NarratorBuilder constructs a narration request for one task.
type NarratorBuilder struct {
	sc           *screenplay.SceneContext
	role         *screenplay.Role
	roles        []screenplay.Role
	task         narrator.Task
	trigger      string
	historyLimit int
}

func NewNarrator() *NarratorBuilder {
	return &NarratorBuilder{historyLimit: DefaultHistoryLimit}
}

func (b *NarratorBuilder) WithScene(sc *screenplay.SceneContext) *NarratorBuilder {
	b.sc = sc
	return b
}

func (b *NarratorBuilder) WithNarrator(r screenplay.Role) *NarratorBuilder {
	b.role = &r
	return b
}

// WithRoles overrides the roles listed as present. Defaults to the scene's present roles.
func (b *NarratorBuilder) WithRoles(roles []screenplay.Role) *NarratorBuilder {
	b.roles = roles
	return b
}

func (b *NarratorBuilder) WithTask(task narrator.Task, triggerReason string) *NarratorBuilder {
	b.task = task
	b.trigger = triggerReason
	return b
}

func (b *NarratorBuilder) WithHistoryLimit(limit int) *NarratorBuilder {
	if limit > 0 {
		b.historyLimit = limit
	}
	return b
}

func (b *NarratorBuilder) Build() ([]chat.ChatMessage, error) {
	if err := requireScene(b.sc); err != nil {
		return nil, err
	}
	if b.role == nil {
		return nil, fmt.Errorf("narrator role is required")
	}
	tmpl, err := narrator.TemplateFor(b.task)
	if err != nil {
		return nil, err
	}

	system := NarratorRules
	if p := strings.TrimSpace(b.role.Personality); p != "" {
		system = p + "\n\n" + system
	}

	roles := b.roles
	if roles == nil {
		roles = b.sc.Present
	}
	roleLines := make([]string, 0, len(roles))
	for _, r := range roles {
		roleLines = append(roleLines, roleLine(r))
	}

	var sb strings.Builder
	sb.WriteString(tmpl.Prompt() + "\n\n")
	sb.WriteString("【剧本背景】\n" + orNone(b.sc.Screenplay.Background) + "\n\n")
	sb.WriteString("【当前场景】\n")
	sb.WriteString("地点：" + b.sc.Scene.Name + "\n")
	sb.WriteString("描述：" + orNone(b.sc.Scene.Description) + "\n\n")
	sb.WriteString("【在场角色】\n")
	if len(roleLines) == 0 {
		sb.WriteString(None)
	}
	sb.WriteString(strings.Join(roleLines, "\n") + "\n\n")
	sb.WriteString(fmt.Sprintf("【最近对话】（最近%d轮）\n", b.historyLimit))
	sb.WriteString(FormatDialogues(b.sc, b.sc.Window(b.historyLimit)) + "\n\n")
	sb.WriteString("【当前叙事需求】\n" + orNone(b.trigger))

	return []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: system},
		{Role: chat.ChatRoleUser, Content: sb.String()},
	}, nil
}
