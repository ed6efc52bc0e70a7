package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/screenplay-engine/pkg/chat"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// RoleBuilder constructs the request a character answers with tool calls.
type RoleBuilder struct {
	sc           *screenplay.SceneContext
	role         *screenplay.Role
	emotion      *screenplay.RoleEmotion
	beliefs      []screenplay.RoleBelief
	clues        []screenplay.RoleLatentClue
	historyLimit int
}

func NewRole() *RoleBuilder {
	return &RoleBuilder{historyLimit: DefaultHistoryLimit}
}

func (b *RoleBuilder) WithScene(sc *screenplay.SceneContext) *RoleBuilder {
	b.sc = sc
	return b
}

func (b *RoleBuilder) WithRole(r screenplay.Role) *RoleBuilder {
	b.role = &r
	return b
}

// WithState sets the role's own emotion, active beliefs and active clues.
func (b *RoleBuilder) WithState(emotion *screenplay.RoleEmotion, beliefs []screenplay.RoleBelief, clues []screenplay.RoleLatentClue) *RoleBuilder {
	b.emotion = emotion
	b.beliefs = beliefs
	b.clues = clues
	return b
}

func (b *RoleBuilder) WithHistoryLimit(limit int) *RoleBuilder {
	if limit > 0 {
		b.historyLimit = limit
	}
	return b
}

func (b *RoleBuilder) Build() ([]chat.ChatMessage, error) {
	if err := requireScene(b.sc); err != nil {
		return nil, err
	}
	if b.role == nil {
		return nil, fmt.Errorf("role is required")
	}
	r := b.role

	var sb strings.Builder
	sb.WriteString("【角色身份】\n")
	sb.WriteString("姓名：" + r.Name + "\n")
	sb.WriteString("身份：" + orNone(r.Identity) + "\n")
	sb.WriteString("性格：" + orNone(r.Personality) + "\n")
	sb.WriteString("秘密：" + orNone(r.SecretInfo) + "\n\n")

	sb.WriteString("【剧本背景】\n" + orNone(b.sc.Screenplay.Background) + "\n\n")
	sb.WriteString("【当前场景】\n")
	sb.WriteString("地点：" + b.sc.Scene.Name + "\n")
	sb.WriteString("描述：" + orNone(b.sc.Scene.Description) + "\n\n")
	writeGoal(&sb, b.sc.Scene.Goal)

	sb.WriteString("【你的当前状态】\n")
	if b.emotion != nil {
		sb.WriteString(fmt.Sprintf("- 情绪：%s（强度：%d/100）\n", orNone(b.emotion.EmotionType), b.emotion.Intensity))
	} else {
		sb.WriteString(fmt.Sprintf("- 情绪：平静（强度：%d/100）\n", screenplay.DefaultIntensity))
	}
	sb.WriteString("- 主观推断（[id] 内容）：\n")
	if len(b.beliefs) == 0 {
		sb.WriteString("  " + None + "\n")
	}
	for _, belief := range b.beliefs {
		sb.WriteString(fmt.Sprintf("  - [%s] %s（置信度 %.2g）\n", belief.ID, belief.Content, belief.Confidence))
	}
	sb.WriteString("- 潜在线索（[id] 内容）：\n")
	if len(b.clues) == 0 {
		sb.WriteString("  " + None + "\n")
	}
	for _, clue := range b.clues {
		sb.WriteString(fmt.Sprintf("  - [%s] %s\n", clue.ID, clue.Content))
	}
	sb.WriteString("\n")

	sb.WriteString("【在场角色】\n")
	for _, p := range b.sc.Present {
		if p.ID != r.ID {
			sb.WriteString(roleLine(p) + "\n")
		}
	}
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("【最近对话流】（最近%d轮，按时间顺序）\n", b.historyLimit))
	sb.WriteString(FormatDialogues(b.sc, b.sc.Window(b.historyLimit)) + "\n\n")
	sb.WriteString("请根据以上信息，决定调用哪些工具。")

	lengthHint := ""
	if r.MaxResponseLength > 0 {
		lengthHint = fmt.Sprintf("\n- 对话长度控制在 %d～%d 字", r.MinResponseLength, r.MaxResponseLength)
	}

	return []chat.ChatMessage{
		{Role: chat.ChatRoleSystem, Content: RoleSystemPrompt + lengthHint},
		{Role: chat.ChatRoleUser, Content: sb.String()},
	}, nil
}
