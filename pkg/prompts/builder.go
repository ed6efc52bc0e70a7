package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// DefaultHistoryLimit is the recent-dialogue window used when none is set.
const DefaultHistoryLimit = 10

// FormatDialogue renders one ledger line as "[name] (action)dialogue".
func FormatDialogue(sc *screenplay.SceneContext, d screenplay.Dialogue) string {
	var speaker string
	switch d.Type {
	case screenplay.DialogueTypeNarrator:
		speaker = "旁白"
	case screenplay.DialogueTypeEvent:
		speaker = "事件"
	case screenplay.DialogueTypeSystem:
		speaker = "系统"
	default:
		speaker = sc.RoleName(d.RoleID)
	}

	var sb strings.Builder
	sb.WriteString("[" + speaker + "] ")
	if d.Action != "" {
		sb.WriteString("(" + d.Action + ")")
	}
	sb.WriteString(d.Text)
	return sb.String()
}

// FormatDialogues renders the window of dialogues one per line.
func FormatDialogues(sc *screenplay.SceneContext, dialogues []screenplay.Dialogue) string {
	if len(dialogues) == 0 {
		return None
	}
	lines := make([]string, 0, len(dialogues))
	for _, d := range dialogues {
		lines = append(lines, FormatDialogue(sc, d))
	}
	return strings.Join(lines, "\n")
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return None
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return None
	}
	return s
}

func roleLine(r screenplay.Role) string {
	return fmt.Sprintf("- %s（%s）", r.Name, orNone(r.Identity))
}

// writeGoal renders the scene goal sections shared by director and role prompts.
func writeGoal(sb *strings.Builder, goal screenplay.Goal) {
	sb.WriteString("【场景目标】\n" + orNone(goal.NarrativeGoal) + "\n\n")
	sb.WriteString("【关键线索】（必须在此场景揭露）\n" + bulletList(goal.KeyClues) + "\n\n")
	sb.WriteString("【必须发生的坦白/冲突】\n" + bulletList(goal.RequiredRevelations) + "\n\n")
}

func requireScene(sc *screenplay.SceneContext) error {
	if sc == nil {
		return fmt.Errorf("scene context is required")
	}
	if sc.Scene.ID == "" {
		return fmt.Errorf("scene is required")
	}
	return nil
}
