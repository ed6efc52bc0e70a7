// Package narrator defines the closed set of narration tasks and their style templates.
package narrator

import (
	"fmt"
	"sort"
)

// Task selects the style template used for one narrator insertion.
type Task string

const (
	TaskDescribeAction    Task = "describe_action"
	TaskDescribeScene     Task = "describe_scene"
	TaskInsertAtmosphere  Task = "insert_atmosphere"
	TaskHeightenTension   Task = "heighten_tension"
	TaskDescribeRoleEntry Task = "describe_role_entry"
	TaskPolishPlot        Task = "polish_plot"
)

// Template is the fixed instruction block for a task plus its target length in characters.
type Template struct {
	Instructions string
	MinChars     int
	MaxChars     int
}

var templates = map[Task]Template{
	TaskDescribeAction: {
		Instructions: `请将以下角色的动作转化为文学化描写：
- 聚焦该角色的肢体、微表情、与物品的互动
- 暗示其情绪，但不说破
- 一句或两句`,
		MinChars: 50, MaxChars: 80,
	},
	TaskDescribeScene: {
		Instructions: `请描写新场景的环境氛围：
- 包含地点、时间、天气、光影、声音
- 建立整体情绪基调（压抑/紧张/诡异等）`,
		MinChars: 80, MaxChars: 120,
	},
	TaskInsertAtmosphere: {
		Instructions: `当前已有多轮对话，请插入一段氛围描写：
- 描写全场沉默、空气凝固感、多人微反应
- 可提及环境如何呼应情绪（如钟表滴答、风声）`,
		MinChars: 60, MaxChars: 100,
	},
	TaskHeightenTension: {
		Instructions: `刚刚发生激烈对话，请强化戏剧张力：
- 描写对峙双方的肢体语言对比
- 加入一个象征性细节（如打翻的水杯、闪烁的灯）`,
		MinChars: 70, MaxChars: 100,
	},
	TaskDescribeRoleEntry: {
		Instructions: `有角色刚刚进入场景，请描写其入场：
- 按入场方式描写其出现的动作与节奏
- 写出在场其他人的第一反应
- 不要替该角色说话`,
		MinChars: 50, MaxChars: 90,
	},
	TaskPolishPlot: {
		Instructions: `刚刚发生了一个剧情事件，请将其润色为文学化的叙述：
- 描写事件发生的瞬间与现场细节
- 强调与事件相关的关键物品或声音
- 不要替任何角色说话`,
		MinChars: 60, MaxChars: 100,
	},
}

// Valid reports whether t is one of the known tasks.
func (t Task) Valid() bool {
	_, ok := templates[t]
	return ok
}

// ParseTask rejects unknown task names.
func ParseTask(s string) (Task, error) {
	t := Task(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown narrator task: %q", s)
	}
	return t, nil
}

// TemplateFor returns the template of a known task.
func TemplateFor(t Task) (Template, error) {
	tmpl, ok := templates[t]
	if !ok {
		return Template{}, fmt.Errorf("unknown narrator task: %q", t)
	}
	return tmpl, nil
}

// Prompt renders the instructions with the length bound appended.
func (t Template) Prompt() string {
	return fmt.Sprintf("%s\n- %d～%d字", t.Instructions, t.MinChars, t.MaxChars)
}

// Tasks lists the known tasks in name order.
func Tasks() []Task {
	out := make([]Task, 0, len(templates))
	for t := range templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
