package prompts

import "github.com/jwebster45206/screenplay-engine/pkg/chat"

// Role tool names.
const (
	ToolSpeak             = "speak"
	ToolPerformAction     = "perform_action"
	ToolUpdateEmotion     = "update_emotion"
	ToolAddBelief         = "add_belief"
	ToolRetractBelief     = "retract_belief"
	ToolAddLatentClue     = "add_latent_clue"
	ToolRetractLatentClue = "retract_latent_clue"
)

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// RoleTools returns the seven tools a character acts through.
func RoleTools() []chat.ToolDefinition {
	return []chat.ToolDefinition{
		{
			Name:        ToolSpeak,
			Description: "角色说出一句对话。如果角色选择沉默，传入空字符串。",
			Parameters: objectSchema([]string{"text"}, map[string]any{
				"text": prop("string", "对话内容，可以为空字符串表示沉默"),
			}),
		},
		{
			Name:        ToolPerformAction,
			Description: "角色执行一个动作或神态。传入简单的动作描述，后续会被润色。",
			Parameters: objectSchema([]string{"raw_action"}, map[string]any{
				"raw_action": prop("string", "原始动作描述，如'手伸向口袋'、'皱眉'、'看向窗外'"),
			}),
		},
		{
			Name:        ToolUpdateEmotion,
			Description: "调整角色的当前情绪强度和情绪类型。",
			Parameters: objectSchema([]string{"intensity"}, map[string]any{
				"intensity":    prop("integer", "情绪强度，1-100的整数"),
				"emotion_type": prop("string", "情绪类型，如'愤怒'、'悲伤'、'平静'等"),
			}),
		},
		{
			Name:        ToolAddBelief,
			Description: "角色新增一个主观推断。",
			Parameters: objectSchema([]string{"content", "confidence"}, map[string]any{
				"content":    prop("string", "推断的内容描述"),
				"confidence": prop("number", "置信度，0-1之间的小数"),
			}),
		},
		{
			Name:        ToolRetractBelief,
			Description: "撤回角色的某条主观推断。",
			Parameters: objectSchema([]string{"id"}, map[string]any{
				"id": prop("string", "要撤回的主观推断的ID"),
			}),
		},
		{
			Name:        ToolAddLatentClue,
			Description: "角色注意到并记录一个潜在线索。",
			Parameters: objectSchema([]string{"content"}, map[string]any{
				"content": prop("string", "线索的内容描述"),
			}),
		},
		{
			Name:        ToolRetractLatentClue,
			Description: "解决或废弃某条潜在线索。",
			Parameters: objectSchema([]string{"id", "status"}, map[string]any{
				"id": prop("string", "线索的ID"),
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"resolved", "discarded"},
					"description": "resolved表示已解决，discarded表示废弃",
				},
			}),
		},
	}
}
