// Package director holds the director's per-turn decision and its decoder.
package director

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

// FallbackReason is the intervention reason used when a decision cannot be decoded.
const FallbackReason = "解析决策失败，请人工介入"

// RoleEnter asks the engine to admit an off-stage role.
type RoleEnter struct {
	RoleID    string               `json:"role_id"`
	EntryType screenplay.EntryType `json:"entry_type"`
}

// RoleExit asks the engine to retract an on-stage role.
type RoleExit struct {
	RoleID string `json:"role_id"`
}

// Decision is the director's output for one turn. Empty strings encode as null.
type Decision struct {
	NextSpeaker                 string     `json:"next_speaker"`
	InsertNarration             bool       `json:"insert_narration"`
	SuggestSceneChange          bool       `json:"suggest_scene_change"`
	RequestDirectorIntervention string     `json:"request_director_intervention"`
	RoleEnter                   *RoleEnter `json:"role_enter"`
	RoleExit                    *RoleExit  `json:"role_exit"`
}

// Fallback is returned in place of an undecodable decision.
func Fallback() Decision {
	return Decision{RequestDirectorIntervention: FallbackReason}
}

// NeedsIntervention reports whether the director escalated to a human.
func (d Decision) NeedsIntervention() bool {
	return strings.TrimSpace(d.RequestDirectorIntervention) != ""
}

// IsFallback reports whether d is the decode-failure value.
func (d Decision) IsFallback() bool {
	return d.RequestDirectorIntervention == FallbackReason && d.NextSpeaker == "" &&
		!d.InsertNarration && !d.SuggestSceneChange && d.RoleEnter == nil && d.RoleExit == nil
}

type wireDecision struct {
	NextSpeaker                 *string    `json:"next_speaker"`
	InsertNarration             *bool      `json:"insert_narration"`
	SuggestSceneChange          *bool      `json:"suggest_scene_change"`
	RequestDirectorIntervention *string    `json:"request_director_intervention"`
	RoleEnter                   *RoleEnter `json:"role_enter"`
	RoleExit                    *RoleExit  `json:"role_exit"`
}

func (d Decision) MarshalJSON() ([]byte, error) {
	w := wireDecision{
		InsertNarration:    &d.InsertNarration,
		SuggestSceneChange: &d.SuggestSceneChange,
		RoleEnter:          d.RoleEnter,
		RoleExit:           d.RoleExit,
	}
	if d.NextSpeaker != "" {
		w.NextSpeaker = &d.NextSpeaker
	}
	if d.RequestDirectorIntervention != "" {
		w.RequestDirectorIntervention = &d.RequestDirectorIntervention
	}
	return json.Marshal(w)
}

// requiredKeys must all be present in a decoded decision; the two string
// fields may be null, the two flags must be booleans.
var requiredKeys = []string{"next_speaker", "insert_narration", "suggest_scene_change", "request_director_intervention"}

var optionalKeys = map[string]bool{"role_enter": true, "role_exit": true}

// Decode parses raw completion text into a Decision. It accepts a JSON object,
// optionally wrapped in a markdown code fence, carrying all four decision keys
// and nothing besides role_enter and role_exit. Anything else is rejected.
func Decode(raw string) (Decision, error) {
	body := bytes.TrimSpace([]byte(stripFence(raw)))
	if len(body) == 0 || body[0] != '{' {
		return Decision{}, fmt.Errorf("decision is not a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	for key := range fields {
		if !optionalKeys[key] && !slices.Contains(requiredKeys, key) {
			return Decision{}, fmt.Errorf("unknown decision key %q", key)
		}
	}
	for _, key := range requiredKeys {
		if _, ok := fields[key]; !ok {
			return Decision{}, fmt.Errorf("decision missing %q", key)
		}
	}

	var d Decision
	var err error
	if d.NextSpeaker, err = decodeNullableString(fields, "next_speaker"); err != nil {
		return Decision{}, err
	}
	if d.RequestDirectorIntervention, err = decodeNullableString(fields, "request_director_intervention"); err != nil {
		return Decision{}, err
	}
	if d.InsertNarration, err = decodeBool(fields, "insert_narration"); err != nil {
		return Decision{}, err
	}
	if d.SuggestSceneChange, err = decodeBool(fields, "suggest_scene_change"); err != nil {
		return Decision{}, err
	}

	if raw, ok := fields["role_enter"]; ok {
		var enter *RoleEnter
		if err := json.Unmarshal(raw, &enter); err != nil {
			return Decision{}, fmt.Errorf("decode role_enter: %w", err)
		}
		if enter != nil && enter.RoleID != "" {
			if enter.EntryType == "" {
				enter.EntryType = screenplay.EntryNormal
			}
			if !enter.EntryType.Valid() {
				return Decision{}, fmt.Errorf("unknown entry_type %q", enter.EntryType)
			}
			d.RoleEnter = enter
		}
	}
	if raw, ok := fields["role_exit"]; ok {
		var exit *RoleExit
		if err := json.Unmarshal(raw, &exit); err != nil {
			return Decision{}, fmt.Errorf("decode role_exit: %w", err)
		}
		if exit != nil && exit.RoleID != "" {
			d.RoleExit = exit
		}
	}
	return d, nil
}

func decodeNullableString(fields map[string]json.RawMessage, key string) (string, error) {
	var v *string
	if err := json.Unmarshal(fields[key], &v); err != nil {
		return "", fmt.Errorf("decode %s: %w", key, err)
	}
	if v == nil {
		return "", nil
	}
	return strings.TrimSpace(*v), nil
}

func decodeBool(fields map[string]json.RawMessage, key string) (bool, error) {
	var v *bool
	if err := json.Unmarshal(fields[key], &v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	if v == nil {
		return false, fmt.Errorf("%s must be a boolean, got null", key)
	}
	return *v, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// Counters are the rhythm counters the caller tracks across turns.
type Counters struct {
	DialogueLength          int `json:"dialogue_length"`
	ContinuousDialogueCount int `json:"continuous_dialogue_count"`
	LastNarrationDistance   int `json:"last_narration_distance"`
}

// Rhythm holds the thresholds at which narration becomes mandatory.
type Rhythm struct {
	AfterDialogues int // narration required once ContinuousDialogueCount >= AfterDialogues
	MaxDistance    int // narration required once LastNarrationDistance > MaxDistance
}

// DefaultRhythm requires narration after 3 straight dialogues or 4 turns without narration.
var DefaultRhythm = Rhythm{AfterDialogues: 3, MaxDistance: 4}

// NarrationRequired reports whether the rhythm rule forces narration.
func (r Rhythm) NarrationRequired(c Counters) bool {
	return c.ContinuousDialogueCount >= r.AfterDialogues || c.LastNarrationDistance > r.MaxDistance
}
