package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/screenplay-engine/internal/orchestrator"
	"github.com/jwebster45206/screenplay-engine/pkg/director"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

const PlaceHolderText = "Enter plays the next turn, /help lists commands..."

// line is one rendered row of the transcript.
type line struct {
	speaker string
	text    string
	kind    screenplay.DialogueType
	notice  bool
	isError bool
}

// ConsoleUI is the BubbleTea model that watches a scene and drives its turns.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	api        *apiClient
	screenplay screenplay.Screenplay
	scene      screenplay.Scene
	cast       []screenplay.Role
	onStage    []screenplay.RoleAppearance
	session    *orchestrator.Session
	lastPlan   *director.Decision

	transcript   []line
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	busy         bool
	progressTick int

	showQuitModal bool

	events chan SSEEvent
	cancel context.CancelFunc
}

type dialoguesLoadedMsg struct {
	dialogues []screenplay.Dialogue
	err       error
}

type sceneStateMsg struct {
	session *orchestrator.Session
	onStage []screenplay.RoleAppearance
	err     error
}

type sseMsg SSEEvent

type sseClosedMsg struct{ err error }

type commandDoneMsg struct {
	notice string
	err    error
	// queued is set when the command started a worker request.
	queued bool
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingLeft(3)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(1).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")). // green
			Italic(true)

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)
)

func NewConsoleUI(api *apiClient, sp screenplay.Screenplay, scene screenplay.Scene, cast []screenplay.Role) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(2)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	ctx, cancel := context.WithCancel(context.Background())
	ui := ConsoleUI{
		api:          api,
		screenplay:   sp,
		scene:        scene,
		cast:         cast,
		chatViewport: chatVp,
		metaViewport: viewport.New(20, 20),
		textarea:     ta,
		events:       make(chan SSEEvent, 32),
		cancel:       cancel,
	}
	go func() {
		err := api.listenToSSE(ctx, scene.ID, ui.events)
		if ctx.Err() == nil {
			ui.events <- SSEEvent{Type: "stream.closed", Data: map[string]any{"error": fmt.Sprint(err)}}
		}
	}()
	return ui
}

func (m ConsoleUI) stop() {
	m.cancel()
}

func (m ConsoleUI) ref() screenplay.SceneRef {
	return sceneRefOf(m.screenplay, m.scene)
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.loadDialogues(), m.loadSceneState(), m.waitForEvent())
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		return m, vpCmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chatWidth := int(float64(m.width)*0.7) - 4
		metaWidth := m.width - chatWidth - 6

		m.chatViewport.Width = chatWidth - 2
		m.chatViewport.Height = m.height - 6
		m.metaViewport.Width = metaWidth - 2
		m.metaViewport.Height = m.height - 2
		m.textarea.SetWidth(chatWidth - 4)
		m.ready = true
		m.writeChatContent()
		m.metaViewport.SetContent(m.writeMetadata())

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				input = "/next"
			}
			return m.handleCommand(input)
		}

	case dialoguesLoadedMsg:
		if msg.err != nil {
			m.addError(msg.err)
			break
		}
		m.transcript = nil
		for _, d := range msg.dialogues {
			m.transcript = append(m.transcript, m.dialogueLine(d, ""))
		}
		m.writeChatContent()

	case sceneStateMsg:
		if msg.err != nil {
			m.addError(msg.err)
			break
		}
		m.session = msg.session
		m.onStage = msg.onStage
		m.metaViewport.SetContent(m.writeMetadata())

	case sseMsg:
		cmd := m.handleEvent(SSEEvent(msg))
		return m, tea.Batch(cmd, m.waitForEvent())

	case commandDoneMsg:
		if msg.err != nil {
			m.busy = false
			m.addError(msg.err)
			break
		}
		if msg.notice != "" {
			m.addNotice(msg.notice)
		}
		if msg.queued {
			return m, progressTick()
		}
		m.busy = false
		return m, m.loadSceneState()

	case progressTickMsg:
		if m.busy {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

// handleEvent folds one scene event into the transcript.
func (m *ConsoleUI) handleEvent(ev SSEEvent) tea.Cmd {
	switch ev.Type {
	case "dialogue.appended":
		var payload struct {
			Dialogue screenplay.Dialogue `json:"dialogue"`
			Speaker  string              `json:"speaker"`
		}
		if err := remarshal(ev.Data, &payload); err != nil {
			m.addError(err)
			return nil
		}
		m.transcript = append(m.transcript, m.dialogueLine(payload.Dialogue, payload.Speaker))
		m.writeChatContent()

	case "director.decision":
		var payload struct {
			Decision director.Decision `json:"decision"`
		}
		if err := remarshal(ev.Data, &payload); err == nil {
			m.lastPlan = &payload.Decision
			m.metaViewport.SetContent(m.writeMetadata())
		}

	case "request.processing":
		if !m.busy {
			m.busy = true
			return progressTick()
		}

	case "request.completed":
		m.busy = false
		m.writeChatContent()
		return m.loadSceneState()

	case "request.failed":
		m.busy = false
		m.addError(fmt.Errorf("turn failed: %v", ev.Data["error"]))
		return m.loadSceneState()

	case "scene.paused":
		m.addNotice(fmt.Sprintf("场景暂停：%v", ev.Data["reason"]))

	case "stream.closed":
		m.addError(fmt.Errorf("event stream closed: %v", ev.Data["error"]))
	}
	return nil
}

func (m ConsoleUI) dialogueLine(d screenplay.Dialogue, speaker string) line {
	if speaker == "" {
		switch d.Type {
		case screenplay.DialogueTypeNarrator:
			speaker = "旁白"
		case screenplay.DialogueTypeEvent:
			speaker = "事件"
		case screenplay.DialogueTypeSystem:
			speaker = "系统"
		default:
			speaker = m.roleName(d.RoleID)
		}
	}
	text := d.Text
	if d.Action != "" {
		text = "（" + d.Action + "）" + text
	}
	return line{speaker: speaker, text: text, kind: d.Type}
}

func (m *ConsoleUI) addNotice(text string) {
	m.transcript = append(m.transcript, line{text: text, notice: true})
	m.writeChatContent()
}

func (m *ConsoleUI) addError(err error) {
	m.transcript = append(m.transcript, line{text: "Error: " + err.Error(), notice: true, isError: true})
	m.writeChatContent()
}

// writeChatContent renders the transcript for the current viewport width.
func (m *ConsoleUI) writeChatContent() {
	width := m.chatViewport.Width - 6
	if width < 20 {
		width = 20
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render(m.screenplay.Title+" · "+m.scene.Name) + "\n\n")
	if m.scene.Description != "" {
		content.WriteString(promptStyle.Render(wordwrap.String(m.scene.Description, width)) + "\n")
	}
	content.WriteString(separatorStyle.Render(strings.Repeat("─", width)) + "\n\n")

	for _, l := range m.transcript {
		switch {
		case l.isError:
			content.WriteString(errorStyle.Render(wordwrap.String(l.text, width)))
		case l.notice:
			content.WriteString(noticeStyle.Render(wordwrap.String(l.text, width)))
		case l.kind == screenplay.DialogueTypeNarrator:
			content.WriteString(narratorStyle.Render(wordwrap.String(l.text, width)))
		case l.kind == screenplay.DialogueTypeEvent || l.kind == screenplay.DialogueTypeSystem:
			content.WriteString(eventStyle.Render("【" + l.speaker + "】" + wordwrap.String(l.text, width-6)))
		default:
			content.WriteString(speakerStyle.Render(l.speaker+"：") + wordwrap.String(l.text, width-len([]rune(l.speaker))-2))
		}
		content.WriteString("\n\n")
	}

	if m.busy {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func (m ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SCENE") + "\n\n")

	content.WriteString("Scene ID:\n")
	content.WriteString(shortID(m.scene.ID) + "\n\n")

	if m.scene.NarrativeGoal != "" {
		content.WriteString("Goal:\n")
		content.WriteString(wordwrap.String(m.scene.NarrativeGoal, max(m.metaViewport.Width, 10)) + "\n\n")
	}

	content.WriteString("On stage:\n")
	if len(m.onStage) == 0 {
		content.WriteString("Nobody\n")
	}
	for _, a := range m.onStage {
		content.WriteString(fmt.Sprintf("• %s (since %d)\n", m.roleName(a.RoleID), a.EnterTurn))
	}
	content.WriteString("\n")

	if m.session != nil {
		c := m.session.Counters
		content.WriteString("Counters:\n")
		content.WriteString(fmt.Sprintf("• turns: %d\n", c.DialogueLength))
		content.WriteString(fmt.Sprintf("• dialogue run: %d\n", c.ContinuousDialogueCount))
		content.WriteString(fmt.Sprintf("• since narration: %d\n", c.LastNarrationDistance))
		if m.session.Paused {
			content.WriteString(errorStyle.Render("Paused: "+m.session.PauseReason) + "\n")
		}
		content.WriteString("\n")
	}

	if m.lastPlan != nil {
		content.WriteString("Director:\n")
		if m.lastPlan.NextSpeaker != "" {
			content.WriteString("• next: " + m.roleName(m.lastPlan.NextSpeaker) + "\n")
		}
		content.WriteString(fmt.Sprintf("• narration: %t\n", m.lastPlan.InsertNarration))
		content.WriteString(fmt.Sprintf("• scene change: %t\n", m.lastPlan.SuggestSceneChange))
		content.WriteString("\n")
	}

	content.WriteString("Commands:\n")
	content.WriteString("• Enter: Next turn\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• Ctrl+C: Quit\n")
	return content.String()
}

const helpText = `Commands:
• /next - play one turn (same as Enter on an empty line)
• /auto N - auto-play up to N turns
• /admit NAME - bring a role on stage
• /slip NAME TEXT - force NAME's next line
• /reveal NAME ITEM - NAME discovers ITEM
• /event TEXT - an external event happens
• /skip NAME - NAME sits out the next speaker choice
• /emotion NAME EMOTION DELTA - shift NAME's emotion
• /copy - copy the transcript to the clipboard
• /help - show this help`

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	ref := m.ref()

	switch cmd {
	case "/help":
		m.addNotice(helpText)
		return m, nil

	case "/copy":
		if err := clipboard.WriteAll(m.plainTranscript()); err != nil {
			m.addError(fmt.Errorf("copy failed: %w", err))
		} else {
			m.addNotice("Transcript copied to clipboard.")
		}
		return m, nil

	case "/next", "/auto":
		if m.busy {
			return m, nil
		}
		turns := 0
		if cmd == "/auto" {
			n, err := strconv.Atoi(firstOr(args, "5"))
			if err != nil || n <= 0 {
				m.addError(fmt.Errorf("usage: /auto N"))
				return m, nil
			}
			turns = n
		}
		m.busy = true
		m.progressTick = 0
		return m, m.run(func() (string, error) {
			id, err := m.api.enqueueTurn(ref, turns)
			if err != nil {
				return "", err
			}
			return "Queued request " + shortID(id), nil
		}, true)

	case "/admit":
		role, err := m.lookupRole(args, 1)
		if err != nil {
			m.addError(err)
			return m, nil
		}
		return m, m.run(func() (string, error) {
			return role.Name + " 登场", m.api.admitRole(ref, role.ID)
		}, false)

	case "/slip", "/reveal", "/skip", "/emotion":
		return m, m.instruction(cmd, args)

	case "/event":
		if len(args) == 0 {
			m.addError(fmt.Errorf("usage: /event TEXT"))
			return m, nil
		}
		params := screenplay.ExternalEventParams{Description: strings.Join(args, " ")}
		return m, m.run(func() (string, error) {
			return "Instruction queued: external_event", m.api.issueInstruction(ref, screenplay.InstructionExternalEvent, params)
		}, false)
	}

	m.addError(fmt.Errorf("unknown command %s, try /help", cmd))
	return m, nil
}

// instruction issues one of the role-targeted director instructions.
func (m *ConsoleUI) instruction(cmd string, args []string) tea.Cmd {
	minArgs := map[string]int{"/slip": 2, "/reveal": 2, "/skip": 1, "/emotion": 3}[cmd]
	role, err := m.lookupRole(args, minArgs)
	if err != nil {
		m.addError(err)
		return nil
	}
	rest := strings.Join(args[1:], " ")

	var (
		kind   screenplay.InstructionKind
		params any
	)
	switch cmd {
	case "/slip":
		kind, params = screenplay.InstructionCharacterSlip, screenplay.CharacterSlipParams{TargetRoleID: role.ID, Content: rest}
	case "/reveal":
		kind, params = screenplay.InstructionRevealItem, screenplay.RevealItemParams{ItemDesc: rest, DiscovererID: role.ID}
	case "/skip":
		kind, params = screenplay.InstructionSkipTurn, screenplay.SkipTurnParams{RoleID: role.ID}
	case "/emotion":
		delta, err := strconv.Atoi(args[2])
		if err != nil {
			m.addError(fmt.Errorf("delta must be a number: %s", args[2]))
			return nil
		}
		kind, params = screenplay.InstructionTriggerEmotion, screenplay.TriggerEmotionParams{RoleID: role.ID, Emotion: args[1], Delta: delta}
	}

	ref := m.ref()
	return m.run(func() (string, error) {
		return "Instruction queued: " + string(kind), m.api.issueInstruction(ref, kind, params)
	}, false)
}

func (m ConsoleUI) lookupRole(args []string, minArgs int) (screenplay.Role, error) {
	if len(args) < minArgs || len(args) == 0 {
		return screenplay.Role{}, fmt.Errorf("missing arguments, try /help")
	}
	for _, r := range m.cast {
		if r.Name == args[0] {
			return r, nil
		}
	}
	return screenplay.Role{}, fmt.Errorf("no role named %s", args[0])
}

func (m ConsoleUI) roleName(id string) string {
	for _, r := range m.cast {
		if r.ID == id {
			return r.Name
		}
	}
	return shortID(id)
}

func (m ConsoleUI) plainTranscript() string {
	var b strings.Builder
	for _, l := range m.transcript {
		if l.notice {
			continue
		}
		if l.kind == screenplay.DialogueTypeNarrator {
			b.WriteString(l.text + "\n")
			continue
		}
		b.WriteString(l.speaker + "：" + l.text + "\n")
	}
	return b.String()
}

func (m ConsoleUI) run(fn func() (string, error), queued bool) tea.Cmd {
	return func() tea.Msg {
		notice, err := fn()
		return commandDoneMsg{notice: notice, err: err, queued: queued && err == nil}
	}
}

func (m ConsoleUI) loadDialogues() tea.Cmd {
	return func() tea.Msg {
		list, err := m.api.listDialogues(m.ref())
		return dialoguesLoadedMsg{dialogues: list, err: err}
	}
}

func (m ConsoleUI) loadSceneState() tea.Cmd {
	return func() tea.Msg {
		sess, err := m.api.getSession(m.ref())
		if err != nil {
			return sceneStateMsg{err: err}
		}
		onStage, err := m.api.listAppearances(m.ref())
		return sceneStateMsg{session: sess, onStage: onStage, err: err}
	}
}

func (m ConsoleUI) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return sseMsg(<-m.events)
	}
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}
	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Queued turns keep playing on the workers.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.7) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 2).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 1))),
			m.textarea.View(),
		),
	)
	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(m.metaViewport.View())

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar while a turn is playing
func (m ConsoleUI) renderProgressBar() string {
	usable := min(max(m.chatViewport.Width-6, 10), 80)

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		switch {
		case i < filled:
			bar.WriteString("█")
		case i == filled && frame%4 < 2:
			bar.WriteString("▓")
		default:
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}

// remarshal converts a decoded JSON map into a typed value.
func remarshal(in map[string]any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstOr(args []string, def string) string {
	if len(args) == 0 {
		return def
	}
	return args[0]
}
