package orchestrator

import (
	"log/slog"

	"github.com/jwebster45206/screenplay-engine/internal/agents"
	"github.com/jwebster45206/screenplay-engine/internal/config"
	"github.com/jwebster45206/screenplay-engine/internal/instructions"
	"github.com/jwebster45206/screenplay-engine/internal/ledger"
	"github.com/jwebster45206/screenplay-engine/internal/services"
	"github.com/jwebster45206/screenplay-engine/internal/sidestate"
	"github.com/jwebster45206/screenplay-engine/internal/storage"
)

// Engine is the fully wired turn engine shared by the API and the worker.
type Engine struct {
	Ledger       *ledger.Ledger
	Trackers     *sidestate.Trackers
	Narrator     *agents.Narrator
	Role         *agents.Role
	Director     *agents.Director
	Instructions *instructions.Processor
	Orchestrator *Orchestrator
}

// Wire builds every engine component on top of store and llm.
func Wire(store storage.Store, llm services.LLMService, cfg config.Engine, logger *slog.Logger) *Engine {
	settings := SettingsFromConfig(cfg)
	opts := agents.Options{HistoryLimit: cfg.RecentWindow}

	l := ledger.New(store, logger)
	trackers := sidestate.New(store, logger)
	narr := agents.NewNarrator(llm, l, opts, logger)
	role := agents.NewRole(llm, l, trackers, narr, opts, logger)
	dir := agents.NewDirector(llm, settings.Rhythm, opts, logger)
	proc := instructions.New(store, l, trackers, narr, role, logger)

	return &Engine{
		Ledger:       l,
		Trackers:     trackers,
		Narrator:     narr,
		Role:         role,
		Director:     dir,
		Instructions: proc,
		Orchestrator: New(Deps{
			Store:        store,
			Ledger:       l,
			Trackers:     trackers,
			Director:     dir,
			Narrator:     narr,
			Role:         role,
			Instructions: proc,
		}, settings, logger),
	}
}
