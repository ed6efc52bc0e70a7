package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

type ConsoleConfig struct {
	APIBaseURL string
	Timeout    time.Duration
}

func main() {
	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		Timeout:    30 * time.Second,
	}

	api := &apiClient{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.APIBaseURL,
	}

	if !api.testConnection() {
		fmt.Fprintf(os.Stderr, "Could not connect to API. Please ensure the API is running.\nTry: docker-compose up -d\n")
		os.Exit(1)
	}

	screenplays, err := api.listScreenplays()
	if err != nil || len(screenplays) == 0 {
		fmt.Fprintf(os.Stderr, "Failed to list screenplays: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Available Screenplays:")
	for i, sp := range screenplays {
		fmt.Printf("  %d - %s\n", i+1, sp.Title)
	}
	sp := screenplays[choose(len(screenplays))-1]

	scenes, err := api.listScenes(sp.ID)
	if err != nil || len(scenes) == 0 {
		fmt.Fprintf(os.Stderr, "Failed to list scenes: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nScenes:")
	for i, sc := range scenes {
		fmt.Printf("  %d - %s\n", i+1, sc.Name)
	}
	scene := scenes[choose(len(scenes))-1]

	cast, err := api.listRoles(sp.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load roles: %v\n", err)
		os.Exit(1)
	}

	ui := NewConsoleUI(api, sp, scene, cast)
	p := tea.NewProgram(ui,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
	ui.stop()
}

// choose reads a 1-based selection from stdin and exits on invalid input.
func choose(n int) int {
	fmt.Print("\nSelect by number: ")
	var choice int
	if _, err := fmt.Scanf("%d\n", &choice); err != nil || choice < 1 || choice > n {
		fmt.Fprintf(os.Stderr, "Invalid selection\n")
		os.Exit(1)
	}
	return choice
}

func sceneRefOf(sp screenplay.Screenplay, sc screenplay.Scene) screenplay.SceneRef {
	return screenplay.SceneRef{ScreenplayID: sp.ID, SceneID: sc.ID}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
