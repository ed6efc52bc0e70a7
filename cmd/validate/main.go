package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwebster45206/screenplay-engine/internal/storage"
	"github.com/jwebster45206/screenplay-engine/internal/storage/sqlite"
	"github.com/jwebster45206/screenplay-engine/pkg/screenplay"
)

func main() {
	importTo := flag.String("import", "", "import the screenplay into this SQLite database after validating it")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-import db_path] <screenplay.json>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	filename := flag.Arg(0)
	seed, err := validateFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Screenplay file is valid!")

	if *importTo == "" {
		return
	}
	id, err := importSeed(context.Background(), *importTo, seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported screenplay %s into %s\n", id, *importTo)
}

func validateFile(filename string) (*screenplay.Seed, error) {
	fmt.Printf("Validating %s...\n", filename)

	if filepath.Ext(filename) != ".json" {
		return nil, fmt.Errorf("screenplay file must have .json extension: %s", filepath.Base(filename))
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("file %s contains invalid JSON", filename)
	}

	var seed screenplay.Seed
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("file %s failed strict JSON unmarshaling: %w", filename, err)
	}

	if problems := seed.Problems(); len(problems) > 0 {
		return nil, fmt.Errorf("validation errors in %s:\n  - %s", filename, strings.Join(problems, "\n  - "))
	}
	return &seed, nil
}

// importSeed writes the screenplay, its cast, and every chapter and scene in
// file order, so indexes follow the file.
func importSeed(ctx context.Context, dbPath string, seed *screenplay.Seed) (string, error) {
	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return "", err
	}
	defer store.Close()

	var s storage.Store = store
	sp := screenplay.Screenplay{Title: seed.Title, Background: seed.Background, Tags: seed.Tags}
	if err := s.CreateScreenplay(ctx, &sp); err != nil {
		return "", fmt.Errorf("create screenplay: %w", err)
	}
	for _, r := range seed.Roles {
		role := r.Role(sp.ID)
		if err := s.CreateRole(ctx, &role); err != nil {
			return "", fmt.Errorf("create role %s: %w", r.Name, err)
		}
	}
	for i := range seed.Chapters {
		sc := &seed.Chapters[i]
		ch := screenplay.Chapter{
			ScreenplayID: sp.ID,
			Title:        sc.Title,
			Description:  sc.Description,
			Goal:         sc.Goal,
		}
		if err := s.CreateChapter(ctx, &ch); err != nil {
			return "", fmt.Errorf("create chapter %s: %w", sc.Title, err)
		}
		for j, scene := range sc.Scenes {
			row := screenplay.Scene{
				ScreenplayID: sp.ID,
				ChapterID:    ch.ID,
				Name:         scene.Name,
				Description:  scene.Description,
				Goal:         sc.SceneGoal(j),
			}
			if err := s.CreateScene(ctx, &row); err != nil {
				return "", fmt.Errorf("create scene %s: %w", scene.Name, err)
			}
		}
	}
	return sp.ID, nil
}
