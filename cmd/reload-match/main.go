// Command reload-match shows which files a reload configuration watches.
//
// With no arguments it lists every watched file under the project root.
// With arguments it reports, for each path, whether a change to it would
// trigger a rebuild.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/billie-coop/reload/internal/config"
	"github.com/billie-coop/reload/internal/watcher"
)

type verdict struct {
	Path    string `json:"path"`
	Watched bool   `json:"watched"`
	Reason  string `json:"reason,omitempty"`
}

func main() {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	mgr := config.NewManager(wd)
	if p := os.Getenv("RELOAD_CONFIG"); p != "" {
		mgr = config.NewManagerWithPath(wd, p)
	}
	if err := mgr.Load(); err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		log.Fatal(err)
	}
	cfg := mgr.Get()

	m, err := watcher.NewMatcher(cfg.Build.Include, cfg.Build.Exclude)
	if err != nil {
		log.Fatal(err)
	}

	// If we have arguments, check them
	if len(os.Args) > 1 {
		var out []verdict
		for _, arg := range os.Args[1:] {
			out = append(out, check(cfg.Root, m, arg))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatal(err)
		}
		return
	}

	// Otherwise, list everything that is watched
	files, err := m.Scan(cfg.Root)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Root:    %s\n", cfg.Root)
	fmt.Printf("Config:  %s\n", mgr.Path())
	fmt.Printf("Include: %v\n", cfg.Build.Include)
	fmt.Printf("Exclude: %v\n", cfg.Build.Exclude)
	fmt.Println("─────────")
	for _, f := range files {
		fmt.Println(f)
	}
	fmt.Printf("─────────\n%d files watched\n", len(files))
	if len(files) == 0 {
		os.Exit(1)
	}
}

func check(root string, m *watcher.Matcher, arg string) verdict {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return verdict{Path: arg, Reason: err.Error()}
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return verdict{Path: arg, Reason: "outside the project root"}
	}
	rel = filepath.ToSlash(rel)

	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if m.SkipDir(dir) {
			return verdict{Path: rel, Reason: "directory excluded"}
		}
	}
	if !m.Match(rel) {
		return verdict{Path: rel, Reason: "not matched by include, or excluded"}
	}
	return verdict{Path: rel, Watched: true}
}
