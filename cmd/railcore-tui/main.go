// Command railcore-tui runs a scenario in-process and shows the dispatch
// core's trains, claims, queues and deadlock locks as it steps.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-dispatch/pkg/config"
	"github.com/dd0wney/cluso-dispatch/pkg/dispatch"
	"github.com/dd0wney/cluso-dispatch/pkg/logging"
	"github.com/dd0wney/cluso-dispatch/pkg/scenario"
)

func main() {
	configPath := flag.String("config", "", "Configuration file (defaults when empty)")
	scenarioPath := flag.String("scenario", "", "Scenario file (required)")
	interval := flag.Duration("interval", time.Second, "Time between ticks while running")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "railcore-tui: -scenario is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}
	g, err := sc.BuildGraph()
	if err != nil {
		log.Fatalf("Failed to build graph: %v", err)
	}

	// Logs go to the event pane; writing them to the terminal would tear the screen.
	rec := logging.NewRecorder()
	rec.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	core, err := dispatch.New(dispatch.Options{Config: cfg, Graph: g, Logger: rec})
	if err != nil {
		log.Fatalf("Failed to create core: %v", err)
	}
	defer core.Close()

	m := initialModel(core, scenario.NewRunner(core, sc, rec), sc.Name, rec, *interval)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}
