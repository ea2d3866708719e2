package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"lftracking/internal/monitoring"
	"lftracking/internal/timeutil"
	"lftracking/pkg/config"
	"lftracking/pkg/dwell"
	"lftracking/pkg/navigation"
	"lftracking/pkg/session"
	"lftracking/pkg/store"
	"lftracking/pkg/summary"
	"lftracking/pkg/visualization"
)

// consoleSurface reports what a display would show.
type consoleSurface struct{}

func (consoleSurface) Render(f navigation.Frame) {
	monitoring.Debugf("display %s (%d panel(s))", f.Coordinate, f.Panels)
}

func (consoleSurface) SetFocus(depth int) {
	monitoring.Debugf("focus slider at %d", depth)
}

func (consoleSurface) SetProgress(text string) {
	fmt.Println(text)
}

func (consoleSurface) SetLoading(loading bool) {
	if loading {
		fmt.Println("Loading image...")
	}
}

func (consoleSurface) Message(text string) {
	fmt.Println(text)
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "config.yaml", "Session configuration file")
	eventsPath := flag.String("events", "", "YAML script of input events to replay")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	outputDir := flag.String("output", "", "Directory for the session logs (overrides the configuration)")
	database := flag.String("db", "", "SQLite file receiving the results (overrides the configuration)")
	verbose := flag.Bool("verbose", false, "Log every displayed view")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default configuration: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	if *eventsPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *database != "" {
		cfg.Output.Database = *database
	}
	monitoring.SetVerbose(*verbose || cfg.Output.Verbose)

	steps, err := session.LoadScript(*eventsPath)
	if err != nil {
		log.Fatalf("Failed to load event script: %v", err)
	}

	if err := run(cfg, steps); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

func run(cfg *config.Config, steps []session.Step) error {
	startTime := time.Now()
	stamp := startTime.Format(session.TimestampLayout)
	trackingPath, answersPath := session.OutputPaths(cfg.Output.Dir, startTime)

	tracking, err := dwell.CreateTrackingLog(trackingPath)
	if err != nil {
		return err
	}
	answers, err := session.CreateAnswersLog(answersPath)
	if err != nil {
		tracking.Close()
		return err
	}

	runID := uuid.NewString()
	opts := session.Options{
		Surface:  consoleSurface{},
		Tracking: tracking,
		Answers:  answers,
	}
	if cfg.Output.Database != "" {
		results, err := store.Open(cfg.Output.Database, nil)
		if err != nil {
			tracking.Close()
			answers.Close()
			return err
		}
		defer results.Close()
		runID = results.RunID()
		opts.Results = results
	}

	ctrl, err := session.New(cfg, opts)
	if err != nil {
		return errors.Join(err, tracking.Close(), answers.Close())
	}

	fmt.Println("================================")
	fmt.Println("LIGHT FIELD SUBJECTIVE ASSESSMENT")
	fmt.Printf("Run %s, %d images\n", runID, len(ctrl.Items()))
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	events := make(chan session.Event)
	go func() {
		if err := session.Replay(ctx, timeutil.RealClock{}, steps, events); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("event replay stopped: %v", err)
		}
	}()

	runErr := ctrl.Run(ctx, events)
	fmt.Printf("\nSession ended after %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Tracking log saved to: %s\n", trackingPath)
	fmt.Printf("Answers saved to: %s\n", answersPath)

	if cfg.Output.Summary {
		var inputs []summary.Input
		for i, item := range ctrl.Items() {
			rating, rated := ctrl.AnswerAt(i)
			inputs = append(inputs, summary.Input{Timer: item.Timer, Rating: rating, Rated: rated})
		}
		summaryPath := filepath.Join(cfg.Output.Dir, stamp+"-summary.yaml")
		if err := summary.Build(runID, time.Now(), inputs).Save(summaryPath); err != nil {
			log.Printf("Warning: Failed to save summary: %v", err)
		} else {
			fmt.Printf("Summary saved to: %s\n", summaryPath)
		}
	}

	if cfg.Output.DwellMaps {
		mapsDir := filepath.Join(cfg.Output.Dir, stamp+"-dwell")
		for _, item := range ctrl.Items() {
			if _, err := visualization.SaveDwellMaps(item.Timer, mapsDir, 32); err != nil {
				log.Printf("Warning: Failed to save dwell maps of %s: %v", item.Name, err)
			}
		}
		fmt.Printf("Dwell maps saved to: %s\n", mapsDir)
	}

	return runErr
}
