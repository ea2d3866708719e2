// Package config provides configuration loading and management for lftracking.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"lftracking/internal/models"
)

// Rating is one possible answer to the session question.
type Rating struct {
	// Value is the discrete grade written to the answers log
	Value int `yaml:"value"`

	// Description is the label shown under the answer button
	Description string `yaml:"description"`
}

// Image describes one light-field image under test.
type Image struct {
	// Name is the folder holding the image files, e.g. "I01R1"
	Name string `yaml:"name"`

	// Lattice overrides the session-wide lattice for this image
	Lattice *models.Lattice `yaml:"lattice,omitempty"`

	// Unit overrides the pixels-per-view drag unit for this image
	Unit int `yaml:"unit,omitempty"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Session parameters
	Session struct {
		// Question is asked for every image
		Question string `yaml:"question"`

		// Ratings lists the possible answers in display order
		Ratings []Rating `yaml:"ratings"`

		// ShowPreview plays the scripted preview before each image
		ShowPreview bool `yaml:"showPreview"`

		// Method is the assessment method, "single" or "double"
		Method models.Method `yaml:"method"`

		// TestImageSide is the slot of the test image in double-stimulus mode
		TestImageSide models.Side `yaml:"testImageSide"`
	} `yaml:"session"`

	// Lattice is the default viewable window of every image
	Lattice models.Lattice `yaml:"lattice"`

	// Navigation parameters
	Navigation struct {
		// Unit is the number of pixels the pointer must move to switch view
		Unit int `yaml:"unit"`

		// RefocusStep is the delay between two planes of a refocus animation
		RefocusStep time.Duration `yaml:"refocusStep"`
	} `yaml:"navigation"`

	// Preview parameters
	Preview struct {
		// Start and End bound the square of views scanned by the preview
		Start int `yaml:"start"`
		End   int `yaml:"end"`

		// PerspectiveHold is how long each perspective frame is shown
		PerspectiveHold time.Duration `yaml:"perspectiveHold"`

		// RefocusHold is how long each refocused frame is shown
		RefocusHold time.Duration `yaml:"refocusHold"`
	} `yaml:"preview"`

	// Preload parameters
	Preload struct {
		// Enabled loads images in the background ahead of display
		Enabled bool `yaml:"enabled"`

		// LookAhead is how many images after the current one are preloaded
		LookAhead int `yaml:"lookAhead"`

		// Workers bounds the number of images decoded concurrently
		Workers int `yaml:"workers"`
	} `yaml:"preload"`

	// Asset parameters
	Assets struct {
		// Root is the directory holding the image folders and depth maps
		Root string `yaml:"root"`

		// Format is the file extension of every asset
		Format string `yaml:"format"`

		// MaxWidth and MaxHeight downscale decoded images to fit, 0 disables
		MaxWidth  int `yaml:"maxWidth"`
		MaxHeight int `yaml:"maxHeight"`
	} `yaml:"assets"`

	// Output parameters
	Output struct {
		// Dir receives the tracking and answers logs
		Dir string `yaml:"dir"`

		// Database is an optional SQLite file receiving ratings and dwell records
		Database string `yaml:"database"`

		// DwellMaps saves a dwell heat map per image at the end of the session
		DwellMaps bool `yaml:"dwellMaps"`

		// Summary writes a YAML summary of dwell statistics
		Summary bool `yaml:"summary"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Images lists the light-field images in presentation order
	Images []Image `yaml:"images"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default session parameters
	cfg.Session.Question = "How would you rate the impairment of the test image compared to the reference image?"
	cfg.Session.Ratings = []Rating{
		{Value: 1, Description: "Very annoying"},
		{Value: 2, Description: "Annoying"},
		{Value: 3, Description: "Slightly annoying"},
		{Value: 4, Description: "Perceptible, but not annoying"},
		{Value: 5, Description: "Imperceptible"},
	}
	cfg.Session.ShowPreview = true
	cfg.Session.Method = models.DoubleStimulus
	cfg.Session.TestImageSide = models.Left

	// Set default lattice: a 9x9 window starting at view (3, 3), 11 depth planes
	cfg.Lattice = models.Lattice{OriginU: 3, OriginV: 3, CountU: 9, CountV: 9, CountDepth: 11}

	// Set default navigation parameters
	cfg.Navigation.Unit = 20
	cfg.Navigation.RefocusStep = 10 * time.Millisecond

	// Set default preview parameters
	cfg.Preview.Start = 3
	cfg.Preview.End = 11
	cfg.Preview.PerspectiveHold = 100 * time.Millisecond
	cfg.Preview.RefocusHold = 250 * time.Millisecond

	// Set default preload parameters
	cfg.Preload.Enabled = true
	cfg.Preload.LookAhead = 1
	cfg.Preload.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default asset parameters
	cfg.Assets.Root = "img"
	cfg.Assets.Format = "png"

	// Set default output parameters
	cfg.Output.Dir = "output"
	cfg.Output.Summary = true
	cfg.Output.Verbose = false

	return cfg
}

// LatticeFor returns the lattice of the given image, falling back to the
// session-wide lattice.
func (c *Config) LatticeFor(img Image) models.Lattice {
	if img.Lattice != nil {
		return *img.Lattice
	}
	return c.Lattice
}

// UnitFor returns the drag unit of the given image.
func (c *Config) UnitFor(img Image) int {
	if img.Unit > 0 {
		return img.Unit
	}
	return c.Navigation.Unit
}

// Validate checks that the configuration can drive a session.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Images) == 0 {
		errs = append(errs, errors.New("no images configured"))
	}
	if len(c.Session.Ratings) == 0 {
		errs = append(errs, errors.New("at least one rating is required"))
	}
	if c.Session.Method != models.SingleStimulus && c.Session.Method != models.DoubleStimulus {
		errs = append(errs, fmt.Errorf("unknown assessment method %d", int(c.Session.Method)))
	}
	if c.Session.TestImageSide != models.Left && c.Session.TestImageSide != models.Right {
		errs = append(errs, fmt.Errorf("unknown test image side %d", int(c.Session.TestImageSide)))
	}
	if c.Navigation.Unit <= 0 {
		errs = append(errs, fmt.Errorf("navigation unit must be positive, got %d", c.Navigation.Unit))
	}
	if c.Preload.LookAhead < 0 {
		errs = append(errs, fmt.Errorf("preload look-ahead must be non-negative, got %d", c.Preload.LookAhead))
	}
	if c.Assets.Format == "" {
		errs = append(errs, errors.New("asset format is required"))
	}

	for i, img := range c.Images {
		if img.Name == "" {
			errs = append(errs, fmt.Errorf("image %d has no name", i))
			continue
		}
		l := c.LatticeFor(img)
		if err := l.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("image %s: %w", img.Name, err))
			continue
		}
		if c.Session.ShowPreview {
			if err := c.validatePreview(l); err != nil {
				errs = append(errs, fmt.Errorf("image %s: %w", img.Name, err))
			}
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validatePreview(l models.Lattice) error {
	start, end := c.Preview.Start, c.Preview.End
	if start > end {
		return fmt.Errorf("preview start %d is after end %d", start, end)
	}
	if !l.Contains(models.Perspective(start, start)) || !l.Contains(models.Perspective(end, end)) {
		return fmt.Errorf("preview square [%d, %d] lies outside the lattice", start, end)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	cfg.Images = []Image{{Name: "I01R1"}, {Name: "I02R2"}, {Name: "I04R3"}}
	return SaveConfig(cfg, configPath)
}
