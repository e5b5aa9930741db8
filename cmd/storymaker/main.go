// ABOUTME: Entry point for the storymaker capture bot
// ABOUTME: Wires the Matrix bridge, correlator, panel store, and export sinks

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/phoenix-cmd/StoryMaker/internal/assets"
	"github.com/phoenix-cmd/StoryMaker/internal/bridge"
	"github.com/phoenix-cmd/StoryMaker/internal/config"
	"github.com/phoenix-cmd/StoryMaker/internal/export"
	"github.com/phoenix-cmd/StoryMaker/internal/speaker"
	"github.com/phoenix-cmd/StoryMaker/internal/store"
	"github.com/phoenix-cmd/StoryMaker/internal/story"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _                                     _
  ___| |_ ___  _ __ _   _ _ __ ___   __ _ | | _____ _ __
 / __| __/ _ \| '__| | | | '_ ' _ \ / _' || |/ / _ \ '__|
 \__ \ || (_) | |  | |_| | | | | | | (_| ||   <  __/ |
 |___/\__\___/|_|   \__, |_| |_| |_|\__,_||_|\_\___|_|
                    |___/
`

// getConfigPath returns the path to the storymaker config file.
// Priority: STORYMAKER_CONFIG env var > XDG_CONFIG_HOME/storymaker/config.yaml > ~/.config/storymaker/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("STORYMAKER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "storymaker", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: storymaker <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the capture bot")
		fmt.Println("  init     Create a new config file interactively")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("Story:      %s (%s)\n", cfg.Story.ID, cfg.Story.Title)
	green.Print("    ▶ ")
	fmt.Printf("Output:     %s\n", cfg.Story.OutputDir)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting storymaker",
		"config", configPath,
		"story", cfg.Story.ID,
		"panel_gap", cfg.Story.PanelGap,
	)

	// Panel store and export sinks
	panelStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening panel store: %w", err)
	}
	defer panelStore.Close()
	logger.Info("panel store opened", "path", cfg.Database.Path, "panels", panelStore.Count())

	panelLog, err := export.NewJSONLSink(filepath.Join(cfg.Story.OutputDir, "panels.jsonl"))
	if err != nil {
		return fmt.Errorf("opening panel log: %w", err)
	}
	defer panelLog.Close()

	documents, err := export.NewDocumentWriter(cfg.Story.OutputDir, cfg.Story.ID)
	if err != nil {
		return fmt.Errorf("creating document writer: %w", err)
	}

	// Speaker rules
	var parser *speaker.Parser
	if cfg.Story.RulesPath != "" {
		parser, err = speaker.LoadRules(cfg.Story.RulesPath)
		if err != nil {
			return fmt.Errorf("loading speaker rules: %w", err)
		}
	} else {
		parser, err = speaker.NewParser(nil, 0)
		if err != nil {
			return fmt.Errorf("building speaker parser: %w", err)
		}
	}

	// Asset uploader; missing credentials degrade to text-only panels
	uploader := assets.New(assets.Config{
		UploadURL: cfg.Assets.UploadURL,
		Preset:    cfg.Assets.Preset,
		Folder:    cfg.Assets.Folder,
	})
	if !uploader.Enabled() {
		logger.Warn("asset uploads not configured; paired images will be dropped")
	}

	// Matrix client and capture core
	client, err := bridge.NewClient(cfg.Matrix)
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}

	correlator := story.New(
		story.Config{
			StoryID:  cfg.Story.ID,
			Title:    cfg.Story.Title,
			PanelGap: cfg.Story.PanelGap,
		},
		story.Deps{
			Parser:    parser,
			Fetcher:   bridge.NewContentFetcher(client),
			Uploader:  uploader,
			Store:     panelStore,
			Log:       panelLog,
			Documents: documents,
		},
		logger,
	)

	// Write the document for whatever the store reloaded, then keep it
	// fresh on a timer alongside event-triggered rebuilds.
	correlator.Rebuild()
	go correlator.RunPeriodicRebuild(ctx, cfg.Story.RebuildInterval)

	b := bridge.New(client, cfg, correlator, logger)
	return b.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	prompt := func(label, fallback string) string {
		green.Print("    ▶ ")
		if fallback != "" {
			fmt.Printf("%s [%s]: ", label, fallback)
		} else {
			fmt.Printf("%s: ", label)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return fallback
		}
		return answer
	}

	homeserver := prompt("Matrix homeserver URL", "https://matrix.org")
	userID := prompt("Matrix user ID (e.g. @story:matrix.org)", "")
	accessToken := prompt("Matrix access token", "")
	storyID := prompt("Story ID", config.DefaultStoryID)
	storyTitle := prompt("Story title", config.DefaultStoryTitle)
	uploadURL := prompt("Image upload URL (optional)", "")

	cfgContent := fmt.Sprintf(`# storymaker configuration
# Generated by storymaker init

matrix:
  homeserver: %s
  user_id: "%s"
  access_token: "%s"
  # Only capture from these rooms (empty = all joined rooms)
  allowed_rooms: []

story:
  id: %s
  title: %s
  output_dir: out
  # Time window to pair a photo with following text from the same user
  panel_gap: 25s
  rebuild_interval: 60s

database:
  path: data/panels.db

assets:
  # Unsigned upload endpoint; leave empty to capture text-only panels
  upload_url: "%s"
  preset: ""
  folder: story/%s

bridge:
  # Reply in-room after each captured panel
  confirmations: false

logging:
  level: info
  format: console
`, homeserver, userID, accessToken, storyID, storyTitle, uploadURL, storyID)

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(cfgContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: storymaker serve")
	fmt.Println()

	return nil
}
