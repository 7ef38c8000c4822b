package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"gopkg.in/yaml.v3"

	"github.com/meetscribe/meetscribe/internal/cleanup"
	"github.com/meetscribe/meetscribe/internal/events"
	"github.com/meetscribe/meetscribe/internal/handlers"
	"github.com/meetscribe/meetscribe/internal/media"
	"github.com/meetscribe/meetscribe/internal/queue"
	"github.com/meetscribe/meetscribe/internal/relay"
	"github.com/meetscribe/meetscribe/internal/session"
	"github.com/meetscribe/meetscribe/internal/storage"
	"github.com/meetscribe/meetscribe/internal/transcription"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Relay struct {
		BasePort               int `yaml:"base_port"`
		PortWindow             int `yaml:"port_window"`
		DisconnectGraceSeconds int `yaml:"disconnect_grace_seconds"`
	} `yaml:"relay"`

	Mixer struct {
		FFmpegPath string `yaml:"ffmpeg_path"`
	} `yaml:"mixer"`

	Whisper struct {
		BinaryPath string `yaml:"binary_path"`
		ModelPath  string `yaml:"model_path"`
		ModelName  string `yaml:"model_name"`
		Threads    int    `yaml:"threads"`
		Language   string `yaml:"language"`
	} `yaml:"whisper"`

	Tools struct {
		TimeoutMinutes int `yaml:"timeout_minutes"`
	} `yaml:"tools"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Permissions struct {
		CheckCmd   []string `yaml:"check_cmd"`
		RequestCmd []string `yaml:"request_cmd"`
	} `yaml:"permissions"`

	Browser struct {
		ExtraFlags map[string]interface{} `yaml:"extra_flags"`
	} `yaml:"browser"`
}

// jobEnqueuer adapts the queue to the session controller's handoff.
type jobEnqueuer struct {
	queue *queue.Queue
}

func (e jobEnqueuer) Enqueue(eventID, systemAudioPath, micAudioPath string) error {
	e.queue.Enqueue(eventID, systemAudioPath, micAudioPath)
	return nil
}

func main() {
	// Load configuration
	config, err := loadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure directories exist
	if err := cleanup.EnsureTempDirExists(config.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(config.Storage.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Custom logger setup
	logBuffer := &LogBuffer{
		lines: make([]string, 0, 1000),
	}
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	log.SetOutput(multiWriter)

	log.Println("Initializing components...")

	toolTimeout := time.Duration(config.Tools.TimeoutMinutes) * time.Minute

	// External tool adapters
	mixer := media.NewMixer(config.Mixer.FFmpegPath, toolTimeout)
	transcriber, err := transcription.NewWhisperTranscriber(
		config.Whisper.BinaryPath,
		config.Whisper.ModelPath,
		config.Whisper.Threads,
		config.Whisper.Language,
		toolTimeout,
	)
	if err != nil {
		log.Fatalf("Failed to initialize whisper: %v", err)
	}

	// Database
	store, err := storage.NewStore(config.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Event bus and transcript storage
	bus := events.NewBus()
	localStorage := storage.NewLocalStorage(config.Storage.OutputDir)

	// Job queue with its single worker
	jobQueue := queue.NewQueue(
		mixer,
		transcriber,
		store,
		localStorage,
		bus,
		config.Storage.TempDir,
		config.Whisper.ModelName,
	)
	jobQueue.Start()
	defer jobQueue.Shutdown()

	// Recover the queue left by the previous run
	requeue, interrupted, err := store.RestoreJobs()
	if err != nil {
		log.Printf("WARNING: job restore failed: %v", err)
	} else {
		if interrupted > 0 {
			log.Printf("Marked %d interrupted job(s) as failed; raw audio kept for retry", interrupted)
		}
		jobQueue.Resume(requeue)
	}

	// Recording session controller
	relayFactory := func(h relay.Handler) session.RelayServer {
		return relay.NewServer(config.Relay.BasePort, config.Relay.PortWindow, h)
	}
	sessions := session.NewController(
		relayFactory,
		&session.ChromeOpener{ExtraFlags: config.Browser.ExtraFlags},
		&session.ExecGate{
			CheckCmd:   config.Permissions.CheckCmd,
			RequestCmd: config.Permissions.RequestCmd,
		},
		jobEnqueuer{queue: jobQueue},
		bus,
		config.Storage.TempDir,
		time.Duration(config.Relay.DisconnectGraceSeconds)*time.Second,
	)

	// Cleanup scheduler
	cleanupScheduler := cleanup.NewScheduler(
		config.Storage.TempDir,
		time.Duration(config.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(config.Cleanup.MaxAgeHours)*time.Hour,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	recordingHandler := handlers.NewRecordingHandler(sessions, store)
	jobsHandler := handlers.NewJobsHandler(jobQueue, store)
	eventsHandler := handlers.NewEventsHandler(bus)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/recordings/:eventID/start", recordingHandler.Start)
	app.Post("/recordings/:eventID/stop", recordingHandler.Stop)
	app.Get("/recordings/:eventID", recordingHandler.Get)
	app.Get("/recordings/:eventID/transcript", recordingHandler.Transcript)
	app.Put("/recordings/:eventID/notes", recordingHandler.UpdateNotes)
	app.Get("/session", recordingHandler.Session)

	app.Get("/jobs", jobsHandler.List)
	app.Get("/jobs/:id", jobsHandler.Get)
	app.Post("/jobs/:id/retry", jobsHandler.Retry)

	// WebSocket event stream for the UI
	app.Get("/ws/events", websocket.New(eventsHandler.Handle))

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST /recordings/:eventID/start - Start a recording session")
	log.Println("   POST /recordings/:eventID/stop  - Stop the active session")
	log.Println("   GET  /recordings/:eventID       - Recording record")
	log.Println("   GET  /recordings/:eventID/transcript - Transcript text")
	log.Println("   GET  /session                   - Session state")
	log.Println("   GET  /jobs                      - Job history")
	log.Println("   POST /jobs/:id/retry            - Retry a failed job")
	log.Println("   GET  /ws/events                 - Event stream")
	log.Println("   GET  /logs                      - View server logs")
	log.Println("   GET  /health                    - Health check")

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// loadConfig loads configuration from YAML file
func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Relay.BasePort == 0 {
		config.Relay.BasePort = 43000
	}
	if config.Relay.PortWindow == 0 {
		config.Relay.PortWindow = 20
	}
	if config.Relay.DisconnectGraceSeconds == 0 {
		config.Relay.DisconnectGraceSeconds = 120
	}
	if config.Tools.TimeoutMinutes == 0 {
		config.Tools.TimeoutMinutes = 30
	}
	if config.Cleanup.IntervalMinutes == 0 {
		config.Cleanup.IntervalMinutes = 60
	}
	if config.Cleanup.MaxAgeHours == 0 {
		config.Cleanup.MaxAgeHours = 72
	}
}
