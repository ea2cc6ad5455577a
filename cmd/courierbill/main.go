package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/nvimal/courierbill/internal/capture"
	"github.com/nvimal/courierbill/internal/manifest"
	"github.com/nvimal/courierbill/internal/recognition"
	"github.com/nvimal/courierbill/internal/server"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

type systemTime struct{}

func (systemTime) Now() time.Time { return time.Now() }

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("courierbill")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "courierbill.db", "Database file path")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		fastModel     = fs.StringLong("gemini-fast-model", "gemini-2.5-flash", "Gemini model for the fast tier")
		accurateModel = fs.StringLong("gemini-accurate-model", "gemini-2.5-pro", "Gemini model for the accurate tier")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL for the stable fallback tier")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama vision model name (e.g., llava, qwen2-vl)")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("COURIERBILL"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing store...")
	store, err := manifest.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	repo := manifest.NewRepository(store)

	// Recognition backends: Gemini serves the fast and accurate tiers,
	// Ollama the stable fallback. Either may be absent; its tiers then
	// fail like any other recognition error.
	var gemini *recognition.Gemini
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey != "" {
		slog.Info("Initializing Gemini tiers...", "fast", *fastModel, "accurate", *accurateModel)
		gemini, err = recognition.NewGemini(apiKey, *fastModel, *accurateModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("No Gemini API key; fast and accurate tiers are unavailable")
	}

	slog.Info("Initializing Ollama fallback tier...", "url", *ollamaURL, "model", *ollamaModel)
	ollama, err := recognition.NewOllama(*ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize Ollama", "error", err)
		os.Exit(1)
	}

	recognizer, err := recognition.NewTiered(gemini, ollama)
	if err != nil {
		slog.Error("Failed to initialize recognizer", "error", err)
		os.Exit(1)
	}
	defer recognizer.Close()

	captureMgr, err := capture.NewManager(store, repo, recognizer, systemTime{})
	if err != nil {
		slog.Error("Failed to initialize capture manager", "error", err)
		os.Exit(1)
	}
	if session := captureMgr.Active(); session != nil {
		slog.Info("Resumable capture session found", "session", session.ID, "pending", len(session.PendingChunks))
	}

	basicAuth := server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	srv := server.NewServer(repo, captureMgr, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
