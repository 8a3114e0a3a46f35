package main

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/expensense/expensense/internal/expense"
	"github.com/expensense/expensense/internal/extract"
	"github.com/expensense/expensense/internal/signature"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("expensense")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "expensense.db", "Database file path")
		storagePath = fs.StringLong("storage", "./uploads", "Receipt and signature storage directory")
		recognizer  = fs.StringLong("recognizer", "ocrspace", "Field recognizer: 'ocrspace', 'gemini' or 'ollama'")
		ocrEndpoint = fs.StringLong("ocr-endpoint", "", "OCR service endpoint (default api.ocr.space)")
		ocrKey      = fs.StringLong("ocr-key", "", "OCR service API key (or set EXPENSENSE_OCR_KEY)")
		ocrKeyFile  = fs.StringLong("ocr-key-file", "", "File containing the OCR service API key")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set EXPENSENSE_GEMINI_KEY)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama server URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSENSE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.Info("Initializing database...")
	db, err := expense.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing storage...")
	store, err := expense.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// The recognizer credential is resolved once, here; a missing key is
	// a startup failure, never a per-request surprise.
	var extractor extract.Extractor
	switch *recognizer {
	case "ocrspace":
		key := *ocrKey
		if key == "" && *ocrKeyFile != "" {
			key = readKeyFile(*ocrKeyFile)
		}
		slog.Info("Initializing OCR recognizer...")
		extractor, err = extract.NewOCRSpace(*ocrEndpoint, key)
	case "gemini":
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		extractor, err = extract.NewGemini(*geminiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = extract.NewOllama(*ollamaURL, *ollamaModel)
	default:
		slog.Error("Invalid recognizer type", "type", *recognizer, "valid", "ocrspace, gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		if errors.Is(err, extract.ErrCredentialMissing) {
			slog.Error("Recognizer credential is required",
				"recognizer", *recognizer,
				"hint", "set --ocr-key, --ocr-key-file, --gemini-key or the matching env var",
			)
		} else {
			slog.Error("Failed to initialize recognizer", "error", err)
		}
		os.Exit(1)
	}
	defer extractor.Close()

	service := expense.NewService(db, store, extractor, expense.ScorerFunc(signature.Score))

	server := expense.NewServer(service, expense.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// readKeyFile reads a single-line credential file, as the deployment
// tooling provisions for the OCR service.
func readKeyFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Failed to read key file", "path", path, "error", err)
		os.Exit(1)
	}
	return strings.TrimSpace(string(data))
}
