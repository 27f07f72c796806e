package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/camera"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/localstate"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/scanning"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/server"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/session"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/voucher"
	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/workflow"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("vouchervault")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "vouchervault.db", "Local state file path")
		apiURL      = fs.StringLong("api-url", voucher.DefaultAPIURL, "Voucher backend API endpoint")
		uploadsURL  = fs.StringLong("uploads-url", voucher.DefaultUploadsURL, "Base URL of stored voucher images")
		deviceURL   = fs.StringLong("device-url", voucher.DefaultDeviceURL, "Backend endpoint that triggers the ESP32 camera")
		cameraURL   = fs.StringLong("camera-url", "", "ESP32-CAM snapshot URL, e.g. http://192.168.1.50/capture (optional)")
		ocrMode     = fs.StringLong("ocr", "remote", "OCR mode: 'remote' (backend) or 'mock' (development only)")
		refreshSpec = fs.StringLong("refresh", "@every 5m", "Cron schedule for re-syncing vouchers; empty disables")
		timeout     = fs.DurationLong("timeout", 30*time.Second, "Backend request timeout")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("VOUCHERVAULT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize local state
	slog.Info("Opening local state...", "path", *dbPath)
	db, err := localstate.Open(*dbPath)
	if err != nil {
		slog.Error("Failed to open local state", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	client := voucher.NewClientWithDeps(voucher.ClientConfig{
		APIURL:     *apiURL,
		UploadsURL: *uploadsURL,
		DeviceURL:  *deviceURL,
	}, &http.Client{Timeout: *timeout}, nil)

	store := voucher.NewStore(db, client)
	if err := store.Load(); err != nil {
		if !errors.Is(err, voucher.ErrPersistence) {
			slog.Error("Failed to load vouchers", "error", err)
			os.Exit(1)
		}
		slog.Warn("Stored vouchers were unreadable and have been reset", "error", err)
	}

	sessions := session.NewStore(db)

	// Initialize scanner based on OCR mode
	var scanner scanning.Scanner
	switch *ocrMode {
	case "remote":
		scanner = scanning.NewRemote(client)
	case "mock":
		slog.Warn("Using mock OCR; vouchers are not sent to the backend")
		scanner = scanning.NewMock()
	default:
		slog.Error("Invalid OCR mode", "mode", *ocrMode, "valid", "remote or mock")
		os.Exit(1)
	}

	// The camera is optional; leave the workflow's camera nil without one
	var controller *camera.Controller
	var workflowCamera workflow.Camera
	if *cameraURL != "" {
		slog.Info("Using ESP32-CAM", "url", *cameraURL)
		controller = camera.NewController(camera.NewHTTPSnapshotDeviceWithClient(*cameraURL, &http.Client{Timeout: *timeout}))
		workflowCamera = controller
	}

	flow := workflow.NewWorkflowWithDeps(scanner, store, workflowCamera, nil, func(r workflow.Result) {
		if r.Err != nil {
			slog.Warn("Scan failed", "error", r.Err)
			return
		}
		slog.Info("Scan completed", "id", r.Voucher.ID)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Mock vouchers never reach the backend, so there is nothing to sync
	syncing := *ocrMode == "remote"

	if syncing && sessions.IsAuthenticated() {
		if err := store.Refresh(ctx); err != nil {
			slog.Warn("Initial refresh failed; serving cached vouchers", "error", err)
		}
	}

	if syncing && *refreshSpec != "" {
		refresher, err := voucher.NewRefresher(*refreshSpec, store)
		if err != nil {
			slog.Error("Invalid refresh schedule", "error", err)
			os.Exit(1)
		}
		go refresher.Run(ctx)
	}

	srv := server.NewServer(server.Deps{
		Vouchers: store,
		Workflow: flow,
		Camera:   controller,
		Sessions: sessions,
		Device:   client,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
	if controller != nil {
		controller.Deactivate()
	}
}
