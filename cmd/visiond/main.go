// visiond: the corpus-vision service
// Captures camera frames, describes them with a vision-language
// provider, and serves the result over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerostar/corpus-vision/internal/config"
	"github.com/nerostar/corpus-vision/internal/log"
	"github.com/nerostar/corpus-vision/pkg/api"
	"github.com/nerostar/corpus-vision/pkg/camera"
	"github.com/nerostar/corpus-vision/pkg/events"
	"github.com/nerostar/corpus-vision/pkg/inference"
	"github.com/nerostar/corpus-vision/pkg/ingest"
	"github.com/nerostar/corpus-vision/pkg/motion"
	"github.com/nerostar/corpus-vision/pkg/speech"
	"github.com/nerostar/corpus-vision/pkg/vision"
)

var (
	version    = "1.0.0"
	configPath = flag.String("config", "", "Config file path (default: VISION_CONFIG, then config.yaml)")
	port       = flag.Int("port", 0, "Override the configured HTTP port")
	debug      = flag.Bool("debug", false, "Enable debug logging and per-request logs")
)

func main() {
	flag.Parse()

	level := ""
	if *debug {
		level = "debug"
	}
	log.Init(level)

	fmt.Println()
	fmt.Println("👁️  corpus-vision v" + version)
	fmt.Println("   Scene description service")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	log.Debug("config loaded",
		"path", *configPath,
		"source", cfg.Camera.Source,
		"providers", cfg.Vision.Providers,
	)

	// Camera
	camCfg := camera.Config{
		Width:        cfg.Camera.Width,
		Height:       cfg.Camera.Height,
		Framerate:    cfg.Camera.FPS,
		Quality:      cfg.Camera.Quality,
		DeviceID:     cfg.Camera.DeviceID,
		WarmupFrames: cfg.Camera.WarmupFrames,
	}
	source, err := camera.Open(cfg.Camera.Source, cfg.Camera.URL, camCfg)
	if err != nil {
		log.Error("camera open failed", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	manager := camera.NewManager(camCfg)
	if cam, ok := source.(*camera.Webcam); ok {
		manager.OnConfigChange = cam.ApplyConfig
	}

	// Vision provider chain. The service stays up without one so the
	// camera endpoints keep working; describe calls fail clearly.
	var provider inference.Provider
	if p, err := buildProviders(cfg); err != nil {
		log.Warn("no vision provider available, /analyze and /describe will fail", "error", err)
	} else {
		provider = p
		defer p.Close()
	}

	// Speech
	var notifier speech.Notifier
	if cfg.Speech.Enabled && cfg.Speech.URL != "" {
		n := speech.NewHTTPNotifier(cfg.Speech.URL, cfg.Speech.Timeout())
		notifier = n
		defer n.Close()
	}

	// Event log
	store := events.NewStore(cfg.Events.Path)

	// Core system
	sysOpts := []vision.Option{
		vision.WithEvents(store),
		vision.WithDefaultInterval(cfg.Vision.Interval()),
		vision.WithFirstPerson(cfg.Vision.FirstPerson),
	}
	if cfg.Vision.Prompt != "" {
		sysOpts = append(sysOpts, vision.WithPrompt(cfg.Vision.Prompt))
	}
	if notifier != nil {
		sysOpts = append(sysOpts, vision.WithNotifier(notifier))
	}
	system := vision.New(source, provider, sysOpts...)
	defer system.Shutdown()

	// Motion-gated monitor
	mcfg := motion.DefaultConfig()
	mcfg.Threshold = cfg.Monitor.ChangeThreshold
	detector := motion.NewDetector(mcfg)
	defer detector.Close()

	monitor := vision.NewMonitor(system, detector, store, vision.MonitorConfig{
		FrameInterval:    cfg.Monitor.FrameInterval(),
		WindowMax:        cfg.Monitor.WindowMax(),
		Quiet:            cfg.Monitor.Quiet(),
		Cooldown:         cfg.Monitor.Cooldown(),
		NoveltyWindow:    cfg.Monitor.NoveltyWindow(),
		NoveltyThreshold: cfg.Monitor.NoveltyThreshold,
	})
	defer monitor.Stop()

	// Frame uplink to an external collector
	var publisher *ingest.Publisher
	if cfg.Ingest.Enabled && cfg.Ingest.URL != "" {
		publisher = ingest.NewPublisher(cfg.Ingest.URL)
		publisher.SetDims(cfg.Camera.Width, cfg.Camera.Height)
		publisher.Start()
		defer publisher.Stop()
	}

	// HTTP/WebSocket server
	srvOpts := []api.Option{
		api.WithMonitor(monitor),
		api.WithCameraManager(manager),
		api.WithEvents(store),
	}
	if *debug {
		srvOpts = append(srvOpts, api.WithRequestLogging())
	}
	server := api.NewServer(cfg.Server.Addr(), system, srvOpts...)

	// Monitor taps: frames feed the websocket stream and the ingest
	// uplink, closed windows feed the event stream.
	monitor.OnFrame = func(jpeg []byte) {
		server.BroadcastFrame(jpeg)
		if publisher != nil {
			publisher.Enqueue(jpeg)
		}
	}
	monitor.OnEvent = server.BroadcastEvent

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("corpus-vision started",
		"addr", cfg.Server.Addr(),
		"camera", cfg.Camera.Source,
		"interval", cfg.Vision.Interval(),
		"events", cfg.Events.Path,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n👋 Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
}

// buildProviders assembles the fallback chain in the configured order,
// skipping providers without an API key. The gemini block's model
// applies to the gemini provider only; token and temperature limits
// apply to every provider.
func buildProviders(cfg config.Config) (*inference.Chain, error) {
	order := cfg.Vision.Providers
	if len(order) == 0 {
		order = strings.Split(inference.DefaultProviderOrder, ",")
	}

	shared := []inference.Option{
		inference.WithMaxTokens(cfg.Gemini.MaxTokens),
		inference.WithTemperature(cfg.Gemini.Temperature),
	}

	var providers []inference.Provider
	for _, name := range order {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "gemini", "google":
			if cfg.Gemini.APIKey == "" {
				continue
			}
			opts := append([]inference.Option{
				inference.WithAPIKey(cfg.Gemini.APIKey),
				inference.WithModel(cfg.Gemini.Model),
			}, shared...)
			p, err := inference.NewGemini(opts...)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "openai":
			key := os.Getenv("OPENAI_API_KEY")
			if key == "" {
				continue
			}
			p, err := inference.NewClient(append([]inference.Option{inference.WithAPIKey(key)}, shared...)...)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		case "claude", "anthropic":
			key := os.Getenv("ANTHROPIC_API_KEY")
			if key == "" {
				continue
			}
			p, err := inference.NewAnthropic(append([]inference.Option{inference.WithAPIKey(key)}, shared...)...)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		}
	}
	return inference.NewChainWithLogger(log.Component("inference"), providers...)
}
