// watch: console vision loop
// Captures a frame, describes it, prints it. No server, no speech.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerostar/corpus-vision/internal/log"
	"github.com/nerostar/corpus-vision/pkg/camera"
	"github.com/nerostar/corpus-vision/pkg/inference"
	"github.com/nerostar/corpus-vision/pkg/vision"
)

var (
	interval = flag.Duration("interval", 3*time.Second, "Delay between captures")
	device   = flag.Int("device", 0, "Capture device index")
	neutral  = flag.Bool("neutral", false, "Use the neutral prompt instead of first person")
)

func main() {
	flag.Parse()

	// Keep the console clean for the descriptions.
	log.Init("warn")

	fmt.Println("👁️  corpus-vision watch")
	fmt.Println("=======================")

	provider, err := inference.FromEnv(nil)
	if err != nil {
		fmt.Println("\n❌ No vision provider available!")
		fmt.Println("   Set GEMINI_API_KEY, OPENAI_API_KEY, or ANTHROPIC_API_KEY.")
		os.Exit(1)
	}
	defer provider.Close()
	for _, p := range provider.Providers() {
		fmt.Printf("Provider: ✅ %s\n", p.Name())
	}

	cfg := camera.DefaultConfig()
	cfg.DeviceID = *device
	source, err := camera.Open(camera.SourceWebcam, "", cfg)
	if err != nil {
		fmt.Printf("❌ Camera: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()

	system := vision.New(source, provider, vision.WithFirstPerson(!*neutral))

	// Handle Ctrl+C
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\n👋 Goodbye!")
		cancel()
	}()

	fmt.Printf("🔄 Watching every %s (Ctrl+C to stop)\n\n", *interval)

	for {
		desc, err := system.DescribeCurrentView(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			fmt.Printf("❌ %v\n", err)
		default:
			fmt.Printf("👁️  %s\n", desc.Text)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(*interval):
		}
	}
}
