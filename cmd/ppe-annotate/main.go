// Command ppe-annotate runs a single image through the detection service and
// writes the annotated frame next to a JSON compliance summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/dj-oyu/ppe-monitor/internal/compliance"
	"github.com/dj-oyu/ppe-monitor/internal/detector"
	"github.com/dj-oyu/ppe-monitor/internal/frame"
	"github.com/dj-oyu/ppe-monitor/internal/health"
	"github.com/dj-oyu/ppe-monitor/internal/logger"
	"github.com/dj-oyu/ppe-monitor/internal/overlay"
	"github.com/dj-oyu/ppe-monitor/pkg/types"
)

type summary struct {
	Input         string               `json:"input"`
	Output        string               `json:"output"`
	SystemStatus  types.SystemStatus   `json:"system_status,omitempty"`
	Stats         types.Stats          `json:"stats"`
	Notifications []types.Notification `json:"notifications"`
	Detections    []types.Detection    `json:"detections"`
}

func main() {
	var (
		apiURL      = flag.String("api", "http://localhost:5000/api", "Detection service base URL (env PPE_API_URL)")
		input       = flag.String("in", "", "Input image")
		output      = flag.String("out", "annotated.jpg", "Output JPEG")
		quality     = flag.Int("quality", frame.DefaultQuality, "JPEG quality (1-100)")
		timeout     = flag.Duration("timeout", 30*time.Second, "Request timeout")
		checkHealth = flag.Bool("check-health", false, "Query the health endpoint first")
		logLevel    = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
	)
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}
	if url := os.Getenv("PPE_API_URL"); url != "" && !isFlagSet("api") {
		*apiURL = url
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := annotate(ctx, detector.NewClient(*apiURL), *input, *output, *quality, *checkHealth)
	if err != nil {
		log.Fatalf("annotate: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("write summary: %v", err)
	}
}

func annotate(ctx context.Context, client *detector.Client, input, output string, quality int, checkHealth bool) (summary, error) {
	result := summary{Input: input, Output: output}

	if checkHealth {
		report, err := client.Health(ctx)
		result.SystemStatus = health.Classify(report, err)
		if result.SystemStatus != types.StatusOnline {
			logger.Warn("Annotate", "Detection service is %s", result.SystemStatus)
		}
	}

	f, err := os.Open(input)
	if err != nil {
		return result, err
	}
	img, err := frame.DecodeImage(f, frame.WithQuality(quality))
	_ = f.Close()
	if err != nil {
		return result, err
	}

	data, err := img.EncodeCurrentFrame()
	if err != nil {
		return result, fmt.Errorf("encode frame: %w", err)
	}
	detections, err := client.Detect(ctx, data)
	if err != nil {
		return result, err
	}
	result.Detections = detections
	result.Stats, result.Notifications = compliance.Summarize(detections)

	w, h := img.Dimensions()
	surface := image.NewRGBA(image.Rect(0, 0, w, h))
	overlay.Render(surface, img.Capture(), detections)

	jpegData, err := frame.Encode(surface, quality)
	if err != nil {
		return result, fmt.Errorf("encode output: %w", err)
	}
	return result, writeFile(output, jpegData)
}

func writeFile(path string, data []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	_, err = f.Write(data)
	return err
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
