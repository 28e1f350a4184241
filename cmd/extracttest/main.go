package main

// Run the vision extraction and normalization on a local file:
//   go run ./cmd/extracttest -file ./testdata/facture.pdf
//   go run ./cmd/extracttest -file ./scan.png -batch -out result.json

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mail-ingest/internal/extract"
	"mail-ingest/internal/extraction"
	"mail-ingest/internal/llm"
	"mail-ingest/internal/llm/gemini"
	"mail-ingest/internal/llm/openai"
	"mail-ingest/internal/normalize"
	"mail-ingest/internal/shared/config"
)

type output struct {
	File       string           `json:"file"`
	MimeType   string           `json:"mimeType"`
	Complexity string           `json:"complexity"`
	Model      string           `json:"model"`
	Attempts   int              `json:"attempts"`
	Partial    bool             `json:"partial"`
	Fallback   bool             `json:"fallback"`
	Elapsed    string           `json:"elapsed"`
	Raw        map[string]any   `json:"raw"`
	Normalized normalize.Fields `json:"normalized"`
}

func main() {
	cfg := config.Load()

	filePath := flag.String("file", "", "Path to a PDF or image attachment")
	outPath := flag.String("out", "", "Path to write JSON output (optional)")
	provider := flag.String("provider", cfg.LLMProvider, "LLM provider (gemini or openai)")
	batch := flag.Bool("batch", false, "Allow the fast model for simple documents")
	flag.Parse()

	if strings.TrimSpace(*filePath) == "" {
		exitErr("file path is required")
	}
	data, err := os.ReadFile(*filePath)
	if err != nil {
		exitErr(fmt.Sprintf("read file: %v", err))
	}
	name := filepath.Base(*filePath)
	mimeType := extract.NormalizeMimeType("", name, data)

	gen, err := buildGenerator(*provider, cfg)
	if err != nil {
		exitErr(err.Error())
	}
	client, err := extraction.New(llm.WithRetry(gen, llm.RetryOptions{}), extraction.NopCache{}, extraction.Options{
		QualityModel:      cfg.VisionModel,
		FastModel:         cfg.VisionFastModel,
		SimpleThresholdKB: cfg.SimpleThresholdKB,
		SimpleMaxPages:    cfg.SimpleMaxPages,
		DocumentTimeout:   cfg.DocumentTimeout,
	})
	if err != nil {
		exitErr(err.Error())
	}

	in := extraction.Input{Data: data, MimeType: mimeType, FileName: name}
	start := time.Now()
	var res extraction.Result
	if *batch {
		items := client.ExtractBatch(context.Background(), []extraction.Input{in})
		res, err = items[0].Result, items[0].Err
	} else {
		res, err = client.Extract(context.Background(), in)
	}
	if err != nil {
		exitErr(fmt.Sprintf("extract: %v", err))
	}

	out := output{
		File:       name,
		MimeType:   mimeType,
		Complexity: string(res.Complexity),
		Model:      res.Model,
		Attempts:   res.Attempts,
		Partial:    res.Partial,
		Fallback:   res.Fallback,
		Elapsed:    time.Since(start).Round(time.Millisecond).String(),
		Raw:        res.Data,
		Normalized: normalize.Normalize(res.Data),
	}
	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		exitErr(fmt.Sprintf("marshal output: %v", err))
	}
	if strings.TrimSpace(*outPath) != "" {
		if err := os.WriteFile(*outPath, payload, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}
	fmt.Println(string(payload))
}

func buildGenerator(provider string, cfg config.Config) (llm.Generator, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.VisionTimeout)
	case "", "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required")
		}
		return gemini.NewClient(cfg.GeminiAPIKey, cfg.VisionTimeout)
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}

func exitErr(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
