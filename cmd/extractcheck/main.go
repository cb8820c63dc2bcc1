// Command extractcheck runs OCR and the extraction chain on a single file and
// prints what would be stored. Nothing is written to the store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/app"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/extract"
	"github.com/delmenhorst/Buchhaltung/internal/pipeline"
)

type report struct {
	File        string   `json:"file"`
	Kind        string   `json:"kind"`
	Provenance  string   `json:"provenance"`
	Strategy    string   `json:"strategy,omitempty"`
	Model       string   `json:"model,omitempty"`
	Date        string   `json:"date,omitempty"`
	Amount      string   `json:"amount,omitempty"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Complete    bool     `json:"complete"`
	Missing     []string `json:"missing,omitempty"`
	TextChars   int      `json:"text_chars"`
	OCRConf     float32  `json:"ocr_confidence,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
	Text        string   `json:"text,omitempty"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	kindFlag := flag.String("kind", "expense", "expense | income (folder names and codes work too)")
	business := flag.String("business", "", "business name passed to the model prompt")
	showText := flag.Bool("text", false, "include the OCR text in the output")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: extractcheck [-kind expense|income] [-business name] <file.pdf>")
		os.Exit(2)
	}
	path := flag.Arg(0)
	kind, ok := constants.ParseKind(*kindFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown kind %q\n", *kindFlag)
		os.Exit(2)
	}

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := common.NewLogger(cfg.Log.Level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine, err := app.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Fatalw("build engine", "error", err)
	}

	start := time.Now()
	res := engine.ExtractFile(ctx, extract.Request{Path: path, Kind: kind, BusinessName: *business})
	gate := pipeline.Classify(res)

	out := report{
		File:       path,
		Kind:       string(kind),
		Provenance: string(res.Provenance),
		Strategy:   res.Strategy,
		Model:      res.ModelName,
		Complete:   gate.Complete,
		TextChars:  len([]rune(res.Text)),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if res.Date != nil {
		out.Date = res.Date.Format("2006-01-02")
	}
	if res.Amount != nil {
		out.Amount = common.FormatAmount(*res.Amount)
	}
	if res.Category != nil {
		out.Category = string(*res.Category)
	}
	if res.Description != nil {
		out.Description = *res.Description
	}
	if res.OCRConfidence != nil {
		out.OCRConf = *res.OCRConfidence
	}
	for _, f := range gate.Missing {
		out.Missing = append(out.Missing, string(f))
	}
	if *showText {
		out.Text = res.Text
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalw("encode", "error", err)
	}
}
