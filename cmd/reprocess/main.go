// Command reprocess runs one document outside the scan cycle: process it
// (optionally forcing re-extraction), re-queue it, file it with hand-corrected
// facts, or re-file an archived one after a manual correction.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/delmenhorst/Buchhaltung/internal/app"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	id := flag.Int64("id", 0, "document id")
	force := flag.Bool("force", false, "re-extract even when already processed")
	requeue := flag.Bool("requeue", false, "clear extracted facts so the scanner processes the document again")
	refile := flag.Bool("refile", false, "move an archived document to the name its current facts produce")
	file := flag.Bool("file", false, "archive an intake document with its stored (hand-corrected) facts")
	flag.Parse()

	if *id <= 0 {
		fmt.Fprintln(os.Stderr, "usage: reprocess -id <document id> [-force | -requeue | -file | -refile]")
		os.Exit(2)
	}
	modes := 0
	for _, set := range []bool{*requeue, *refile, *file} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		fmt.Fprintln(os.Stderr, "-requeue, -file and -refile are mutually exclusive")
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

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatalw("open", "error", err)
	}
	defer a.Close()

	switch {
	case *requeue:
		doc, err := a.Processor.Requeue(ctx, *id)
		if err != nil {
			log.Errorw("reprocess.requeue.failed", "document_id", *id, "error", err)
			os.Exit(1)
		}
		fmt.Printf("document %d re-queued (%s)\n", doc.ID, doc.Status())
	case *refile:
		doc, err := a.Renamer.Refile(ctx, *id)
		if err != nil {
			log.Errorw("reprocess.refile.failed", "document_id", *id, "error", err)
			os.Exit(1)
		}
		fmt.Printf("document %d filed at %s\n", doc.ID, doc.Path)
	default:
		var out pipeline.Outcome
		if *file {
			out = a.Processor.File(ctx, *id)
		} else {
			out = a.Processor.ProcessDocument(ctx, *id, *force)
		}
		fmt.Printf("document %d: %s %s\n", out.DocumentID, out.Kind, out.Path)
		if len(out.Missing) > 0 {
			fmt.Printf("missing: %v\n", out.Missing)
		}
		if out.Err != nil {
			fmt.Printf("error: %v\n", out.Err)
			os.Exit(1)
		}
	}
}
