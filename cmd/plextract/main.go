// plextract runs one extraction against a local file and prints the result
// as JSON. No database, queue or cache is involved.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/pricelist"
)

// localUploads serves a single on-disk file as if it were a stored upload.
type localUploads struct {
	upload pricelist.Upload
}

func (l *localUploads) GetUpload(ctx context.Context, id uuid.UUID) (*pricelist.Upload, error) {
	if id != l.upload.ID {
		return nil, fmt.Errorf("unknown upload %s", id)
	}
	u := l.upload
	return &u, nil
}

func main() {
	var (
		delimiter = flag.String("delimiter", "", "field delimiter override (single character)")
		sheet     = flag.String("sheet", "", "workbook sheet name (default: first sheet)")
		skipRows  = flag.Int("skip-rows", 0, "rows to skip before header detection")
		vatRate   = flag.Float64("vat", 0.15, "VAT rate for inclusive-price conversion")
		currency  = flag.String("currency", "ZAR", "default currency code")
		strict    = flag.Bool("strict", false, "keep invalid rows in the output instead of dropping them")
		quiet     = flag.Bool("quiet", false, "suppress progress output")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: plextract [flags] <pricelist-file>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	level := slog.LevelWarn
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plextract: %v\n", err)
		os.Exit(1)
	}
	kind, ok := constants.KindForExt(filepath.Ext(path))
	if !ok {
		fmt.Fprintf(os.Stderr, "plextract: unsupported file type %q\n", filepath.Ext(path))
		os.Exit(1)
	}

	cfg := pricelist.DefaultConfig(uuid.Nil)
	cfg.SheetName = *sheet
	cfg.SkipRows = *skipRows
	cfg.VATRate = *vatRate
	cfg.CurrencyDefault = *currency
	if *strict {
		cfg.ValidationMode = pricelist.ModeStrict
	}
	if *delimiter != "" {
		runes := []rune(*delimiter)
		if len(runes) != 1 {
			fmt.Fprintln(os.Stderr, "plextract: -delimiter must be a single character")
			os.Exit(2)
		}
		cfg.Delimiter = runes[0]
	}

	upload := pricelist.Upload{
		ID:          uuid.New(),
		StoragePath: path,
		Filename:    filepath.Base(path),
		Kind:        kind,
		SizeBytes:   info.Size(),
	}

	worker := pricelist.NewWorker(&localUploads{upload: upload}, nil, nil, logger)

	hooks := pricelist.Hooks{}
	if !*quiet {
		hooks.Status = func(message string) { fmt.Fprintln(os.Stderr, message) }
		hooks.Warning = func(message string) { fmt.Fprintln(os.Stderr, "warning:", message) }
	}

	result, err := worker.Execute(context.Background(), pricelist.Job{
		ID:       uuid.New(),
		UploadID: upload.ID,
		Config:   cfg,
	}, hooks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plextract: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "plextract: encoding result: %v\n", err)
		os.Exit(1)
	}
}
