// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/scanlink/internal/decoder"
	"github.com/ManuGH/scanlink/internal/framesource"
	"github.com/ManuGH/scanlink/internal/hints"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	qrcode "github.com/skip2/go-qrcode"
)

// runGen writes a QR code or Code 128 image for testing a drop folder.
func runGen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("o", "scan.png", "output PNG file")
	size := fs.Int("size", 256, "image width in pixels")
	kind := fs.String("type", "qr", "symbol type: qr or code128")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		_, _ = fmt.Fprintln(stderr, "usage: scanlink gen [-o file] [-size n] [-type qr|code128] <text>")
		return 2
	}

	if err := generate(*kind, text, *size, *out); err != nil {
		_, _ = fmt.Fprintf(stderr, "gen: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "wrote %s\n", *out)
	return 0
}

func generate(kind, text string, size int, path string) error {
	switch kind {
	case "qr":
		return qrcode.WriteFile(text, qrcode.Medium, size, path)
	case "code128":
		matrix, err := oned.NewCode128Writer().Encode(text, gozxing.BarcodeFormat_CODE_128, size, size/3, nil)
		if err != nil {
			return fmt.Errorf("encode code128: %w", err)
		}
		f, err := os.Create(path) // #nosec G304
		if err != nil {
			return err
		}
		if err := png.Encode(f, matrix); err != nil {
			_ = f.Close()
			return fmt.Errorf("write png: %w", err)
		}
		return f.Close()
	default:
		return fmt.Errorf("unknown symbol type %q", kind)
	}
}

// runDecode decodes a single image file outside of a capture session.
func runDecode(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	modeFlag := fs.String("mode", string(hints.ModeAll), "decode mode: ALL, QR_CODE or BARCODE")
	tryHarder := fs.Bool("try-harder", false, "spend more time looking for a symbol")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "usage: scanlink decode [-mode m] [-try-harder] <image>")
		return 2
	}

	mode, err := hints.ParseMode(*modeFlag)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decode: %v\n", err)
		return 2
	}
	f, err := framesource.LoadFile(fs.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decode: %v\n", err)
		return 1
	}

	res, err := decoder.New().Decode(context.Background(), f, hints.New(mode, hints.WithTryHarder(*tryHarder)))
	if errors.Is(err, decoder.ErrNotFound) {
		_, _ = fmt.Fprintln(stderr, "decode: no symbol found")
		return 3
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decode: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{"text": res.Text, "format": res.Format, "points": res.Points})
	return 0
}
