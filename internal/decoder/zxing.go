// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package decoder adapts the gozxing readers to capture.Decoder.
package decoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/scanlink/internal/capture"
	"github.com/ManuGH/scanlink/internal/frame"
	"github.com/ManuGH/scanlink/internal/hints"
	xglog "github.com/ManuGH/scanlink/internal/log"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/oned/rss"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound means no reader located a symbol in the frame.
	ErrNotFound = errors.New("no symbol found")
	// ErrNoReaders means none of the accepted formats has a reader.
	ErrNoReaders = errors.New("no reader supports the accepted formats")
)

var toZXing = map[hints.Format]gozxing.BarcodeFormat{
	hints.FormatAztec:       gozxing.BarcodeFormat_AZTEC,
	hints.FormatPDF417:      gozxing.BarcodeFormat_PDF_417,
	hints.FormatQRCode:      gozxing.BarcodeFormat_QR_CODE,
	hints.FormatUPCA:        gozxing.BarcodeFormat_UPC_A,
	hints.FormatUPCE:        gozxing.BarcodeFormat_UPC_E,
	hints.FormatEAN13:       gozxing.BarcodeFormat_EAN_13,
	hints.FormatEAN8:        gozxing.BarcodeFormat_EAN_8,
	hints.FormatRSS14:       gozxing.BarcodeFormat_RSS_14,
	hints.FormatRSSExpanded: gozxing.BarcodeFormat_RSS_EXPANDED,
	hints.FormatCode39:      gozxing.BarcodeFormat_CODE_39,
	hints.FormatCode93:      gozxing.BarcodeFormat_CODE_93,
	hints.FormatCode128:     gozxing.BarcodeFormat_CODE_128,
	hints.FormatITF:         gozxing.BarcodeFormat_ITF,
	hints.FormatCodabar:     gozxing.BarcodeFormat_CODABAR,
}

var fromZXing = func() map[gozxing.BarcodeFormat]hints.Format {
	m := make(map[gozxing.BarcodeFormat]hints.Format, len(toZXing))
	for k, v := range toZXing {
		m[v] = k
	}
	return m
}()

// Decoder builds gozxing readers for a session's hints. It implements
// capture.Preparer so the readers are built once on the worker goroutine;
// Decode on the unprepared value builds them per call.
type Decoder struct {
	logger zerolog.Logger
}

var (
	_ capture.Decoder  = (*Decoder)(nil)
	_ capture.Preparer = (*Decoder)(nil)
)

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// New returns a gozxing-backed decoder.
func New(opts ...Option) *Decoder {
	d := &Decoder{logger: xglog.WithComponent("decoder")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prepare resolves h into the set of readers and the gozxing hint map.
func (d *Decoder) Prepare(h hints.Hints) (capture.Decoder, error) {
	p, err := d.prepare(h)
	if err != nil {
		return nil, err
	}
	d.logger.Debug().
		Str(xglog.FieldMode, string(h.Mode())).
		Strs("readers", p.readerNames()).
		Msg("decoder prepared")
	return p, nil
}

// Decode prepares readers for this call only.
func (d *Decoder) Decode(ctx context.Context, f *frame.Frame, h hints.Hints) (*capture.Result, error) {
	p, err := d.prepare(h)
	if err != nil {
		return nil, err
	}
	return p.Decode(ctx, f, h)
}

type readerFactory struct {
	format hints.Format
	name   string
	build  func() gozxing.Reader
}

var matrixReaders = []readerFactory{
	{hints.FormatQRCode, "qr_code", zxqr.NewQRCodeReader},
	{hints.FormatAztec, "aztec", func() gozxing.Reader { return aztec.NewAztecReader() }},
}

// oneDReaders run after the shared UPC/EAN reader, in zxing's order. gozxing
// has no RSS_EXPANDED or PDF_417 reader, so those formats never decode.
var oneDReaders = []readerFactory{
	{hints.FormatCode39, "code_39", oned.NewCode39Reader},
	{hints.FormatCodabar, "codabar", oned.NewCodaBarReader},
	{hints.FormatCode93, "code_93", oned.NewCode93Reader},
	{hints.FormatCode128, "code_128", oned.NewCode128Reader},
	{hints.FormatITF, "itf", oned.NewITFReader},
	{hints.FormatRSS14, "rss_14", rss.NewRSS14Reader},
}

var upcEAN = []hints.Format{hints.FormatUPCA, hints.FormatUPCE, hints.FormatEAN13, hints.FormatEAN8}

func (p *prepared) add(h hints.Hints, factories []readerFactory) {
	for _, rf := range factories {
		if h.Accepts(rf.format) {
			p.readers = append(p.readers, namedReader{name: rf.name, reader: rf.build()})
		}
	}
}

func (d *Decoder) prepare(h hints.Hints) (*prepared, error) {
	zh := ZXingHints(h)
	p := &prepared{hints: zh}

	p.add(h, matrixReaders)
	for _, f := range upcEAN {
		if h.Accepts(f) {
			p.readers = append(p.readers, namedReader{name: "upc_ean", reader: oned.NewMultiFormatUPCEANReader(zh)})
			break
		}
	}
	p.add(h, oneDReaders)
	if len(p.readers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoReaders, h.Formats())
	}

	var unsupported []string
	for _, f := range []hints.Format{hints.FormatPDF417, hints.FormatRSSExpanded} {
		if h.Accepts(f) {
			unsupported = append(unsupported, string(f))
		}
	}
	if len(unsupported) > 0 {
		d.logger.Debug().Strs("formats", unsupported).Msg("accepted formats without a reader")
	}
	return p, nil
}

// ZXingHints translates h into the gozxing hint map.
func ZXingHints(h hints.Hints) map[gozxing.DecodeHintType]interface{} {
	out := make(map[gozxing.DecodeHintType]interface{})
	formats := make([]gozxing.BarcodeFormat, 0, len(h.Formats()))
	for _, f := range h.Formats() {
		if zf, ok := toZXing[f]; ok {
			formats = append(formats, zf)
		}
	}
	out[gozxing.DecodeHintType_POSSIBLE_FORMATS] = formats
	if h.TryHarder() {
		out[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	if cs := h.CharacterSet(); cs != "" {
		out[gozxing.DecodeHintType_CHARACTER_SET] = cs
	}
	return out
}

type namedReader struct {
	name   string
	reader gozxing.Reader
}

// prepared is owned by one worker goroutine; gozxing readers are not safe
// for concurrent use.
type prepared struct {
	readers []namedReader
	hints   map[gozxing.DecodeHintType]interface{}
}

func (p *prepared) readerNames() []string {
	names := make([]string, 0, len(p.readers))
	for _, r := range p.readers {
		names = append(names, r.name)
	}
	return names
}

func (p *prepared) Decode(ctx context.Context, f *frame.Frame, _ hints.Hints) (*capture.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lum, err := f.Luminance()
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", f.Seq, err)
	}
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(gozxing.NewLuminanceSourceFromImage(lum)))
	if err != nil {
		return nil, fmt.Errorf("binarize frame %d: %w", f.Seq, err)
	}

	var lastErr error
	for _, r := range p.readers {
		res, err := r.reader.Decode(bmp, p.hints)
		r.reader.Reset()
		if err == nil {
			return convert(res), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrNotFound, lastErr)
}

func convert(r *gozxing.Result) *capture.Result {
	out := &capture.Result{
		Text:     r.GetText(),
		Format:   fromZXing[r.GetBarcodeFormat()],
		RawBytes: r.GetRawBytes(),
	}
	if out.Format == "" {
		out.Format = hints.Format(r.GetBarcodeFormat().String())
	}
	for _, p := range r.GetResultPoints() {
		if p == nil {
			continue
		}
		out.Points = append(out.Points, capture.Point{X: p.GetX(), Y: p.GetY()})
	}
	if md := r.GetResultMetadata(); len(md) > 0 {
		out.Extra = make(map[string]string, len(md))
		for k, v := range md {
			out.Extra[fmt.Sprint(k)] = fmt.Sprint(v)
		}
	}
	return out
}
