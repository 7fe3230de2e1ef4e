// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hints resolves a decode mode into the immutable set of decode
// parameters shared by every decode call of a capture session.
package hints

import (
	"fmt"
	"sort"
	"strings"
)

// Mode selects which symbol families a session accepts.
type Mode string

const (
	ModeBarcode Mode = "BARCODE"
	ModeQRCode  Mode = "QR_CODE"
	ModeAll     Mode = "ALL"
)

// ParseMode accepts the canonical names case-insensitively, plus "qr".
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BARCODE":
		return ModeBarcode, nil
	case "QR_CODE", "QRCODE", "QR":
		return ModeQRCode, nil
	case "ALL", "":
		return ModeAll, nil
	default:
		return "", fmt.Errorf("unknown decode mode %q (supported: BARCODE, QR_CODE, ALL)", s)
	}
}

// Format names a symbology, using the ZXing spelling.
type Format string

const (
	FormatAztec       Format = "AZTEC"
	FormatPDF417      Format = "PDF_417"
	FormatQRCode      Format = "QR_CODE"
	FormatUPCA        Format = "UPC_A"
	FormatUPCE        Format = "UPC_E"
	FormatEAN13       Format = "EAN_13"
	FormatEAN8        Format = "EAN_8"
	FormatRSS14       Format = "RSS_14"
	FormatRSSExpanded Format = "RSS_EXPANDED"
	FormatCode39      Format = "CODE_39"
	FormatCode93      Format = "CODE_93"
	FormatCode128     Format = "CODE_128"
	FormatITF         Format = "ITF"
	FormatCodabar     Format = "CODABAR"
)

// BaseFormats are accepted in every mode.
func BaseFormats() []Format {
	return []Format{FormatAztec, FormatPDF417}
}

// BarcodeFormats are the one-dimensional product and industrial symbologies.
func BarcodeFormats() []Format {
	return []Format{
		FormatUPCA, FormatUPCE, FormatEAN13, FormatEAN8, FormatRSS14, FormatRSSExpanded,
		FormatCode39, FormatCode93, FormatCode128, FormatITF, FormatCodabar,
	}
}

// QRCodeFormats are the two-dimensional QR symbologies.
func QRCodeFormats() []Format {
	return []Format{FormatQRCode}
}

// Key identifies a decode parameter.
type Key string

const (
	KeyPossibleFormats Key = "POSSIBLE_FORMATS"
	KeyTryHarder       Key = "TRY_HARDER"
	KeyCharacterSet    Key = "CHARACTER_SET"
)

// Hints is the immutable decode parameter mapping of one session.
// Copies share the same underlying data; nothing mutates it after New.
type Hints struct {
	mode    Mode
	formats map[Format]struct{}
	values  map[Key]any
}

// Option adjusts optional parameters while Hints is being built.
type Option func(*Hints)

// WithTryHarder asks the decoder to spend more effort per frame.
func WithTryHarder(on bool) Option {
	return func(h *Hints) {
		if on {
			h.values[KeyTryHarder] = true
		}
	}
}

// WithCharacterSet sets the expected text encoding of symbol payloads.
func WithCharacterSet(charset string) Option {
	return func(h *Hints) {
		if charset != "" {
			h.values[KeyCharacterSet] = charset
		}
	}
}

// New resolves mode into a Hints value: the base formats unioned with the
// mode's formats. An unrecognised mode yields the base formats only.
func New(mode Mode, opts ...Option) Hints {
	h := Hints{
		mode:    mode,
		formats: make(map[Format]struct{}),
		values:  make(map[Key]any),
	}
	add := func(fs []Format) {
		for _, f := range fs {
			h.formats[f] = struct{}{}
		}
	}

	add(BaseFormats())
	switch mode {
	case ModeBarcode:
		add(BarcodeFormats())
	case ModeQRCode:
		add(QRCodeFormats())
	case ModeAll:
		add(BarcodeFormats())
		add(QRCodeFormats())
	}
	for _, opt := range opts {
		opt(&h)
	}
	h.values[KeyPossibleFormats] = h.sortedFormats()
	return h
}

// Mode returns the mode the hints were resolved from.
func (h Hints) Mode() Mode { return h.mode }

// Formats returns the accepted formats in a stable order. The slice is a copy.
func (h Hints) Formats() []Format {
	return h.sortedFormats()
}

// Accepts reports whether f is in the accepted format set.
func (h Hints) Accepts(f Format) bool {
	_, ok := h.formats[f]
	return ok
}

// Get returns the value stored for key. Slice values are copied.
func (h Hints) Get(key Key) (any, bool) {
	v, ok := h.values[key]
	if fs, isFormats := v.([]Format); isFormats {
		return append([]Format(nil), fs...), ok
	}
	return v, ok
}

// TryHarder reports whether KeyTryHarder is set.
func (h Hints) TryHarder() bool {
	v, _ := h.values[KeyTryHarder].(bool)
	return v
}

// CharacterSet returns KeyCharacterSet, or "" when unset.
func (h Hints) CharacterSet() string {
	v, _ := h.values[KeyCharacterSet].(string)
	return v
}

// Keys returns the parameter keys present, sorted.
func (h Hints) Keys() []Key {
	keys := make([]Key, 0, len(h.values))
	for k := range h.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (h Hints) sortedFormats() []Format {
	out := make([]Format, 0, len(h.formats))
	for f := range h.formats {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
