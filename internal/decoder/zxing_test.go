// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package decoder

import (
	"context"
	"image"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/scanlink/internal/capture"
	"github.com/ManuGH/scanlink/internal/frame"
	"github.com/ManuGH/scanlink/internal/hints"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/rs/zerolog"
	qrgen "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/require"
)

func quiet() Option {
	return WithLogger(zerolog.New(io.Discard))
}

func qrFrame(t *testing.T, content string) *frame.Frame {
	t.Helper()
	q, err := qrgen.New(content, qrgen.Medium)
	require.NoError(t, err)
	return frame.FromImage(q.Image(256), 7, time.Now())
}

func code128Frame(t *testing.T, content string) *frame.Frame {
	t.Helper()
	m, err := oned.NewCode128Writer().Encode(content, gozxing.BarcodeFormat_CODE_128, 400, 120, nil)
	require.NoError(t, err)
	return frame.FromImage(m, 11, time.Now())
}

func ean13Frame(t *testing.T, content string) *frame.Frame {
	t.Helper()
	m, err := oned.NewEAN13Writer().Encode(content, gozxing.BarcodeFormat_EAN_13, 400, 150, nil)
	require.NoError(t, err)
	return frame.FromImage(m, 13, time.Now())
}

func fileFrame(t *testing.T, name string) *frame.Frame {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	require.NoError(t, err)
	return frame.FromImage(img, 17, time.Now())
}

func prepare(t *testing.T, mode hints.Mode) capture.Decoder {
	t.Helper()
	d, err := New(quiet()).Prepare(hints.New(mode))
	require.NoError(t, err)
	return d
}

func TestDecodeQRCodeRoundTrip(t *testing.T) {
	for _, mode := range []hints.Mode{hints.ModeQRCode, hints.ModeAll} {
		t.Run(string(mode), func(t *testing.T) {
			d := prepare(t, mode)
			res, err := d.Decode(context.Background(), qrFrame(t, "https://example.com/scan?id=42"), hints.New(mode))
			require.NoError(t, err)
			require.Equal(t, "https://example.com/scan?id=42", res.Text)
			require.Equal(t, hints.FormatQRCode, res.Format)
			require.NotEmpty(t, res.Points)
		})
	}
}

func TestDecodeCode128RoundTrip(t *testing.T) {
	d := prepare(t, hints.ModeBarcode)
	res, err := d.Decode(context.Background(), code128Frame(t, "SCAN-0042"), hints.New(hints.ModeBarcode))
	require.NoError(t, err)
	require.Equal(t, "SCAN-0042", res.Text)
	require.Equal(t, hints.FormatCode128, res.Format)
}

func TestDecodeEAN13RoundTrip(t *testing.T) {
	d := prepare(t, hints.ModeBarcode)
	res, err := d.Decode(context.Background(), ean13Frame(t, "4006381333931"), hints.New(hints.ModeBarcode))
	require.NoError(t, err)
	require.Equal(t, "4006381333931", res.Text)
	require.Equal(t, hints.FormatEAN13, res.Format)
}

func TestDecodeAztec(t *testing.T) {
	// The base formats are accepted in every mode, unknown ones included.
	for _, mode := range []hints.Mode{hints.ModeAll, hints.ModeQRCode, hints.Mode("UNKNOWN")} {
		t.Run(string(mode), func(t *testing.T) {
			d := prepare(t, mode)
			res, err := d.Decode(context.Background(), fileFrame(t, "aztec-code2d.png"), hints.New(mode))
			require.NoError(t, err)
			require.Equal(t, "Code 2D!", res.Text)
			require.Equal(t, hints.FormatAztec, res.Format)
		})
	}
}

func TestPreparedReaders(t *testing.T) {
	for _, tc := range []struct {
		mode hints.Mode
		want []string
	}{
		{hints.ModeQRCode, []string{"qr_code", "aztec"}},
		{hints.ModeBarcode, []string{"aztec", "upc_ean", "code_39", "codabar", "code_93", "code_128", "itf", "rss_14"}},
		{hints.ModeAll, []string{"qr_code", "aztec", "upc_ean", "code_39", "codabar", "code_93", "code_128", "itf", "rss_14"}},
		{hints.Mode("UNKNOWN"), []string{"aztec"}},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			d := prepare(t, tc.mode)
			p, ok := d.(*prepared)
			require.True(t, ok)
			require.Equal(t, tc.want, p.readerNames())
		})
	}
}

func TestBarcodeModeIgnoresQRCode(t *testing.T) {
	d := prepare(t, hints.ModeBarcode)
	_, err := d.Decode(context.Background(), qrFrame(t, "qr only"), hints.New(hints.ModeBarcode))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeBlankFrameFails(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range blank.Pix {
		blank.Pix[i] = 0xff
	}
	d := prepare(t, hints.ModeAll)
	_, err := d.Decode(context.Background(), frame.FromImage(blank, 1, time.Now()), hints.New(hints.ModeAll))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	d := prepare(t, hints.ModeAll)
	_, err := d.Decode(context.Background(), &frame.Frame{Data: make([]byte, 3), Width: 2, Height: 2}, hints.New(hints.ModeAll))
	require.ErrorIs(t, err, frame.ErrShortBuffer)
}

func TestDecodeHonoursCancelledContext(t *testing.T) {
	d := prepare(t, hints.ModeQRCode)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Decode(ctx, qrFrame(t, "late"), hints.New(hints.ModeQRCode))
	require.ErrorIs(t, err, context.Canceled)
}

func TestUnpreparedDecode(t *testing.T) {
	res, err := New(quiet()).Decode(context.Background(), qrFrame(t, "direct"), hints.New(hints.ModeQRCode))
	require.NoError(t, err)
	require.Equal(t, "direct", res.Text)
}

func TestPrepareWithoutReaders(t *testing.T) {
	_, err := New(quiet()).Prepare(hints.Hints{})
	require.ErrorIs(t, err, ErrNoReaders)
}

func TestZXingHints(t *testing.T) {
	h := hints.New(hints.ModeQRCode, hints.WithTryHarder(true), hints.WithCharacterSet("UTF-8"))
	zh := ZXingHints(h)

	formats, ok := zh[gozxing.DecodeHintType_POSSIBLE_FORMATS].([]gozxing.BarcodeFormat)
	require.True(t, ok)
	require.ElementsMatch(t, []gozxing.BarcodeFormat{
		gozxing.BarcodeFormat_AZTEC, gozxing.BarcodeFormat_PDF_417, gozxing.BarcodeFormat_QR_CODE,
	}, formats)
	require.Equal(t, true, zh[gozxing.DecodeHintType_TRY_HARDER])
	require.Equal(t, "UTF-8", zh[gozxing.DecodeHintType_CHARACTER_SET])

	plain := ZXingHints(hints.New(hints.ModeBarcode))
	require.NotContains(t, plain, gozxing.DecodeHintType_TRY_HARDER)
	require.NotContains(t, plain, gozxing.DecodeHintType_CHARACTER_SET)
}
