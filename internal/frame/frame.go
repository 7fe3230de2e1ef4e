// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package frame defines the image buffer handed from a frame source to the
// decode worker.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"
)

// PixelFormat describes how Data is laid out.
type PixelFormat string

const (
	// Gray8 is one luminance byte per pixel.
	Gray8 PixelFormat = "GRAY8"
	// NV21 is the common camera preview layout: a full Y plane followed by
	// interleaved VU at quarter resolution. Only the Y plane is used.
	NV21 PixelFormat = "NV21"
)

var ErrShortBuffer = errors.New("frame data shorter than width*height")

// Frame is an immutable image buffer. Producers MUST NOT modify Data after
// handing the frame to a consumer.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time
	// Seq is assigned by the frame source and increases monotonically.
	Seq uint64
}

// Validate checks that Data holds at least a full luminance plane.
func (f *Frame) Validate() error {
	if f == nil {
		return errors.New("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	switch f.Format {
	case Gray8, NV21, "":
	default:
		return fmt.Errorf("unsupported pixel format %q", f.Format)
	}
	if len(f.Data) < f.Width*f.Height {
		return fmt.Errorf("%w: have %d want %d", ErrShortBuffer, len(f.Data), f.Width*f.Height)
	}
	return nil
}

// Luminance returns the Y plane as an image without copying Data.
func (f *Frame) Luminance() (*image.Gray, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &image.Gray{
		Pix:    f.Data[:f.Width*f.Height],
		Stride: f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}, nil
}

// FromImage converts any image into a Gray8 frame.
func FromImage(img image.Image, seq uint64, ts time.Time) *Frame {
	b := img.Bounds()
	gray, ok := img.(*image.Gray)
	if !ok || gray.Stride != b.Dx() || b.Min != (image.Point{}) {
		gray = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	}
	return &Frame{
		Data:      gray.Pix,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    Gray8,
		Timestamp: ts,
		Seq:       seq,
	}
}
