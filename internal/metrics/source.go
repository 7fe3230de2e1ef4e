// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanlink_frames_published_total",
		Help: "Total frames accepted by the frame source",
	})

	// FramesDroppedTotal counts frames the source discarded, by reason
	// ("invalid", "not_previewing", "rate_limited", "overwritten", "stopped").
	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_frames_dropped_total",
		Help: "Total frames dropped by the frame source",
	}, []string{"reason"})

	FramesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_frames_delivered_total",
		Help: "Total frames delivered to a frame request, by request kind",
	}, []string{"kind"})

	// WatchedFilesTotal counts drop-folder files by load result ("loaded", "skipped", "error").
	WatchedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_watched_files_total",
		Help: "Total files seen by the directory watcher",
	}, []string{"result"})
)

// IncFrameDrop records a dropped frame.
func IncFrameDrop(reason string) {
	FramesDroppedTotal.WithLabelValues(reason).Inc()
}

// IncFrameDelivered records a frame handed to a requester.
func IncFrameDelivered(kind string) {
	FramesDeliveredTotal.WithLabelValues(kind).Inc()
}

// IncWatchedFile records the outcome of loading a watched file.
func IncWatchedFile(result string) {
	WatchedFilesTotal.WithLabelValues(result).Inc()
}
