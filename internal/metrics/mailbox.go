// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MailboxDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_mailbox_dropped_total",
		Help: "Total number of mailbox messages dropped by mailbox and reason",
	}, []string{"mailbox", "reason"})

	MailboxPurgedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scanlink_mailbox_purged_total",
		Help: "Total number of pending mailbox messages removed before delivery by mailbox and reason",
	}, []string{"mailbox", "reason"})
)

// IncMailboxDrop records a message that could not be posted to a mailbox.
func IncMailboxDrop(mailbox, reason string) {
	if mailbox == "" {
		mailbox = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	MailboxDroppedTotal.WithLabelValues(mailbox, reason).Inc()
}

// Purge reasons: a selective Remove or the discard on Close.
const (
	PurgeReasonRemoved = "purged"
	PurgeReasonClosed  = "closed"
)

// AddMailboxPurged records pending messages removed from a mailbox.
func AddMailboxPurged(mailbox, reason string, n int) {
	if n <= 0 {
		return
	}
	if mailbox == "" {
		mailbox = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	MailboxPurgedTotal.WithLabelValues(mailbox, reason).Add(float64(n))
}
