// Tributary - Distributed Log and Event Aggregator
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package worker

import (
	"github.com/tomtom215/tributary/internal/config"
)

// NewPool creates the configured number of workers, numbered from 1.
// Each worker is an independent suture.Service; the caller adds them to
// the supervisor tree.
func NewPool(cfg *config.WorkerConfig, queue Queue, store Store) []*Worker {
	count := cfg.Count
	if count < 1 {
		count = 1
	}
	workers := make([]*Worker, 0, count)
	for i := 1; i <= count; i++ {
		workers = append(workers, New(i, queue, store, cfg.PopTimeout, cfg.ErrorBackoff))
	}
	return workers
}
