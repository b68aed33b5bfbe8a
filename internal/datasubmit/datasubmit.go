// Package datasubmit implements the data submitter: bulk
// dequeue of overlap-serializer-ready writes, optional insertion sort by
// pos_lb, and batched submission to DDEV.
package datasubmit

import (
	"github.com/cockroachdb/errors"

	"github.com/chunbee/walb-driver/internal/pack"
)

// DDEV is the subset of blockio.Device the data submitter needs.
type DDEV interface {
	WriteAt(buf []byte, off int64) (int, error)
}

// Config governs data-submitter behavior.
type Config struct {
	LBS        uint32
	SortDataIO bool // is_sort_data_io
}

// Submitter submits a batch of ready writes to DDEV.
type Submitter struct {
	ddev DDEV
	cfg  Config
}

// NewSubmitter returns a Submitter writing to ddev.
func NewSubmitter(ddev DDEV, cfg Config) *Submitter {
	return &Submitter{ddev: ddev, cfg: cfg}
}

// SubmitBatch writes every wrapper in batch to DDEV. Flush/FUA semantics on
// the wrappers are not propagated to DDEV: durability for these writes was
// already established by the log's permanence. If
// cfg.SortDataIO is set, the batch is insertion-sorted by PosLB first to
// improve the underlying device's scheduling.
func (s *Submitter) SubmitBatch(batch []*pack.BioWrapper) error {
	if s.cfg.SortDataIO {
		insertionSortByPos(batch)
	}

	lbs := int64(s.cfg.LBS)
	for _, w := range batch {
		if w.IsDiscard {
			// DISCARD records carry no payload and skip LDEV; in this
			// reimplementation they likewise skip DDEV, since there is no
			// portable cross-platform discard primitive to call through
			// blockio.Device without widening its interface beyond what
			// any example repo models.
			continue
		}
		if _, err := s.ddev.WriteAt(w.Data, int64(w.PosLB)*lbs); err != nil {
			return errors.Wrapf(err, "datasubmit: write at pos_lb=%d failed", w.PosLB)
		}
	}
	return nil
}

// insertionSortByPos sorts batch by PosLB in place. It is O(n^2) worst
// case but O(n) for already-sequential workloads.
func insertionSortByPos(batch []*pack.BioWrapper) {
	for i := 1; i < len(batch); i++ {
		j := i
		for j > 0 && batch[j-1].PosLB > batch[j].PosLB {
			batch[j-1], batch[j] = batch[j], batch[j-1]
			j--
		}
	}
}
