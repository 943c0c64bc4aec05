/*
Copyright the Snaplife contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package retention

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/provenance"
)

// PreserveTagKey marks a snapshot immune to trimming regardless of the
// checkpoint sweep's decision.
const PreserveTagKey = "preserve_snapshot"

// SnapshotDeleter is the only collaborator capability the trimmer needs.
type SnapshotDeleter interface {
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}

// Trimmer applies a checkpoint plan to a region's snapshot inventory.
type Trimmer struct {
	log     logrus.FieldLogger
	deleter SnapshotDeleter
}

func NewTrimmer(log logrus.FieldLogger, deleter SnapshotDeleter) *Trimmer {
	return &Trimmer{log: log, deleter: deleter}
}

// Trim sweeps each volume's snapshots, oldest first, against the
// checkpoints, oldest first, keeping exactly one snapshot per checkpoint
// interval and deleting the rest. It returns the IDs it deleted (or would
// delete, under dryRun). Rules carried over unchanged from the historical
// behavior:
//
//   - the newest snapshot of a volume is never deleted;
//   - a snapshot tagged preserve_snapshot is never deleted;
//   - snapshots older than the oldest checkpoint, or reached after the
//     checkpoint cursor is exhausted, are left undecided — no checkpoint
//     means no decision, even though that can retain very old snapshots
//     forever (compatibility-sensitive; see DESIGN.md);
//   - a failed delete is logged and the sweep continues with siblings.
func (t *Trimmer) Trim(ctx context.Context, groups map[string][]*cloud.Snapshot, checkpoints []time.Time, dryRun bool) []string {
	var trimmed []string

	for volumeID, snaps := range groups {
		log := t.log.WithField("volume", volumeID)

		snaps = append([]*cloud.Snapshot(nil), snaps...)
		sort.Slice(snaps, func(i, j int) bool {
			return provenance.SnapTime(snaps[i]).Before(provenance.SnapTime(snaps[j]))
		})
		if len(snaps) > 0 {
			// Never delete the newest snapshot of a volume.
			snaps = snaps[:len(snaps)-1]
		}

		cursor := 0
		satisfied := false
		for _, snap := range snaps {
			checkThisSnap := true
			for checkThisSnap && cursor < len(checkpoints) {
				if provenance.SnapTime(snap).Before(checkpoints[cursor]) {
					// The snapshot belongs to the current interval. Both
					// the checkpoints and the snapshots are sorted
					// chronologically, so it cannot belong to an earlier
					// one.
					if satisfied {
						if snap.Tags[PreserveTagKey] == "" {
							if t.delete(ctx, log, snap, dryRun) {
								trimmed = append(trimmed, snap.ID)
							}
						}
					} else {
						// First snapshot found for this interval: keep it.
						satisfied = true
					}
					checkThisSnap = false
				} else {
					// At or after the cutoff: re-test the same snapshot
					// against the next checkpoint.
					cursor++
					satisfied = false
				}
			}
		}
	}

	return trimmed
}

// delete removes one snapshot (or reports the intent under dryRun) and
// returns whether the ID should count as trimmed.
func (t *Trimmer) delete(ctx context.Context, log logrus.FieldLogger, snap *cloud.Snapshot, dryRun bool) bool {
	log = log.WithFields(logrus.Fields{
		"snapshotID":  snap.ID,
		"description": snap.Description,
		"startTime":   snap.StartTime,
	})

	if dryRun {
		log.Info("Dry-trimmed snapshot")
		return true
	}

	if err := t.deleter.DeleteSnapshot(ctx, snap.ID); err != nil {
		log.WithError(err).Error("Error deleting snapshot; continuing with siblings")
		return false
	}
	log.Info("Trimmed snapshot")
	return true
}
