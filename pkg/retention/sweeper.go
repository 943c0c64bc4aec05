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
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/metrics"
	"github.com/snaplife/snaplife/pkg/provenance"
)

// Sweeper runs the retention pass against live regions: it plans
// checkpoints, groups each region's snapshot inventory by origin volume
// and trims. Regions are independent; a failure in one does not stop the
// others.
type Sweeper struct {
	log     logrus.FieldLogger
	dialer  cloud.Dialer
	policy  Policy
	metrics *metrics.ServerMetrics

	// now is swappable for tests.
	now func() time.Time
}

func NewSweeper(log logrus.FieldLogger, dialer cloud.Dialer, policy Policy, serverMetrics *metrics.ServerMetrics) *Sweeper {
	return &Sweeper{
		log:     log,
		dialer:  dialer,
		policy:  policy,
		metrics: serverMetrics,
		now:     time.Now,
	}
}

// TrimRegion trims one region. Under dryRun the full decision logic runs
// but nothing is mutated.
func (s *Sweeper) TrimRegion(ctx context.Context, region string, dryRun bool) ([]string, error) {
	api, err := s.dialer.Dial(ctx, region)
	if err != nil {
		return nil, err
	}
	log := s.log.WithField("region", api.Region())

	snaps, err := api.ListSnapshots(ctx, cloud.SnapshotFilter{})
	if err != nil {
		return nil, errors.Wrapf(err, "listing snapshots in %s", api.Region())
	}

	// Only snapshots that name an origin volume participate; the rest
	// were created out-of-band and are not ours to retire.
	groups := make(map[string][]*cloud.Snapshot)
	for _, snap := range snaps {
		if vol := provenance.SnapVolume(snap); vol != "" {
			groups[vol] = append(groups[vol], snap)
		}
	}

	trimmed := NewTrimmer(log, api).Trim(ctx, groups, Plan(s.now(), s.policy), dryRun)
	if !dryRun && s.metrics != nil {
		s.metrics.AddTrimmedSnapshots(api.Region(), len(trimmed))
	}
	log.WithFields(logrus.Fields{"trimmed": len(trimmed), "dryRun": dryRun}).Info("Retention sweep complete")
	return trimmed, nil
}

// TrimAll trims every region, or just the named one when region is
// non-empty. Broken (status=error) snapshots are removed first so they
// don't distort the sweep.
func (s *Sweeper) TrimAll(ctx context.Context, region string, dryRun bool) error {
	if !dryRun {
		if err := s.DeleteBroken(ctx); err != nil {
			s.log.WithError(err).Error("Error deleting broken snapshots")
		}
	}

	regions := []string{region}
	if region == "" {
		var err error
		if regions, err = s.dialer.Regions(ctx); err != nil {
			return err
		}
	}

	for _, reg := range regions {
		s.log.WithField("region", reg).Info("Processing region")
		if _, err := s.TrimRegion(ctx, reg, dryRun); err != nil {
			s.log.WithError(err).WithField("region", reg).Error("Retention sweep failed; continuing with remaining regions")
		}
	}
	return nil
}

// DeleteBroken deletes snapshots with status error in every region.
func (s *Sweeper) DeleteBroken(ctx context.Context) error {
	regions, err := s.dialer.Regions(ctx)
	if err != nil {
		return err
	}
	for _, region := range regions {
		api, err := s.dialer.Dial(ctx, region)
		if err != nil {
			return err
		}
		snaps, err := api.ListSnapshots(ctx, cloud.SnapshotFilter{Status: cloud.SnapshotError})
		if err != nil {
			return errors.Wrapf(err, "listing broken snapshots in %s", region)
		}
		for _, snap := range snaps {
			log := s.log.WithFields(logrus.Fields{"region": region, "snapshotID": snap.ID})
			log.Info("Deleting broken snapshot")
			if err := api.DeleteSnapshot(ctx, snap.ID); err != nil {
				log.WithError(err).Error("Error deleting broken snapshot")
			}
		}
	}
	return nil
}
