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

package backup

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/config"
	"github.com/snaplife/snaplife/pkg/metrics"
)

// Backupper snapshots instances across regions. Regions are processed
// concurrently and independently; failures are isolated per instance so
// one bad instance does not abort a region's run.
type Backupper struct {
	log     logrus.FieldLogger
	dialer  cloud.Dialer
	cfg     *config.Config
	metrics *metrics.ServerMetrics
}

func NewBackupper(log logrus.FieldLogger, dialer cloud.Dialer, cfg *config.Config, serverMetrics *metrics.ServerMetrics) *Backupper {
	return &Backupper{
		log:     log,
		dialer:  dialer,
		cfg:     cfg,
		metrics: serverMetrics,
	}
}

// BackupInstance snapshots every volume attached to the instance and
// returns the created snapshots.
func (b *Backupper) BackupInstance(ctx context.Context, api cloud.API, instanceID string, synchronous bool) ([]*cloud.Snapshot, error) {
	inst, err := api.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	creator := NewCreator(b.log, api, b.cfg, b.metrics)

	// Walk device paths in a stable order.
	devices := make([]string, 0, len(inst.BlockDevices))
	for dev := range inst.BlockDevices {
		devices = append(devices, dev)
	}
	sort.Strings(devices)

	var snaps []*cloud.Snapshot
	for _, dev := range devices {
		vol, err := api.GetVolume(ctx, inst.BlockDevices[dev])
		if err != nil {
			return snaps, err
		}
		snap, err := creator.Create(ctx, vol, CreateOptions{Synchronous: synchronous})
		if err != nil {
			return snaps, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// BackupByTag snapshots every instance carrying the configured tag, in
// the named region or in all regions when region is empty.
func (b *Backupper) BackupByTag(ctx context.Context, region string, synchronous bool) error {
	regions := []string{region}
	if region == "" {
		var err error
		if regions, err = b.dialer.Regions(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, reg := range regions {
		reg := reg
		g.Go(func() error {
			return b.backupRegionByTag(ctx, reg, synchronous)
		})
	}
	return g.Wait()
}

func (b *Backupper) backupRegionByTag(ctx context.Context, region string, synchronous bool) error {
	api, err := b.dialer.Dial(ctx, region)
	if err != nil {
		return err
	}
	log := b.log.WithField("region", api.Region())

	instances, err := api.ListInstancesByTag(ctx, b.cfg.TagName, b.cfg.TagValue)
	if err != nil {
		return err
	}

	for _, inst := range instances {
		if _, err := b.BackupInstance(ctx, api, inst.ID, synchronous); err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.WithError(err).WithField("instance", inst.ID).Error("Error backing up instance; continuing with siblings")
		}
	}
	return nil
}

// CloneInstanceTags copies every instance's tags onto its attached
// volumes in all regions, so snapshots cloned from volume tags keep the
// instance's labels.
func (b *Backupper) CloneInstanceTags(ctx context.Context) error {
	regions, err := b.dialer.Regions(ctx)
	if err != nil {
		return err
	}

	for _, region := range regions {
		api, err := b.dialer.Dial(ctx, region)
		if err != nil {
			return err
		}
		instances, err := api.ListInstances(ctx)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			for _, volID := range inst.BlockDevices {
				if err := api.AddTags(ctx, volID, inst.Tags); err != nil {
					b.log.WithError(err).WithFields(logrus.Fields{
						"region":   region,
						"instance": inst.ID,
						"volume":   volID,
					}).Error("Error cloning instance tags to volume")
				}
			}
		}
	}
	return nil
}
