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

// Package backup creates provenance-tagged snapshots of volumes, one-off
// or across every tagged instance of every region.
package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/config"
	"github.com/snaplife/snaplife/pkg/metrics"
	"github.com/snaplife/snaplife/pkg/provenance"
	"github.com/snaplife/snaplife/pkg/waiter"
)

// snapshotDone is the progress value that marks a finished snapshot.
const snapshotDone = "100%"

// CreateOptions controls a single snapshot creation.
type CreateOptions struct {
	// Description overrides the synthesized provenance record. Callers
	// that set it are responsible for keeping it parseable.
	Description string
	// Tags, when set, are applied instead of cloning the instance's and
	// volume's tags.
	Tags map[string]string
	// Synchronous waits for completion, deleting and re-initiating the
	// snapshot on timeout or a wrong completion status.
	Synchronous bool
}

// Creator takes snapshots of volumes in one region.
type Creator struct {
	log     logrus.FieldLogger
	api     cloud.API
	waiter  *waiter.Waiter
	metrics *metrics.ServerMetrics

	// now stamps the provenance record; swappable for tests.
	now func() time.Time
}

func NewCreator(log logrus.FieldLogger, api cloud.API, cfg *config.Config, serverMetrics *metrics.ServerMetrics) *Creator {
	return &Creator{
		log:     log,
		api:     api,
		waiter:  waiter.New(log, cfg.SnapshotTimeout, cfg.MaxWaitInterval),
		metrics: serverMetrics,
		now:     time.Now,
	}
}

// Create snapshots the volume. Synchronous creation retries until the
// provider reports a completed snapshot: a snapshot that times out or
// finishes in the wrong status is deleted and re-initiated, without an
// attempt bound — snapshot creation is assumed eventually reliable, and
// only context cancellation stops the loop.
func (c *Creator) Create(ctx context.Context, vol *cloud.Volume, opts CreateOptions) (*cloud.Snapshot, error) {
	log := c.log.WithFields(logrus.Fields{"volume": vol.ID, "region": c.api.Region()})

	var inst *cloud.Instance
	if vol.Attached() {
		var err error
		if inst, err = c.api.GetInstance(ctx, vol.Attachment.InstanceID); err != nil {
			return nil, err
		}
	}

	description := opts.Description
	if description == "" {
		rec := provenance.Record{
			Volume: vol.ID,
			Region: c.api.Region(),
			Time:   provenance.Timestamp(c.now()),
		}
		if inst != nil {
			rec.Device = vol.Attachment.Device
			rec.Instance = inst.ID
			rec.Type = inst.Type
			rec.Arch = inst.Architecture
			rec.RootDevName = inst.RootDeviceName
		}
		var err error
		if description, err = rec.Encode(); err != nil {
			return nil, err
		}
	}

	initiate := func() (*cloud.Snapshot, error) {
		if c.metrics != nil {
			c.metrics.RegisterSnapshotAttempt(c.api.Region())
		}
		snap, err := c.api.CreateSnapshot(ctx, vol.ID, description)
		if err != nil {
			return nil, err
		}
		if len(opts.Tags) > 0 {
			if err := c.api.AddTags(ctx, snap.ID, opts.Tags); err != nil {
				return nil, err
			}
		} else {
			if inst != nil {
				if err := c.api.AddTags(ctx, snap.ID, inst.Tags); err != nil {
					return nil, err
				}
			}
			if err := c.api.AddTags(ctx, snap.ID, vol.Tags); err != nil {
				return nil, err
			}
		}
		log.WithField("snapshotID", snap.ID).Info("Snapshot initiated")
		return snap, nil
	}

	if !opts.Synchronous {
		return initiate()
	}

	for {
		snap, err := initiate()
		if err != nil {
			return nil, err
		}

		observe := func(ctx context.Context) (string, error) {
			cur, err := c.api.GetSnapshot(ctx, snap.ID)
			if err != nil {
				return "", err
			}
			return cur.Progress, nil
		}

		waitErr := c.waiter.WaitFor(ctx, "snapshot "+snap.ID, observe, snapshotDone)
		if waitErr == nil {
			cur, err := c.api.GetSnapshot(ctx, snap.ID)
			if err != nil {
				return nil, err
			}
			if cur.Status == cloud.SnapshotCompleted {
				if c.metrics != nil {
					c.metrics.RegisterSnapshotSuccess(c.api.Region())
				}
				return cur, nil
			}
			waitErr = &wrongStatusError{id: snap.ID, status: cur.Status}
		}

		var (
			timeout *waiter.StateTimeoutError
			wrong   *wrongStatusError
		)
		if !errors.As(waitErr, &timeout) && !errors.As(waitErr, &wrong) {
			return nil, waitErr
		}

		log.WithError(waitErr).WithField("snapshotID", snap.ID).Error("Deleting malformed snapshot and retrying")
		if c.metrics != nil {
			c.metrics.RegisterSnapshotFailure(c.api.Region())
		}
		if err := c.api.DeleteSnapshot(ctx, snap.ID); err != nil {
			log.WithError(err).WithField("snapshotID", snap.ID).Error("Error deleting malformed snapshot")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// wrongStatusError marks a snapshot that reached full progress but
// finished in a status other than completed.
type wrongStatusError struct {
	id     string
	status cloud.SnapshotStatus
}

func (e *wrongStatusError) Error() string {
	return fmt.Sprintf("snapshot %s completed with wrong status %q", e.id, e.status)
}
