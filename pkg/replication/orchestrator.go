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

package replication

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snaplife/snaplife/pkg/backup"
	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/config"
	"github.com/snaplife/snaplife/pkg/metrics"
	"github.com/snaplife/snaplife/pkg/provenance"
	"github.com/snaplife/snaplife/pkg/transfer"
)

// encryptedRootDevice is the root-device naming signature of volumes that
// carry an encrypted filesystem: those cannot be mounted on the conduit
// instances and must be piped block-for-block.
const encryptedRootDevice = "/dev/sda"

// Orchestrator drives cross-region snapshot replication.
type Orchestrator struct {
	log     logrus.FieldLogger
	dialer  cloud.Dialer
	ssh     transfer.Dialer
	cfg     *config.Config
	metrics *metrics.ServerMetrics

	// now is swappable for tests.
	now func() time.Time
}

func NewOrchestrator(log logrus.FieldLogger, dialer cloud.Dialer, sshDialer transfer.Dialer, cfg *config.Config, serverMetrics *metrics.ServerMetrics) *Orchestrator {
	return &Orchestrator{
		log:     log,
		dialer:  dialer,
		ssh:     sshDialer,
		cfg:     cfg,
		metrics: serverMetrics,
		now:     time.Now,
	}
}

// conduit is a provisioned transfer endpoint: a temporary instance with
// its ephemeral credential and an open privileged-exec channel, owned by
// its session.
type conduit struct {
	session *Session
	broker  *Broker
	api     cloud.API
	cred    *TempCredential
	inst    *cloud.Instance
	exec    transfer.Exec
}

func (o *Orchestrator) provisionConduit(ctx context.Context, api cloud.API) (*conduit, error) {
	s := NewSession(o.log, api.Region(), o.metrics)
	c := &conduit{session: s, broker: NewBroker(o.log, api, o.cfg), api: api}

	provisioned := false
	defer func() {
		if !provisioned {
			s.Close(ctx)
		}
	}()

	var err error
	if c.cred, err = c.broker.TempCredential(ctx, s); err != nil {
		return nil, err
	}
	if c.inst, err = c.broker.TempInstance(ctx, s, c.cred); err != nil {
		return nil, err
	}
	if c.exec, err = o.ssh.Dial(ctx, c.inst.PublicDNSName, o.cfg.SSH.User, c.cred.PEM); err != nil {
		return nil, err
	}
	s.onClose("ssh connection", func(context.Context) error { return c.exec.Close() })

	provisioned = true
	return c, nil
}

// ReplicateSnapshot duplicates one snapshot into the destination region.
// Replication is idempotent: once the destination holds a snapshot of the
// same origin volume with an equal or newer logical time, the call is a
// no-op returning the existing destination snapshot.
func (o *Orchestrator) ReplicateSnapshot(ctx context.Context, srcRegion, snapshotID, dstRegion string) (*cloud.Snapshot, error) {
	srcAPI, err := o.dialer.Dial(ctx, srcRegion)
	if err != nil {
		return nil, err
	}
	dstAPI, err := o.dialer.Dial(ctx, dstRegion)
	if err != nil {
		return nil, err
	}
	return o.replicate(ctx, srcAPI, dstAPI, snapshotID, nil, nil)
}

// replicate runs one replication attempt, optionally reusing
// caller-supplied conduits so a batch run amortizes instance provisioning
// across volumes.
func (o *Orchestrator) replicate(ctx context.Context, srcAPI, dstAPI cloud.API, snapshotID string, src, dst *conduit) (*cloud.Snapshot, error) {
	log := o.log.WithFields(logrus.Fields{
		"snapshotID":        snapshotID,
		"sourceRegion":      srcAPI.Region(),
		"destinationRegion": dstAPI.Region(),
	})

	srcSnap, err := srcAPI.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	srcVol := provenance.SnapVolume(srcSnap)
	encrypted := provenance.SnapDevice(srcSnap) == encryptedRootDevice
	if encrypted {
		log.Info("Found traces of encryption, transfer will pipe the raw device")
	}

	// Freshness short-circuit: find the destination's latest snapshot of
	// the same origin volume.
	dstSnaps, err := dstAPI.ListSnapshots(ctx, cloud.SnapshotFilter{})
	if err != nil {
		return nil, err
	}
	var dstSnap *cloud.Snapshot
	for _, snap := range dstSnaps {
		if snap.Status == cloud.SnapshotError || provenance.SnapVolume(snap) != srcVol {
			continue
		}
		if dstSnap == nil || provenance.SnapTime(snap).After(provenance.SnapTime(dstSnap)) {
			dstSnap = snap
		}
	}
	if dstSnap != nil && !provenance.SnapTime(dstSnap).Before(provenance.SnapTime(srcSnap)) {
		log.WithField("destinationSnapshot", dstSnap.ID).Info("Stepping over: source is not newer than destination")
		if o.metrics != nil {
			o.metrics.RegisterReplicationNoop(srcAPI.Region(), dstAPI.Region())
		}
		return dstSnap, nil
	}

	if o.metrics != nil {
		o.metrics.RegisterReplicationAttempt(srcAPI.Region(), dstAPI.Region())
	}
	started := o.now()

	newSnap, err := o.transferAndSnapshot(ctx, log, srcAPI, dstAPI, srcSnap, dstSnap, src, dst, encrypted)
	if err != nil {
		log.WithError(err).Error("Replication attempt failed")
		if o.metrics != nil {
			o.metrics.RegisterReplicationFailure(srcAPI.Region(), dstAPI.Region())
		}
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.RegisterReplicationSuccess(srcAPI.Region(), dstAPI.Region())
		o.metrics.ObserveReplicationDuration(srcAPI.Region(), dstAPI.Region(), o.now().Sub(started))
	}
	return newSnap, nil
}

// transferAndSnapshot performs the attach/transfer/snapshot sequence.
// dstSnap is the destination's latest snapshot of the origin volume, or
// nil when the volume has never been replicated here.
func (o *Orchestrator) transferAndSnapshot(ctx context.Context, log logrus.FieldLogger, srcAPI, dstAPI cloud.API, srcSnap, dstSnap *cloud.Snapshot, src, dst *conduit, encrypted bool) (*cloud.Snapshot, error) {
	// A volume that was never replicated needs a formatted baseline to
	// restore the destination conduit volume from.
	baseline := false
	if dstSnap == nil {
		var err error
		if dstSnap, err = o.createEmptyBaseline(ctx, dstAPI, srcSnap.SizeGiB); err != nil {
			return nil, err
		}
		baseline = true
	}

	if src == nil {
		var err error
		if src, err = o.provisionConduit(ctx, srcAPI); err != nil {
			return nil, err
		}
		defer src.session.Close(ctx)
	}
	if dst == nil {
		var err error
		if dst, err = o.provisionConduit(ctx, dstAPI); err != nil {
			return nil, err
		}
		defer dst.session.Close(ctx)
	}

	// Volumes attached for this one transfer get their own sessions so a
	// batch run releases them before moving to the next volume.
	srcScratch := NewSession(o.log, srcAPI.Region(), o.metrics)
	defer srcScratch.Close(ctx)
	dstScratch := NewSession(o.log, dstAPI.Region(), o.metrics)
	defer dstScratch.Close(ctx)

	srcVol, srcDevice, err := o.attachSnapshot(ctx, src, srcScratch, srcSnap)
	if err != nil {
		return nil, err
	}
	dstVol, dstDevice, err := o.attachSnapshot(ctx, dst, dstScratch, dstSnap)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"sizeGiB":   srcSnap.SizeGiB,
		"encrypted": encrypted,
	}).Info("Transferring volume contents")

	if encrypted {
		err = transfer.RawPipe(ctx, log, src.exec, dst.exec, srcDevice, dstDevice, dst.inst.PublicIP, o.cfg.Replication.Port)
	} else {
		err = o.syncFilesystems(ctx, log, src, dst, srcVol, dstVol, srcDevice, dstDevice)
	}
	if err != nil {
		return nil, err
	}

	// The fresh destination snapshot carries the source's description and
	// tags, so the logical time propagates and freshness comparisons keep
	// working across regions.
	cur, err := dstAPI.GetVolume(ctx, dstVol.ID)
	if err != nil {
		return nil, err
	}
	creator := backup.NewCreator(o.log, dstAPI, o.cfg, o.metrics)
	newSnap, err := creator.Create(ctx, cur, backup.CreateOptions{
		Description: srcSnap.Description,
		Tags:        srcSnap.Tags,
		Synchronous: true,
	})
	if err != nil {
		return nil, err
	}

	// Only the empty baseline is superseded here. A previously existing
	// real destination snapshot is retention's to retire, not ours.
	if baseline {
		log.WithField("snapshotID", dstSnap.ID).Info("Deleting superseded empty baseline snapshot")
		if err := dstAPI.DeleteSnapshot(ctx, dstSnap.ID); err != nil {
			log.WithError(err).WithField("snapshotID", dstSnap.ID).Error("Error deleting baseline snapshot")
		}
	}
	return newSnap, nil
}

// syncFilesystems mounts both ends and runs the filesystem-aware sync.
func (o *Orchestrator) syncFilesystems(ctx context.Context, log logrus.FieldLogger, src, dst *conduit, srcVol, dstVol *cloud.Volume, srcDevice, dstDevice string) error {
	srcMount := o.mountPoint(srcVol.ID)
	dstMount := o.mountPoint(dstVol.ID)

	if err := transfer.Mount(ctx, src.exec, srcDevice, srcMount); err != nil {
		return err
	}
	defer func() {
		if err := transfer.Unmount(ctx, src.exec, srcMount); err != nil {
			log.WithError(err).Error("Error unmounting source volume")
		}
	}()
	if err := transfer.Mount(ctx, dst.exec, dstDevice, dstMount); err != nil {
		return err
	}
	defer func() {
		if err := transfer.Unmount(ctx, dst.exec, dstMount); err != nil {
			log.WithError(err).Error("Error unmounting destination volume")
		}
	}()

	return transfer.Sync(ctx, log, src.exec, dst.exec, transfer.SyncParams{
		SrcMount:  srcMount,
		DstMount:  dstMount,
		SrcDevice: srcDevice,
		DstDevice: dstDevice,
		DstHost:   dst.inst.PublicDNSName,
		DstKeyPEM: dst.cred.PEM,
	})
}

// attachSnapshot restores a snapshot into a scratch volume in the
// conduit's zone and attaches it.
func (o *Orchestrator) attachSnapshot(ctx context.Context, c *conduit, scratch *Session, snap *cloud.Snapshot) (*cloud.Volume, string, error) {
	vol, err := c.broker.TempVolume(ctx, scratch, snap.SizeGiB, snap.ID, c.inst.Zone)
	if err != nil {
		return nil, "", err
	}

	// Refetch the instance so device selection sees attachments made by
	// earlier volumes in a batch run.
	inst, err := c.api.GetInstance(ctx, c.inst.ID)
	if err != nil {
		return nil, "", err
	}
	device, err := c.broker.Attach(ctx, vol, inst)
	if err != nil {
		return nil, "", err
	}
	return vol, device, nil
}

// createEmptyBaseline materializes a completed snapshot of a freshly
// formatted volume in the region, to serve as the first restore base for
// a volume that has never been replicated here. All scaffolding is torn
// down before returning.
func (o *Orchestrator) createEmptyBaseline(ctx context.Context, api cloud.API, sizeGiB int32) (*cloud.Snapshot, error) {
	log := o.log.WithField("region", api.Region())
	log.Info("No destination snapshot for this volume yet, creating empty baseline")

	s := NewSession(o.log, api.Region(), o.metrics)
	defer s.Close(ctx)
	broker := NewBroker(o.log, api, o.cfg)

	cred, err := broker.TempCredential(ctx, s)
	if err != nil {
		return nil, err
	}
	inst, err := broker.TempInstance(ctx, s, cred)
	if err != nil {
		return nil, err
	}
	vol, err := broker.TempVolume(ctx, s, sizeGiB, "", inst.Zone)
	if err != nil {
		return nil, err
	}
	device, err := broker.Attach(ctx, vol, inst)
	if err != nil {
		return nil, err
	}

	exec, err := o.ssh.Dial(ctx, inst.PublicDNSName, o.cfg.SSH.User, cred.PEM)
	if err != nil {
		return nil, err
	}
	s.onClose("ssh connection", func(context.Context) error { return exec.Close() })

	mount := o.mountPoint(vol.ID)
	if err := transfer.FormatAndMount(ctx, exec, device, mount); err != nil {
		return nil, err
	}
	if err := transfer.Unmount(ctx, exec, mount); err != nil {
		return nil, err
	}

	snap, err := api.CreateSnapshot(ctx, vol.ID, "")
	if err != nil {
		return nil, err
	}
	if err := api.AddTags(ctx, snap.ID, map[string]string{o.cfg.TagName: TempTagValue}); err != nil {
		return nil, err
	}
	// The baseline must complete before a volume can be restored from it.
	if err := broker.WaitSnapshotCompleted(ctx, snap.ID); err != nil {
		return nil, err
	}
	return api.GetSnapshot(ctx, snap.ID)
}

func (o *Orchestrator) mountPoint(volumeID string) string {
	return path.Join(o.cfg.Replication.MountRoot, volumeID)
}

// ReplicateRegion duplicates the latest tagged snapshot of every volume
// in the source region into the destination region, reusing one pair of
// conduit instances for the whole batch. Per-volume failures are isolated
// so one bad volume does not abort the run.
func (o *Orchestrator) ReplicateRegion(ctx context.Context, srcRegion, dstRegion string, nativeOnly bool) error {
	srcAPI, err := o.dialer.Dial(ctx, srcRegion)
	if err != nil {
		return err
	}
	dstAPI, err := o.dialer.Dial(ctx, dstRegion)
	if err != nil {
		return err
	}
	log := o.log.WithFields(logrus.Fields{
		"sourceRegion":      srcAPI.Region(),
		"destinationRegion": dstAPI.Region(),
	})

	snaps, err := srcAPI.ListSnapshots(ctx, cloud.SnapshotFilter{
		TagKey:   o.cfg.TagName,
		TagValue: o.cfg.TagValue,
	})
	if err != nil {
		return err
	}

	latest := make(map[string]*cloud.Snapshot)
	for _, snap := range snaps {
		if snap.Status == cloud.SnapshotError || !provenance.IsDescribed(snap) {
			continue
		}
		if nativeOnly && !provenance.IsNative(snap, srcAPI.Region()) {
			continue
		}
		vol := provenance.SnapVolume(snap)
		if cur, ok := latest[vol]; !ok || provenance.SnapTime(snap).After(provenance.SnapTime(cur)) {
			latest[vol] = snap
		}
	}
	if len(latest) == 0 {
		log.Info("No eligible snapshots to replicate")
		return nil
	}

	src, err := o.provisionConduit(ctx, srcAPI)
	if err != nil {
		return err
	}
	defer src.session.Close(ctx)
	dst, err := o.provisionConduit(ctx, dstAPI)
	if err != nil {
		return err
	}
	defer dst.session.Close(ctx)

	volumes := make([]string, 0, len(latest))
	for vol := range latest {
		volumes = append(volumes, vol)
	}
	sort.Strings(volumes)

	for _, vol := range volumes {
		snap := latest[vol]
		if _, err := o.replicate(ctx, srcAPI, dstAPI, snap.ID, src, dst); err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.WithError(err).WithFields(logrus.Fields{
				"volume":     vol,
				"snapshotID": snap.ID,
			}).Error("Replication failed, continuing with remaining volumes")
		}
	}
	return nil
}
