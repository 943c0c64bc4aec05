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
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/config"
	"github.com/snaplife/snaplife/pkg/waiter"
)

// TempTagValue earmarks ephemeral resources under the configured tag
// name so stray leftovers are recognizable.
const TempTagValue = "temporary"

// deviceLetters are the candidate device suffixes for attaching a volume.
const deviceLetters = "fghijklmnop"

const sshPort = 22

// ProvisioningExhaustedError reports that no availability zone in a
// region could satisfy a resource request. The attempt is not retried
// automatically.
type ProvisioningExhaustedError struct {
	Region   string
	Resource string
}

func (e *ProvisioningExhaustedError) Error() string {
	return fmt.Sprintf("no availability zone in %s could provision a %s", e.Region, e.Resource)
}

// TempCredential is an ephemeral keypair plus the network-access rule
// that admits it.
type TempCredential struct {
	KeyName string
	PEM     []byte
	GroupID string
}

// Broker provisions ephemeral compute, volumes and credentials in one
// region, registering teardown for each with the owning Session.
type Broker struct {
	log    logrus.FieldLogger
	api    cloud.API
	cfg    *config.Config
	waiter *waiter.Waiter
}

func NewBroker(log logrus.FieldLogger, api cloud.API, cfg *config.Config) *Broker {
	return &Broker{
		log:    log,
		api:    api,
		cfg:    cfg,
		waiter: waiter.New(log, cfg.WaitTimeout, cfg.MaxWaitInterval),
	}
}

// TempCredential creates an ephemeral keypair and a security group
// admitting SSH and the raw-transfer port. Both are deleted when the
// session closes.
func (b *Broker) TempCredential(ctx context.Context, s *Session) (*TempCredential, error) {
	name := fmt.Sprintf("%s-temp-ssh-%s", b.api.Region(), s.Name())

	pem, err := b.api.CreateKeyPair(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "creating keypair in %s", b.api.Region())
	}
	s.onClose("keypair "+name, func(ctx context.Context) error {
		return b.api.DeleteKeyPair(ctx, name)
	})

	group, err := b.api.CreateSecurityGroup(ctx, name, "ephemeral access for snapshot replication")
	if err != nil {
		return nil, errors.Wrapf(err, "creating security group in %s", b.api.Region())
	}
	s.onClose("security group "+group.ID, func(ctx context.Context) error {
		return b.api.DeleteSecurityGroup(ctx, group.ID)
	})

	for _, port := range []int32{sshPort, int32(b.cfg.Replication.Port)} {
		rule := cloud.IngressRule{
			Protocol: "tcp",
			FromPort: port,
			ToPort:   port,
			Grants:   []cloud.Grant{{CIDR: "0.0.0.0/0"}},
		}
		if err := b.api.AuthorizeIngress(ctx, group.ID, rule); err != nil {
			return nil, errors.Wrapf(err, "authorizing port %d on %s", port, group.ID)
		}
	}

	return &TempCredential{KeyName: name, PEM: []byte(pem), GroupID: group.ID}, nil
}

// TempInstance launches a transfer-conduit instance, trying each of the
// region's availability zones in turn before giving up. The instance is
// terminated when the session closes.
func (b *Broker) TempInstance(ctx context.Context, s *Session, cred *TempCredential) (*cloud.Instance, error) {
	imageID, err := b.api.LookupImage(ctx, b.cfg.Replication.ImageNameFilter)
	if err != nil {
		return nil, err
	}
	zones, err := b.api.ListZones(ctx)
	if err != nil {
		return nil, err
	}

	for _, zone := range zones {
		inst, err := b.api.RunInstance(ctx, cloud.InstanceSpec{
			Zone:             zone,
			ImageID:          imageID,
			Type:             b.cfg.Replication.InstanceType,
			KeyName:          cred.KeyName,
			SecurityGroupIDs: []string{cred.GroupID},
		})
		if err != nil {
			b.log.WithError(err).WithField("zone", zone).Warn("Zone could not provision instance, trying next zone")
			continue
		}
		s.onClose("instance "+inst.ID, func(ctx context.Context) error {
			return b.api.TerminateInstance(ctx, inst.ID)
		})

		if err := b.api.AddTags(ctx, inst.ID, map[string]string{
			b.cfg.TagName: TempTagValue,
			"Name":        s.Name(),
		}); err != nil {
			return nil, err
		}

		observe := func(ctx context.Context) (string, error) {
			cur, err := b.api.GetInstance(ctx, inst.ID)
			if err != nil {
				return "", err
			}
			return string(cur.Status), nil
		}
		if err := b.waiter.WaitFor(ctx, "instance "+inst.ID, observe, string(cloud.InstanceRunning)); err != nil {
			return nil, err
		}

		// Refetch: public addresses are only assigned once running.
		return b.api.GetInstance(ctx, inst.ID)
	}
	return nil, &ProvisioningExhaustedError{Region: b.api.Region(), Resource: "instance"}
}

// TempVolume creates an ephemeral volume (blank, or restored from a
// snapshot when snapshotID is non-empty) and waits for it to become
// available. On session close the volume is detached if necessary,
// waited back to available — the provider rejects deleting an attached
// volume — and deleted.
func (b *Broker) TempVolume(ctx context.Context, s *Session, sizeGiB int32, snapshotID, zone string) (*cloud.Volume, error) {
	vol, err := b.api.CreateVolume(ctx, sizeGiB, snapshotID, zone)
	if err != nil {
		return nil, errors.Wrapf(err, "creating volume in %s", zone)
	}
	s.onClose("volume "+vol.ID, func(ctx context.Context) error {
		cur, err := b.api.GetVolume(ctx, vol.ID)
		if err != nil {
			return err
		}
		if cur.Attached() {
			if err := b.api.DetachVolume(ctx, vol.ID); err != nil {
				return err
			}
		}
		if err := b.waitVolume(ctx, vol.ID, cloud.VolumeAvailable); err != nil {
			return err
		}
		return b.api.DeleteVolume(ctx, vol.ID)
	})

	if err := b.waitVolume(ctx, vol.ID, cloud.VolumeAvailable); err != nil {
		return nil, err
	}
	if err := b.api.AddTags(ctx, vol.ID, map[string]string{b.cfg.TagName: TempTagValue}); err != nil {
		return nil, err
	}
	return vol, nil
}

// Attach attaches the volume to the instance at the first free device
// letter and waits for the attachment to complete. Detaching is handled
// by the volume's own teardown.
func (b *Broker) Attach(ctx context.Context, vol *cloud.Volume, inst *cloud.Instance) (string, error) {
	device, err := availableDevice(inst)
	if err != nil {
		return "", err
	}
	if err := b.api.AttachVolume(ctx, vol.ID, inst.ID, device); err != nil {
		return "", errors.Wrapf(err, "attaching %s to %s", vol.ID, inst.ID)
	}

	observe := func(ctx context.Context) (string, error) {
		cur, err := b.api.GetVolume(ctx, vol.ID)
		if err != nil {
			return "", err
		}
		if cur.Attachment == nil {
			return "", nil
		}
		return string(cur.Attachment.Status), nil
	}
	if err := b.waiter.WaitFor(ctx, "attachment of "+vol.ID, observe, string(cloud.AttachmentAttached)); err != nil {
		return "", err
	}
	return device, nil
}

func (b *Broker) waitVolume(ctx context.Context, volumeID string, target cloud.VolumeStatus) error {
	observe := func(ctx context.Context) (string, error) {
		cur, err := b.api.GetVolume(ctx, volumeID)
		if err != nil {
			return "", err
		}
		return string(cur.Status), nil
	}
	return b.waiter.WaitFor(ctx, "volume "+volumeID, observe, string(target))
}

// WaitSnapshotCompleted waits for a snapshot to finish; used for the
// empty baseline, which must complete before a volume can be restored
// from it.
func (b *Broker) WaitSnapshotCompleted(ctx context.Context, snapshotID string) error {
	observe := func(ctx context.Context) (string, error) {
		cur, err := b.api.GetSnapshot(ctx, snapshotID)
		if err != nil {
			return "", err
		}
		return string(cur.Status), nil
	}
	w := waiter.New(b.log, b.cfg.SnapshotTimeout, b.cfg.MaxWaitInterval)
	return w.WaitFor(ctx, "snapshot "+snapshotID, observe, string(cloud.SnapshotCompleted))
}

// availableDevice picks a device path whose letter is not taken by the
// instance's existing block-device map.
func availableDevice(inst *cloud.Instance) (string, error) {
	for _, letter := range deviceLetters {
		device := "/dev/sd" + string(letter)
		taken := false
		for used := range inst.BlockDevices {
			if strings.HasPrefix(used, device) || strings.HasPrefix(used, "/dev/xvd"+string(letter)) {
				taken = true
				break
			}
		}
		if !taken {
			return device, nil
		}
	}
	return "", errors.Errorf("no free device letter on instance %s", inst.ID)
}
