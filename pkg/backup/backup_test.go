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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplife/snaplife/pkg/cloud"
	testutil "github.com/snaplife/snaplife/pkg/util/test"
)

// seedInstance adds a running instance with one volume per given device.
func seedInstance(api *testutil.FakeAPI, id string, tags map[string]string, devices ...string) {
	inst := &cloud.Instance{
		ID:           id,
		Region:       api.RegionName,
		Zone:         api.RegionName + "a",
		Status:       cloud.InstanceRunning,
		BlockDevices: map[string]string{},
		Tags:         tags,
	}
	for _, dev := range devices {
		volID := "vol-" + id + dev[len(dev)-1:]
		inst.BlockDevices[dev] = volID
		api.Volumes[volID] = &cloud.Volume{
			ID:      volID,
			Region:  api.RegionName,
			Zone:    inst.Zone,
			SizeGiB: 8,
			Status:  cloud.VolumeInUse,
			Attachment: &cloud.Attachment{
				InstanceID: id,
				Device:     dev,
				Status:     cloud.AttachmentAttached,
			},
		}
	}
	api.Instances[id] = inst
}

func TestBackupInstanceWalksDevicesInOrder(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	seedInstance(api, "i-1", nil, "/dev/sdf", "/dev/sda1")

	b := NewBackupper(testutil.NewLogger(), testutil.NewFakeDialer(api), testConfig(t), nil)
	snaps, err := b.BackupInstance(context.Background(), api, "i-1", true)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	// Devices are walked in sorted order.
	assert.Equal(t, "vol-i-11", snaps[0].VolumeID)
	assert.Equal(t, "vol-i-1f", snaps[1].VolumeID)
}

func TestBackupByTagOnlySnapshotsTaggedInstances(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	cfg := testConfig(t)
	seedInstance(api, "i-tagged", map[string]string{cfg.TagName: cfg.TagValue}, "/dev/sda1")
	seedInstance(api, "i-other", map[string]string{"Name": "bystander"}, "/dev/sda1")

	b := NewBackupper(testutil.NewLogger(), testutil.NewFakeDialer(api), cfg, nil)
	require.NoError(t, b.BackupByTag(context.Background(), "us-east-1", true))

	require.Len(t, api.Snapshots, 1)
	for _, snap := range api.Snapshots {
		assert.Equal(t, "vol-i-tagged1", snap.VolumeID)
	}
}

func TestCloneInstanceTags(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	seedInstance(api, "i-1", map[string]string{"Name": "web", "env": "prod"}, "/dev/sda1")

	b := NewBackupper(testutil.NewLogger(), testutil.NewFakeDialer(api), testConfig(t), nil)
	require.NoError(t, b.CloneInstanceTags(context.Background()))

	vol := api.Volumes["vol-i-11"]
	assert.Equal(t, "web", vol.Tags["Name"])
	assert.Equal(t, "prod", vol.Tags["env"])
}
