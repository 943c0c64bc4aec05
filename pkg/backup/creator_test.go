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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/config"
	"github.com/snaplife/snaplife/pkg/provenance"
	testutil "github.com/snaplife/snaplife/pkg/util/test"
)

var createdAt = time.Date(2011, time.June, 15, 12, 34, 56, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

// attachedVolume seeds the fake with an instance and a volume attached
// to it at /dev/sdf.
func attachedVolume(api *testutil.FakeAPI) *cloud.Volume {
	inst := &cloud.Instance{
		ID:             "i-1",
		Region:         api.RegionName,
		Zone:           api.RegionName + "a",
		Type:           "m1.small",
		Architecture:   "x86_64",
		RootDeviceName: "/dev/sda1",
		Status:         cloud.InstanceRunning,
		BlockDevices:   map[string]string{"/dev/sdf": "vol-1"},
		Tags:           map[string]string{"Name": "web", "env": "prod"},
	}
	vol := &cloud.Volume{
		ID:      "vol-1",
		Region:  api.RegionName,
		Zone:    inst.Zone,
		SizeGiB: 8,
		Status:  cloud.VolumeInUse,
		Attachment: &cloud.Attachment{
			InstanceID: inst.ID,
			Device:     "/dev/sdf",
			Status:     cloud.AttachmentAttached,
		},
		Tags: map[string]string{"team": "storage"},
	}
	api.Instances[inst.ID] = inst
	api.Volumes[vol.ID] = vol
	return vol
}

func newTestCreator(t *testing.T, api *testutil.FakeAPI) *Creator {
	t.Helper()
	creator := NewCreator(testutil.NewLogger(), api, testConfig(t), nil)
	creator.now = func() time.Time { return createdAt }
	return creator
}

func TestCreateSynthesizesProvenance(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	vol := attachedVolume(api)
	creator := newTestCreator(t, api)

	snap, err := creator.Create(context.Background(), vol, CreateOptions{Synchronous: true})
	require.NoError(t, err)
	assert.Equal(t, cloud.SnapshotCompleted, snap.Status)

	rec, err := provenance.Parse(snap.Description)
	require.NoError(t, err)
	assert.Equal(t, provenance.Record{
		Volume:      "vol-1",
		Region:      "us-east-1",
		Device:      "/dev/sdf",
		Instance:    "i-1",
		Type:        "m1.small",
		Arch:        "x86_64",
		RootDevName: "/dev/sda1",
		Time:        "2011-06-15T12:34:56",
	}, *rec)

	// Instance tags then volume tags are cloned onto the snapshot.
	stored := api.Snapshots[snap.ID]
	assert.Equal(t, "web", stored.Tags["Name"])
	assert.Equal(t, "storage", stored.Tags["team"])
}

func TestCreateDetachedVolume(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	vol := &cloud.Volume{ID: "vol-9", Region: "us-east-1", SizeGiB: 4, Status: cloud.VolumeAvailable}
	api.Volumes[vol.ID] = vol
	creator := newTestCreator(t, api)

	snap, err := creator.Create(context.Background(), vol, CreateOptions{Synchronous: true})
	require.NoError(t, err)

	rec, err := provenance.Parse(snap.Description)
	require.NoError(t, err)
	assert.Equal(t, "vol-9", rec.Volume)
	assert.Empty(t, rec.Instance)
	assert.Empty(t, rec.Device)
	assert.Zero(t, api.Calls["GetInstance"])
}

func TestCreateExplicitTagsReplaceCloning(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	vol := attachedVolume(api)
	creator := newTestCreator(t, api)

	snap, err := creator.Create(context.Background(), vol, CreateOptions{
		Tags:        map[string]string{"snaplife": "replica"},
		Synchronous: true,
	})
	require.NoError(t, err)

	stored := api.Snapshots[snap.ID]
	assert.Equal(t, "replica", stored.Tags["snaplife"])
	assert.NotContains(t, stored.Tags, "Name")
	assert.NotContains(t, stored.Tags, "team")
}

func TestCreateRetriesMalformedSnapshot(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	vol := attachedVolume(api)
	creator := newTestCreator(t, api)

	// The first snapshot reaches full progress but finishes broken; it
	// must be deleted and the creation re-initiated.
	api.SnapshotStates = []cloud.SnapshotStatus{cloud.SnapshotError, cloud.SnapshotCompleted}

	snap, err := creator.Create(context.Background(), vol, CreateOptions{Synchronous: true})
	require.NoError(t, err)
	assert.Equal(t, cloud.SnapshotCompleted, snap.Status)

	assert.Equal(t, 2, api.Calls["CreateSnapshot"])
	assert.Equal(t, 1, api.Calls["DeleteSnapshot"])
	assert.Len(t, api.Snapshots, 1)
}

func TestCreateAsynchronousReturnsImmediately(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	vol := attachedVolume(api)
	creator := newTestCreator(t, api)

	_, err := creator.Create(context.Background(), vol, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, api.Calls["CreateSnapshot"])
	assert.Zero(t, api.Calls["GetSnapshot"])
}
