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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplife/snaplife/pkg/cloud"
	testutil "github.com/snaplife/snaplife/pkg/util/test"
)

func TestTrimRegionSweepsDescribedSnapshots(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	for _, snap := range []*cloud.Snapshot{
		describedSnapshot(t, "snap-01", "vol-1", day(1), nil),
		describedSnapshot(t, "snap-02", "vol-1", day(2), nil),
		describedSnapshot(t, "snap-03", "vol-1", day(3), nil),
	} {
		snap.Region = api.RegionName
		api.Snapshots[snap.ID] = snap
	}

	sweeper := NewSweeper(testutil.NewLogger(), testutil.NewFakeDialer(api), Policy{}, nil)
	sweeper.now = func() time.Time { return day(40) }

	// An all-zero policy still backfills first-of-month checkpoints, and
	// every checkpoint here is far past the snapshots, so one interval
	// holds them all.
	trimmed, err := sweeper.TrimRegion(context.Background(), "us-east-1", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"snap-02"}, trimmed)
	assert.NotContains(t, api.Snapshots, "snap-02")
	assert.Contains(t, api.Snapshots, "snap-01")
	assert.Contains(t, api.Snapshots, "snap-03")
}

func TestTrimRegionDryRun(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	for _, snap := range []*cloud.Snapshot{
		describedSnapshot(t, "snap-01", "vol-1", day(1), nil),
		describedSnapshot(t, "snap-02", "vol-1", day(2), nil),
		describedSnapshot(t, "snap-03", "vol-1", day(3), nil),
	} {
		api.Snapshots[snap.ID] = snap
	}

	sweeper := NewSweeper(testutil.NewLogger(), testutil.NewFakeDialer(api), Policy{}, nil)
	sweeper.now = func() time.Time { return day(40) }

	trimmed, err := sweeper.TrimRegion(context.Background(), "us-east-1", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"snap-02"}, trimmed)
	assert.Len(t, api.Snapshots, 3)
	assert.Zero(t, api.Calls["DeleteSnapshot"])
}

func TestDeleteBrokenRemovesErrorSnapshotsEverywhere(t *testing.T) {
	east := testutil.NewFakeAPI("us-east-1")
	west := testutil.NewFakeAPI("us-west-1")
	east.Snapshots["snap-ok"] = &cloud.Snapshot{ID: "snap-ok", Status: cloud.SnapshotCompleted}
	east.Snapshots["snap-bad"] = &cloud.Snapshot{ID: "snap-bad", Status: cloud.SnapshotError}
	west.Snapshots["snap-worse"] = &cloud.Snapshot{ID: "snap-worse", Status: cloud.SnapshotError}

	sweeper := NewSweeper(testutil.NewLogger(), testutil.NewFakeDialer(east, west), Policy{}, nil)
	require.NoError(t, sweeper.DeleteBroken(context.Background()))

	assert.Contains(t, east.Snapshots, "snap-ok")
	assert.NotContains(t, east.Snapshots, "snap-bad")
	assert.Empty(t, west.Snapshots)
}
