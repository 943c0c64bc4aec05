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
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/provenance"
	testutil "github.com/snaplife/snaplife/pkg/util/test"
)

type fakeDeleter struct {
	deleted []string
	failOn  map[string]bool
}

func (d *fakeDeleter) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	if d.failOn[snapshotID] {
		return errors.New("injected delete failure")
	}
	d.deleted = append(d.deleted, snapshotID)
	return nil
}

func describedSnapshot(t *testing.T, id, volumeID string, taken time.Time, tags map[string]string) *cloud.Snapshot {
	t.Helper()
	description, err := provenance.Record{
		Volume: volumeID,
		Region: "us-east-1",
		Time:   provenance.Timestamp(taken),
	}.Encode()
	require.NoError(t, err)
	return &cloud.Snapshot{
		ID:          id,
		VolumeID:    volumeID,
		Description: description,
		Status:      cloud.SnapshotCompleted,
		StartTime:   taken,
		Tags:        tags,
	}
}

func day(n int) time.Time {
	return time.Date(2011, time.January, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

// dailySnapshots builds one snapshot per day for days 1..n.
func dailySnapshots(t *testing.T, n int) []*cloud.Snapshot {
	t.Helper()
	snaps := make([]*cloud.Snapshot, 0, n)
	for i := 1; i <= n; i++ {
		snaps = append(snaps, describedSnapshot(t, fmt.Sprintf("snap-%02d", i), "vol-1", day(i), nil))
	}
	return snaps
}

func midnight(n int) time.Time {
	return time.Date(2011, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n-1)
}

func TestTrimKeepsOldestPerInterval(t *testing.T) {
	deleter := &fakeDeleter{}
	trimmer := NewTrimmer(testutil.NewLogger(), deleter)

	// Daily snapshots for 40 days, checkpoints at days 10, 20 and 30.
	// Each interval keeps its oldest snapshot; snapshots past the last
	// checkpoint are undecided and survive.
	trimmed := trimmer.Trim(context.Background(),
		map[string][]*cloud.Snapshot{"vol-1": dailySnapshots(t, 40)},
		[]time.Time{midnight(10), midnight(20), midnight(30)},
		false)

	var wantTrimmed []string
	for _, days := range [][2]int{{2, 9}, {11, 19}, {21, 29}} {
		for i := days[0]; i <= days[1]; i++ {
			wantTrimmed = append(wantTrimmed, fmt.Sprintf("snap-%02d", i))
		}
	}
	assert.ElementsMatch(t, wantTrimmed, trimmed)
	assert.ElementsMatch(t, wantTrimmed, deleter.deleted)
}

func TestTrimNeverDeletesNewestSnapshot(t *testing.T) {
	deleter := &fakeDeleter{}
	trimmer := NewTrimmer(testutil.NewLogger(), deleter)

	// A far-future checkpoint puts every snapshot in one interval: all
	// but the interval's oldest would go, yet the newest must survive on
	// its own rule.
	snaps := dailySnapshots(t, 3)
	trimmed := trimmer.Trim(context.Background(),
		map[string][]*cloud.Snapshot{"vol-1": snaps},
		[]time.Time{midnight(100)},
		false)

	assert.Equal(t, []string{"snap-02"}, trimmed)
	assert.NotContains(t, deleter.deleted, "snap-03")
}

func TestTrimNoCheckpointsNoDeletions(t *testing.T) {
	deleter := &fakeDeleter{}
	trimmer := NewTrimmer(testutil.NewLogger(), deleter)

	trimmed := trimmer.Trim(context.Background(),
		map[string][]*cloud.Snapshot{"vol-1": dailySnapshots(t, 10)},
		nil,
		false)

	assert.Empty(t, trimmed)
	assert.Empty(t, deleter.deleted)
}

func TestTrimPreserveTagImmunity(t *testing.T) {
	deleter := &fakeDeleter{}
	trimmer := NewTrimmer(testutil.NewLogger(), deleter)

	snaps := dailySnapshots(t, 5)
	snaps[1].Tags = map[string]string{PreserveTagKey: "yes"}

	trimmed := trimmer.Trim(context.Background(),
		map[string][]*cloud.Snapshot{"vol-1": snaps},
		[]time.Time{midnight(100)},
		false)

	assert.NotContains(t, trimmed, "snap-02")
	assert.ElementsMatch(t, []string{"snap-03", "snap-04"}, trimmed)
}

func TestTrimDryRunDeletesNothing(t *testing.T) {
	deleter := &fakeDeleter{}
	trimmer := NewTrimmer(testutil.NewLogger(), deleter)

	trimmed := trimmer.Trim(context.Background(),
		map[string][]*cloud.Snapshot{"vol-1": dailySnapshots(t, 5)},
		[]time.Time{midnight(100)},
		true)

	assert.ElementsMatch(t, []string{"snap-02", "snap-03", "snap-04"}, trimmed)
	assert.Empty(t, deleter.deleted)
}

func TestTrimContinuesPastDeleteFailure(t *testing.T) {
	deleter := &fakeDeleter{failOn: map[string]bool{"snap-03": true}}
	trimmer := NewTrimmer(testutil.NewLogger(), deleter)

	trimmed := trimmer.Trim(context.Background(),
		map[string][]*cloud.Snapshot{"vol-1": dailySnapshots(t, 5)},
		[]time.Time{midnight(100)},
		false)

	// The failed ID is not reported as trimmed, but the sweep goes on.
	assert.ElementsMatch(t, []string{"snap-02", "snap-04"}, trimmed)
}

func TestTrimVolumesAreIndependent(t *testing.T) {
	deleter := &fakeDeleter{}
	trimmer := NewTrimmer(testutil.NewLogger(), deleter)

	groups := map[string][]*cloud.Snapshot{
		"vol-1": {
			describedSnapshot(t, "a-1", "vol-1", day(1), nil),
			describedSnapshot(t, "a-2", "vol-1", day(2), nil),
			describedSnapshot(t, "a-3", "vol-1", day(3), nil),
		},
		"vol-2": {
			// A single snapshot is always the newest of its volume.
			describedSnapshot(t, "b-1", "vol-2", day(1), nil),
		},
	}

	trimmed := trimmer.Trim(context.Background(), groups, []time.Time{midnight(100)}, false)
	assert.Equal(t, []string{"a-2"}, trimmed)
}
