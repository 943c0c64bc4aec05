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

package provenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplife/snaplife/pkg/cloud"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{
		Volume:      "vol-12345678",
		Region:      "us-east-1",
		Device:      "/dev/sdf",
		Instance:    "i-87654321",
		Type:        "m1.small",
		Arch:        "x86_64",
		RootDevName: "/dev/sda1",
		Time:        "2011-06-15T12:34:56",
	}

	description, err := rec.Encode()
	require.NoError(t, err)

	parsed, err := Parse(description)
	require.NoError(t, err)
	assert.Equal(t, rec, *parsed)
}

func TestRecordWireFieldNames(t *testing.T) {
	description, err := Record{
		Volume:      "vol-1",
		Region:      "us-east-1",
		RootDevName: "/dev/sda1",
		Time:        "2011-06-15T12:34:56",
	}.Encode()
	require.NoError(t, err)

	// The JSON keys are shared with prior deployments and must not drift.
	assert.Contains(t, description, `"Volume":"vol-1"`)
	assert.Contains(t, description, `"Root_dev_name":"/dev/sda1"`)
	assert.Contains(t, description, `"Time":"2011-06-15T12:34:56"`)
}

func TestParseTime(t *testing.T) {
	parsed, err := ParseTime("2011-06-15T12:34:56")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2011, time.June, 15, 12, 34, 56, 0, time.UTC), parsed)

	// Older writers left sub-second precision behind.
	parsed, err = ParseTime("2011-06-15T12:34:56.123456")
	require.NoError(t, err)
	assert.Equal(t, 123456000, parsed.Nanosecond())

	_, err = ParseTime("June 15th")
	assert.Error(t, err)
}

func TestTimestampIsUTC(t *testing.T) {
	local := time.Date(2011, time.June, 15, 17, 34, 56, 0, time.FixedZone("UTC+5", 5*3600))
	assert.Equal(t, "2011-06-15T12:34:56", Timestamp(local))
}

func TestSnapVolumePrefersProvenance(t *testing.T) {
	description, err := Record{Volume: "vol-origin", Region: "us-east-1", Time: "2011-06-15T12:34:56"}.Encode()
	require.NoError(t, err)

	// A replicated snapshot's provider volume is the temporary transfer
	// volume; the origin volume lives in the description.
	snap := &cloud.Snapshot{VolumeID: "vol-temp", Description: description}
	assert.Equal(t, "vol-origin", SnapVolume(snap))

	bare := &cloud.Snapshot{VolumeID: "vol-temp", Description: "taken by hand"}
	assert.Equal(t, "vol-temp", SnapVolume(bare))
}

func TestSnapTimeFallsBackToStartTime(t *testing.T) {
	started := time.Date(2012, time.March, 1, 8, 0, 0, 0, time.UTC)

	described := &cloud.Snapshot{
		StartTime:   started,
		Description: `{"Volume":"vol-1","Region":"us-east-1","Time":"2011-06-15T12:34:56"}`,
	}
	assert.Equal(t, time.Date(2011, time.June, 15, 12, 34, 56, 0, time.UTC), SnapTime(described))

	bare := &cloud.Snapshot{StartTime: started, Description: ""}
	assert.Equal(t, started, SnapTime(bare))
}

func TestIsDescribed(t *testing.T) {
	assert.True(t, IsDescribed(&cloud.Snapshot{
		Description: `{"Volume":"vol-1","Region":"us-east-1","Time":"2011-06-15T12:34:56"}`,
	}))
	assert.False(t, IsDescribed(&cloud.Snapshot{Description: ""}))
	assert.False(t, IsDescribed(&cloud.Snapshot{Description: `{"Region":"us-east-1","Time":"2011-06-15T12:34:56"}`}))
	assert.False(t, IsDescribed(&cloud.Snapshot{Description: `{"Volume":"vol-1","Time":"yesterday"}`}))
}

func TestIsNative(t *testing.T) {
	snap := &cloud.Snapshot{
		Description: `{"Volume":"vol-1","Region":"us-east-1","Time":"2011-06-15T12:34:56"}`,
	}
	assert.True(t, IsNative(snap, "us-east-1"))
	// Replicas keep their source region in the description.
	assert.False(t, IsNative(snap, "us-west-1"))
}

func TestSnapDevice(t *testing.T) {
	snap := &cloud.Snapshot{
		Description: `{"Volume":"vol-1","Region":"us-east-1","Device":"/dev/sda","Time":"2011-06-15T12:34:56"}`,
	}
	assert.Equal(t, "/dev/sda", SnapDevice(snap))
	assert.Equal(t, "", SnapDevice(&cloud.Snapshot{Description: "junk"}))
}
