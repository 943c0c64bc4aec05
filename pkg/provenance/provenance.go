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

// Package provenance encodes and parses the JSON record embedded in a
// snapshot's description. The record carries the logical creation time
// used for cross-region freshness comparison, which is distinct from the
// provider-reported start time: a replicated snapshot keeps its source's
// logical time.
package provenance

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/snaplife/snaplife/pkg/cloud"
)

// TimeLayout is the logical-time format: UTC, second precision, no zone
// suffix. Descriptions written with any other layout won't round-trip.
const TimeLayout = "2006-01-02T15:04:05"

// fractionalLayout tolerates sub-second precision left by older writers.
const fractionalLayout = "2006-01-02T15:04:05.000000"

// Record is the provenance document embedded in a snapshot description.
// Field names are part of the wire format shared with prior deployments;
// do not rename them.
type Record struct {
	Volume      string `json:"Volume"`
	Region      string `json:"Region"`
	Device      string `json:"Device,omitempty"`
	Instance    string `json:"Instance,omitempty"`
	Type        string `json:"Type,omitempty"`
	Arch        string `json:"Arch,omitempty"`
	RootDevName string `json:"Root_dev_name,omitempty"`
	Time        string `json:"Time"`
}

// Encode renders the record as a snapshot description.
func (r Record) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(b), nil
}

// Parse decodes a snapshot description into a Record.
func Parse(description string) (*Record, error) {
	r := new(Record)
	if err := json.Unmarshal([]byte(description), r); err != nil {
		return nil, errors.Wrap(err, "unparseable snapshot description")
	}
	return r, nil
}

// Timestamp formats t as a logical time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a logical time string.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, fractionalLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unparseable logical time %q", s)
}

// SnapVolume returns the snapshot's origin volume ID: the provenance
// volume when the description parses, otherwise the provider-reported one.
func SnapVolume(snap *cloud.Snapshot) string {
	if r, err := Parse(snap.Description); err == nil && r.Volume != "" {
		return r.Volume
	}
	return snap.VolumeID
}

// SnapTime returns the snapshot's logical time, falling back to the
// provider-reported start time when the description doesn't carry one.
func SnapTime(snap *cloud.Snapshot) time.Time {
	if r, err := Parse(snap.Description); err == nil {
		if t, err := ParseTime(r.Time); err == nil {
			return t
		}
	}
	return snap.StartTime.UTC()
}

// SnapDevice returns the device path recorded at snapshot time, or "".
func SnapDevice(snap *cloud.Snapshot) string {
	if r, err := Parse(snap.Description); err == nil {
		return r.Device
	}
	return ""
}

// IsDescribed reports whether the snapshot carries a parseable provenance
// record with both a volume and a logical time.
func IsDescribed(snap *cloud.Snapshot) bool {
	r, err := Parse(snap.Description)
	if err != nil || r.Volume == "" {
		return false
	}
	_, err = ParseTime(r.Time)
	return err == nil
}

// IsNative reports whether the snapshot was taken directly from a volume
// in the given region, as opposed to materialized there by replication.
func IsNative(snap *cloud.Snapshot, region string) bool {
	r, err := Parse(snap.Description)
	return err == nil && r.Region == region
}
