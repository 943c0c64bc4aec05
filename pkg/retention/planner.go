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

// Package retention decides which snapshots survive: a planner generates
// checkpoints back in time in a logarithmic manner, and a trimmer sweeps
// each volume's snapshots against them, keeping the oldest snapshot at or
// after each checkpoint.
package retention

import (
	"sort"
	"time"
)

// Policy sets how many retention buckets of each granularity to keep.
// It is pure configuration and carries no mutable state.
type Policy struct {
	Hourly    int `mapstructure:"hourly"`
	Daily     int `mapstructure:"daily"`
	Weekly    int `mapstructure:"weekly"`
	Monthly   int `mapstructure:"monthly"`
	Quarterly int `mapstructure:"quarterly"`
	Yearly    int `mapstructure:"yearly"`
}

// epochFloor bounds the first-of-month backfill: there are no snapshots
// older than 1/1/2000.
var epochFloor = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Plan produces the ascending, deduplicated set of retention checkpoints
// for the given instant. A checkpoint means "keep the oldest snapshot
// taken at or after this boundary". The set is dense near now and sparse
// far in the past, which bounds the stored snapshot count while keeping
// recent granularity.
func Plan(now time.Time, policy Policy) []time.Time {
	now = now.UTC()

	lastHour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, time.UTC)
	lastMidnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	// Weeks start on Sunday. time.Weekday numbers Sunday as 0, so the
	// day-of-week index is the number of days back to the week start.
	lastSunday := lastMidnight.AddDate(0, 0, -int(now.Weekday()))
	lastMonth := time.Date(now.Year(), now.Month()-1, now.Day(), 0, 0, 0, 0, time.UTC)
	lastYear := time.Date(now.Year()-1, now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	otherYears := time.Date(now.Year()-2, now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var checkpoints []time.Time

	for hour := 0; hour < policy.Hourly; hour++ {
		checkpoints = append(checkpoints, lastHour.Add(-time.Duration(hour)*time.Hour))
	}
	for day := 0; day < policy.Daily; day++ {
		checkpoints = append(checkpoints, lastMidnight.AddDate(0, 0, -day))
	}
	for week := 0; week < policy.Weekly; week++ {
		checkpoints = append(checkpoints, lastSunday.AddDate(0, 0, -week*7))
	}
	for month := 0; month < policy.Monthly; month++ {
		checkpoints = append(checkpoints, lastMonth.AddDate(0, 0, -month*4*7))
	}
	for quarter := 0; quarter < policy.Quarterly; quarter++ {
		checkpoints = append(checkpoints, lastYear.AddDate(0, 0, -quarter*16*7))
	}
	for year := 0; year < policy.Yearly; year++ {
		checkpoints = append(checkpoints, otherYears.AddDate(0, 0, -year*365))
	}

	// Every calendar month back to the epoch floor gets a checkpoint,
	// regardless of the quarterly/yearly horizon: step back one day to
	// land in the previous month, then snap to its first day.
	for startOfMonth.After(epochFloor) {
		checkpoints = append(checkpoints, startOfMonth)
		startOfMonth = startOfMonth.AddDate(0, 0, -1)
		startOfMonth = time.Date(startOfMonth.Year(), startOfMonth.Month(), 1, 0, 0, 0, 0, time.UTC)
	}

	seen := make(map[time.Time]struct{}, len(checkpoints))
	deduped := checkpoints[:0]
	for _, t := range checkpoints {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		deduped = append(deduped, t)
	}

	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Before(deduped[j]) })
	return deduped
}
