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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2011-06-15 was a Wednesday.
var planNow = time.Date(2011, time.June, 15, 12, 34, 56, 0, time.UTC)

func TestPlanIsSortedAndDeduped(t *testing.T) {
	checkpoints := Plan(planNow, Policy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12, Quarterly: 4, Yearly: 2})
	require.NotEmpty(t, checkpoints)

	seen := make(map[time.Time]struct{}, len(checkpoints))
	for i, cp := range checkpoints {
		if i > 0 {
			assert.True(t, checkpoints[i-1].Before(cp), "checkpoints out of order at %d: %s then %s", i, checkpoints[i-1], cp)
		}
		_, dup := seen[cp]
		assert.False(t, dup, "duplicate checkpoint %s", cp)
		seen[cp] = struct{}{}
	}
}

func TestPlanHourly(t *testing.T) {
	checkpoints := Plan(planNow, Policy{Hourly: 3})

	for _, want := range []time.Time{
		time.Date(2011, time.June, 15, 12, 0, 0, 0, time.UTC),
		time.Date(2011, time.June, 15, 11, 0, 0, 0, time.UTC),
		time.Date(2011, time.June, 15, 10, 0, 0, 0, time.UTC),
	} {
		assert.Contains(t, checkpoints, want)
	}
	assert.NotContains(t, checkpoints, time.Date(2011, time.June, 15, 9, 0, 0, 0, time.UTC))
}

func TestPlanWeeksStartOnSunday(t *testing.T) {
	checkpoints := Plan(planNow, Policy{Weekly: 2})

	assert.Contains(t, checkpoints, time.Date(2011, time.June, 12, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, checkpoints, time.Date(2011, time.June, 5, 0, 0, 0, 0, time.UTC))
}

func TestPlanOnASunday(t *testing.T) {
	sunday := time.Date(2011, time.June, 12, 10, 0, 0, 0, time.UTC)
	checkpoints := Plan(sunday, Policy{Weekly: 1})

	// The week's checkpoint is that same day's midnight, not a week back.
	assert.Contains(t, checkpoints, time.Date(2011, time.June, 12, 0, 0, 0, 0, time.UTC))
	assert.NotContains(t, checkpoints, time.Date(2011, time.June, 5, 0, 0, 0, 0, time.UTC))
}

func TestPlanMonthlyStepsFourWeeks(t *testing.T) {
	checkpoints := Plan(planNow, Policy{Monthly: 2})

	assert.Contains(t, checkpoints, time.Date(2011, time.May, 15, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, checkpoints, time.Date(2011, time.April, 17, 0, 0, 0, 0, time.UTC))
}

func TestPlanBackfillsFirstOfMonthToEpochFloor(t *testing.T) {
	checkpoints := Plan(planNow, Policy{})

	// With an all-zero policy only the first-of-month backfill remains:
	// every month from February 2000 through June 2011.
	require.Len(t, checkpoints, 137)
	assert.Equal(t, time.Date(2000, time.February, 1, 0, 0, 0, 0, time.UTC), checkpoints[0])
	assert.Equal(t, time.Date(2011, time.June, 1, 0, 0, 0, 0, time.UTC), checkpoints[len(checkpoints)-1])
}

func TestPlanNormalizesToUTC(t *testing.T) {
	local := time.FixedZone("UTC+5", 5*3600)
	inLocal := Plan(planNow.In(local), Policy{Hourly: 1, Daily: 1})
	inUTC := Plan(planNow, Policy{Hourly: 1, Daily: 1})

	assert.Equal(t, inUTC, inLocal)
}
