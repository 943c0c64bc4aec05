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

package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "github.com/snaplife/snaplife/pkg/util/test"
)

// newTestWaiter returns a waiter whose sleeps are recorded instead of
// slept.
func newTestWaiter(timeout, maxInterval time.Duration) (*Waiter, *[]time.Duration) {
	w := New(testutil.NewLogger(), timeout, maxInterval)
	var slept []time.Duration
	w.sleep = func(d time.Duration) { slept = append(slept, d) }
	return w, &slept
}

func TestWaitForImmediateSuccess(t *testing.T) {
	w, slept := newTestWaiter(time.Minute, 10*time.Second)

	observe := func(ctx context.Context) (string, error) { return "available", nil }
	require.NoError(t, w.WaitFor(context.Background(), "volume", observe, "available"))
	assert.Empty(t, *slept)
}

func TestWaitForReachesTarget(t *testing.T) {
	w, slept := newTestWaiter(time.Minute, 10*time.Second)

	states := []string{"creating", "creating", "available"}
	observe := func(ctx context.Context) (string, error) {
		state := states[0]
		if len(states) > 1 {
			states = states[1:]
		}
		return state, nil
	}

	require.NoError(t, w.WaitFor(context.Background(), "volume", observe, "available"))
	// The interval grows by a fixed step and is capped.
	assert.Equal(t, []time.Duration{8 * time.Second, 10 * time.Second}, *slept)
}

func TestWaitForTimesOut(t *testing.T) {
	w, _ := newTestWaiter(20*time.Second, 10*time.Second)

	observe := func(ctx context.Context) (string, error) { return "creating", nil }
	err := w.WaitFor(context.Background(), "volume", observe, "available")
	require.Error(t, err)

	var timeout *StateTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "creating", timeout.LastState)
}

func TestWaitForGraceSwallowsEarlyObservationErrors(t *testing.T) {
	w, slept := newTestWaiter(time.Minute, 10*time.Second)

	// A freshly created resource can be reported missing for a while.
	failures := 3
	observe := func(ctx context.Context) (string, error) {
		if failures > 0 {
			failures--
			return "", errors.New("not found")
		}
		return "available", nil
	}

	require.NoError(t, w.WaitFor(context.Background(), "volume", observe, "available"))
	assert.Equal(t, []time.Duration{gracePause, gracePause, gracePause}, *slept)
}

func TestWaitForNeverObservable(t *testing.T) {
	w, slept := newTestWaiter(time.Minute, 10*time.Second)

	observe := func(ctx context.Context) (string, error) {
		return "", errors.New("not found")
	}

	err := w.WaitFor(context.Background(), "volume", observe, "available")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never became observable")
	assert.Len(t, *slept, graceAttempts)
}

func TestWaitForHonorsContext(t *testing.T) {
	w, _ := newTestWaiter(time.Minute, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	observe := func(ctx context.Context) (string, error) { return "creating", nil }
	err := w.WaitFor(ctx, "volume", observe, "available")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForObservationErrorAfterGrace(t *testing.T) {
	w, _ := newTestWaiter(time.Minute, 10*time.Second)

	calls := 0
	observe := func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "creating", nil
		}
		return "", errors.New("transport torn down")
	}

	err := w.WaitFor(context.Background(), "volume", observe, "available")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observing volume")
}
