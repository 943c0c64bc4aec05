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

// Package waiter is the single place polling and backoff live. Every
// resource-creation path waits through it rather than running its own
// sleep loop.
package waiter

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// graceAttempts and gracePause bound the window during which
	// observation errors are swallowed: a resource may be reported as
	// missing right after creation.
	graceAttempts = 10
	gracePause    = 10 * time.Second

	baseInterval = 3 * time.Second
	intervalStep = 5 * time.Second
)

// StateTimeoutError reports that a resource never reached the target
// state within the wait budget.
type StateTimeoutError struct {
	LastState string
}

func (e *StateTimeoutError) Error() string {
	return fmt.Sprintf("state remained %q after limited time gone", e.LastState)
}

// ObserveFunc fetches the current state of a resource.
type ObserveFunc func(ctx context.Context) (string, error)

// Waiter polls an ObserveFunc until a target state is reached. The poll
// interval grows by a fixed step each retry, capped at MaxInterval;
// accumulated sleep time is bounded by Timeout.
type Waiter struct {
	log         logrus.FieldLogger
	timeout     time.Duration
	maxInterval time.Duration

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

func New(log logrus.FieldLogger, timeout, maxInterval time.Duration) *Waiter {
	return &Waiter{
		log:         log,
		timeout:     timeout,
		maxInterval: maxInterval,
		sleep:       time.Sleep,
	}
}

// WaitFor polls observe until it reports target. It returns immediately
// if the resource is already in the target state, tolerates observation
// failures during the initial grace window, and fails with a
// StateTimeoutError once accumulated wait exceeds the budget.
func (w *Waiter) WaitFor(ctx context.Context, what string, observe ObserveFunc, target string) error {
	log := w.log.WithFields(logrus.Fields{"resource": what, "target": target})

	var (
		state string
		err   error
	)
	for i := 0; i < graceAttempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		state, err = observe(ctx)
		if err == nil {
			break
		}
		log.WithError(err).Debug("Resource not observable yet")
		w.sleep(gracePause)
	}
	if err != nil {
		return errors.Wrapf(err, "%s never became observable", what)
	}

	if state == target {
		return nil
	}

	log.Info("Waiting for state change")
	var (
		slept    time.Duration
		interval = baseInterval
	)
	for state != target && slept < w.timeout {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Debugf("still %s...", state)
		if interval < w.maxInterval {
			interval += intervalStep
		}
		if interval > w.maxInterval {
			interval = w.maxInterval
		}
		w.sleep(interval)
		slept += interval
		state, err = observe(ctx)
		if err != nil {
			return errors.Wrapf(err, "observing %s", what)
		}
	}
	if state != target {
		return &StateTimeoutError{LastState: state}
	}
	log.Info("Reached target state")
	return nil
}
