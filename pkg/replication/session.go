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

// Package replication copies the latest snapshot of each volume into
// another region: it provisions temporary transfer instances, moves the
// volume contents across, and materializes an equivalent snapshot in the
// destination, preserving the source's logical time.
package replication

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/snaplife/snaplife/pkg/metrics"
)

// Session owns the ephemeral resources of one replication attempt: the
// keypair, the network-access rule, and any instances and volumes created
// as transfer conduits. Every resource entered into the session is torn
// down on all exit paths, in reverse order of acquisition. Teardown is
// best effort: a failure is logged and counted, never raised over the
// teardown of sibling resources.
type Session struct {
	log       logrus.FieldLogger
	name      string
	region    string
	metrics   *metrics.ServerMetrics
	teardowns []teardown
}

type teardown struct {
	what string
	fn   func(context.Context) error
}

func NewSession(log logrus.FieldLogger, region string, serverMetrics *metrics.ServerMetrics) *Session {
	name := fmt.Sprintf("snaplife-temp-%s", uuid.NewString()[:8])
	return &Session{
		log:     log.WithFields(logrus.Fields{"session": name, "region": region}),
		name:    name,
		region:  region,
		metrics: serverMetrics,
	}
}

// Name is the unique label under which the session's resources are
// earmarked.
func (s *Session) Name() string {
	return s.name
}

// onClose records a teardown to run when the session closes.
func (s *Session) onClose(what string, fn func(context.Context) error) {
	s.teardowns = append(s.teardowns, teardown{what: what, fn: fn})
}

// Close tears down every acquired resource in reverse order. It runs to
// completion even when ctx has been canceled: cleanup of an aborted
// attempt must still happen before the failure propagates.
func (s *Session) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(s.teardowns) - 1; i >= 0; i-- {
		td := s.teardowns[i]
		if err := td.fn(ctx); err != nil {
			s.log.WithError(err).WithField("resource", td.what).Error("Error tearing down temporary resource")
			if s.metrics != nil {
				s.metrics.RegisterTempResourceLeak(s.region)
			}
		}
	}
	s.teardowns = nil
}
