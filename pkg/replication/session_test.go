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

package replication

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	testutil "github.com/snaplife/snaplife/pkg/util/test"
)

func TestSessionClosesInReverseOrder(t *testing.T) {
	s := NewSession(testutil.NewLogger(), "us-east-1", nil)

	var order []string
	for _, name := range []string{"keypair", "group", "instance", "volume"} {
		name := name
		s.onClose(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	s.Close(context.Background())
	assert.Equal(t, []string{"volume", "instance", "group", "keypair"}, order)
}

func TestSessionCloseRunsEveryTeardownDespiteFailures(t *testing.T) {
	s := NewSession(testutil.NewLogger(), "us-east-1", nil)

	var ran []string
	s.onClose("first", func(context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	s.onClose("failing", func(context.Context) error {
		ran = append(ran, "failing")
		return errors.New("injected teardown failure")
	})
	s.onClose("last", func(context.Context) error {
		ran = append(ran, "last")
		return nil
	})

	s.Close(context.Background())
	assert.Equal(t, []string{"last", "failing", "first"}, ran)
}

func TestSessionCloseSurvivesCanceledContext(t *testing.T) {
	s := NewSession(testutil.NewLogger(), "us-east-1", nil)

	closed := false
	s.onClose("resource", func(ctx context.Context) error {
		// Cleanup of an aborted attempt must still run with a live
		// context.
		assert.NoError(t, ctx.Err())
		closed = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Close(ctx)
	assert.True(t, closed)
}

func TestSessionNamesAreUnique(t *testing.T) {
	a := NewSession(testutil.NewLogger(), "us-east-1", nil)
	b := NewSession(testutil.NewLogger(), "us-east-1", nil)
	assert.NotEqual(t, a.Name(), b.Name())
}
