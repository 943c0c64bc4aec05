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
	"github.com/stretchr/testify/require"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/config"
	testutil "github.com/snaplife/snaplife/pkg/util/test"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestTempCredentialLifecycle(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	cfg := testConfig(t)
	session := NewSession(testutil.NewLogger(), api.Region(), nil)
	broker := NewBroker(testutil.NewLogger(), api, cfg)

	cred, err := broker.TempCredential(context.Background(), session)
	require.NoError(t, err)

	assert.Contains(t, cred.KeyName, "us-east-1-temp-ssh-")
	assert.NotEmpty(t, cred.PEM)
	require.Contains(t, api.KeyPairs, cred.KeyName)

	group := api.Groups[cred.GroupID]
	require.NotNil(t, group)
	require.Len(t, group.Rules, 2)
	assert.Equal(t, int32(22), group.Rules[0].FromPort)
	assert.Equal(t, int32(cfg.Replication.Port), group.Rules[1].FromPort)

	session.Close(context.Background())
	assert.Empty(t, api.KeyPairs)
	assert.Empty(t, api.Groups)
}

func TestTempInstanceFallsBackAcrossZones(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	api.FailZones["us-east-1a"] = errors.New("InsufficientInstanceCapacity")
	cfg := testConfig(t)
	session := NewSession(testutil.NewLogger(), api.Region(), nil)
	broker := NewBroker(testutil.NewLogger(), api, cfg)

	cred, err := broker.TempCredential(context.Background(), session)
	require.NoError(t, err)

	inst, err := broker.TempInstance(context.Background(), session, cred)
	require.NoError(t, err)

	assert.Equal(t, "us-east-1b", inst.Zone)
	assert.Equal(t, TempTagValue, inst.Tags[cfg.TagName])
	assert.Equal(t, session.Name(), inst.Tags["Name"])

	session.Close(context.Background())
	assert.Equal(t, cloud.InstanceTerminated, api.Instances[inst.ID].Status)
}

func TestTempInstanceExhaustsZones(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	api.FailZones["us-east-1a"] = errors.New("InsufficientInstanceCapacity")
	api.FailZones["us-east-1b"] = errors.New("InsufficientInstanceCapacity")
	cfg := testConfig(t)
	session := NewSession(testutil.NewLogger(), api.Region(), nil)
	broker := NewBroker(testutil.NewLogger(), api, cfg)

	cred, err := broker.TempCredential(context.Background(), session)
	require.NoError(t, err)

	_, err = broker.TempInstance(context.Background(), session, cred)
	var exhausted *ProvisioningExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "us-east-1", exhausted.Region)

	session.Close(context.Background())
}

func TestTempVolumeDetachedBeforeDeletion(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	cfg := testConfig(t)
	session := NewSession(testutil.NewLogger(), api.Region(), nil)
	broker := NewBroker(testutil.NewLogger(), api, cfg)

	inst, err := api.RunInstance(context.Background(), cloud.InstanceSpec{Zone: "us-east-1a"})
	require.NoError(t, err)

	vol, err := broker.TempVolume(context.Background(), session, 8, "", "us-east-1a")
	require.NoError(t, err)
	assert.Equal(t, TempTagValue, vol.Tags[cfg.TagName])

	device, err := broker.Attach(context.Background(), vol, inst)
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdf", device)
	assert.True(t, api.Volumes[vol.ID].Attached())

	session.Close(context.Background())
	assert.Equal(t, 1, api.Calls["DetachVolume"])
	assert.NotContains(t, api.Volumes, vol.ID)
}

func TestTempVolumeFromSnapshotInheritsSize(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	cfg := testConfig(t)
	session := NewSession(testutil.NewLogger(), api.Region(), nil)
	broker := NewBroker(testutil.NewLogger(), api, cfg)

	src, err := api.CreateVolume(context.Background(), 20, "", "us-east-1a")
	require.NoError(t, err)
	snap, err := api.CreateSnapshot(context.Background(), src.ID, "")
	require.NoError(t, err)

	vol, err := broker.TempVolume(context.Background(), session, 0, snap.ID, "us-east-1a")
	require.NoError(t, err)
	assert.Equal(t, int32(20), vol.SizeGiB)
	assert.Equal(t, snap.ID, vol.SnapshotID)

	session.Close(context.Background())
}

func TestSessionCloseBalancesEveryAcquisition(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	cfg := testConfig(t)
	session := NewSession(testutil.NewLogger(), api.Region(), nil)
	broker := NewBroker(testutil.NewLogger(), api, cfg)

	cred, err := broker.TempCredential(context.Background(), session)
	require.NoError(t, err)
	inst, err := broker.TempInstance(context.Background(), session, cred)
	require.NoError(t, err)
	vol, err := broker.TempVolume(context.Background(), session, 8, "", inst.Zone)
	require.NoError(t, err)
	_, err = broker.Attach(context.Background(), vol, inst)
	require.NoError(t, err)

	session.Close(context.Background())

	assert.Equal(t, api.Calls["CreateKeyPair"], api.Calls["DeleteKeyPair"])
	assert.Equal(t, api.Calls["CreateSecurityGroup"], api.Calls["DeleteSecurityGroup"])
	assert.Equal(t, api.Calls["CreateVolume"], api.Calls["DeleteVolume"])
	assert.Equal(t, api.Calls["RunInstance"], api.Calls["TerminateInstance"])
	assert.Equal(t, 1, api.Calls["DetachVolume"])
}

func TestAttachSkipsTakenDeviceLetters(t *testing.T) {
	api := testutil.NewFakeAPI("us-east-1")
	cfg := testConfig(t)
	session := NewSession(testutil.NewLogger(), api.Region(), nil)
	broker := NewBroker(testutil.NewLogger(), api, cfg)

	inst, err := api.RunInstance(context.Background(), cloud.InstanceSpec{Zone: "us-east-1a"})
	require.NoError(t, err)
	inst.BlockDevices["/dev/sdf"] = "vol-taken"
	// A paravirtual rename of the same letter also counts as taken.
	inst.BlockDevices["/dev/xvdg"] = "vol-renamed"

	vol, err := broker.TempVolume(context.Background(), session, 8, "", "us-east-1a")
	require.NoError(t, err)

	device, err := broker.Attach(context.Background(), vol, inst)
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdh", device)

	session.Close(context.Background())
}
