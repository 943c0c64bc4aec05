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

package test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/snaplife/snaplife/pkg/cloud"
)

// FakeAPI is an in-memory cloud.API. Created resources land in their
// final state immediately, so waiters return on first observation and
// tests never sleep.
type FakeAPI struct {
	RegionName string

	mu        sync.Mutex
	Snapshots map[string]*cloud.Snapshot
	Volumes   map[string]*cloud.Volume
	Instances map[string]*cloud.Instance
	Groups    map[string]*cloud.SecurityGroup
	KeyPairs  map[string]string
	Zones     []string
	ImageID   string

	// Calls counts invocations per method name.
	Calls map[string]int

	// Fail forces the named methods to return an error.
	Fail map[string]error

	// FailZones makes RunInstance fail in specific zones.
	FailZones map[string]error

	// SnapshotStates is consumed one entry per CreateSnapshot call to
	// produce snapshots in a given status; when exhausted, snapshots are
	// created completed.
	SnapshotStates []cloud.SnapshotStatus

	// Now stamps StartTime on created snapshots.
	Now func() time.Time

	nextID int
	keyPEM string
}

var _ cloud.API = (*FakeAPI)(nil)

func NewFakeAPI(region string, zones ...string) *FakeAPI {
	if len(zones) == 0 {
		zones = []string{region + "a", region + "b"}
	}
	return &FakeAPI{
		RegionName: region,
		Snapshots:  make(map[string]*cloud.Snapshot),
		Volumes:    make(map[string]*cloud.Volume),
		Instances:  make(map[string]*cloud.Instance),
		Groups:     make(map[string]*cloud.SecurityGroup),
		KeyPairs:   make(map[string]string),
		Zones:      zones,
		ImageID:    "ami-" + region,
		Calls:      make(map[string]int),
		Fail:       make(map[string]error),
		FailZones:  make(map[string]error),
		Now:        time.Now,
	}
}

func (f *FakeAPI) enter(method string) error {
	f.Calls[method]++
	return f.Fail[method]
}

func (f *FakeAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%s-%04d", prefix, f.RegionName, f.nextID)
}

func (f *FakeAPI) Region() string {
	return f.RegionName
}

func (f *FakeAPI) CreateSnapshot(ctx context.Context, volumeID, description string) (*cloud.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateSnapshot"); err != nil {
		return nil, err
	}

	status := cloud.SnapshotCompleted
	if len(f.SnapshotStates) > 0 {
		status = f.SnapshotStates[0]
		f.SnapshotStates = f.SnapshotStates[1:]
	}
	snap := &cloud.Snapshot{
		ID:          f.id("snap"),
		Region:      f.RegionName,
		VolumeID:    volumeID,
		Description: description,
		Status:      status,
		Progress:    "100%",
		StartTime:   f.Now(),
		Tags:        map[string]string{},
	}
	if vol, ok := f.Volumes[volumeID]; ok {
		snap.SizeGiB = vol.SizeGiB
	}
	f.Snapshots[snap.ID] = snap
	return snap, nil
}

func (f *FakeAPI) GetSnapshot(ctx context.Context, snapshotID string) (*cloud.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetSnapshot"); err != nil {
		return nil, err
	}
	snap, ok := f.Snapshots[snapshotID]
	if !ok {
		return nil, errors.Errorf("snapshot %s not found", snapshotID)
	}
	return snap, nil
}

func (f *FakeAPI) ListSnapshots(ctx context.Context, filter cloud.SnapshotFilter) ([]*cloud.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListSnapshots"); err != nil {
		return nil, err
	}
	var snaps []*cloud.Snapshot
	for _, snap := range f.Snapshots {
		if filter.TagKey != "" && snap.Tags[filter.TagKey] != filter.TagValue {
			continue
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

func (f *FakeAPI) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteSnapshot"); err != nil {
		return err
	}
	delete(f.Snapshots, snapshotID)
	return nil
}

func (f *FakeAPI) CreateVolume(ctx context.Context, sizeGiB int32, snapshotID, zone string) (*cloud.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateVolume"); err != nil {
		return nil, err
	}
	if snapshotID != "" {
		snap, ok := f.Snapshots[snapshotID]
		if !ok {
			return nil, errors.Errorf("snapshot %s not found", snapshotID)
		}
		sizeGiB = snap.SizeGiB
	}
	vol := &cloud.Volume{
		ID:         f.id("vol"),
		Region:     f.RegionName,
		Zone:       zone,
		SizeGiB:    sizeGiB,
		SnapshotID: snapshotID,
		Status:     cloud.VolumeAvailable,
		Tags:       map[string]string{},
	}
	f.Volumes[vol.ID] = vol
	return vol, nil
}

func (f *FakeAPI) GetVolume(ctx context.Context, volumeID string) (*cloud.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetVolume"); err != nil {
		return nil, err
	}
	vol, ok := f.Volumes[volumeID]
	if !ok {
		return nil, errors.Errorf("volume %s not found", volumeID)
	}
	return vol, nil
}

func (f *FakeAPI) AttachVolume(ctx context.Context, volumeID, instanceID, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AttachVolume"); err != nil {
		return err
	}
	vol, ok := f.Volumes[volumeID]
	if !ok {
		return errors.Errorf("volume %s not found", volumeID)
	}
	inst, ok := f.Instances[instanceID]
	if !ok {
		return errors.Errorf("instance %s not found", instanceID)
	}
	if vol.Attached() {
		return errors.Errorf("volume %s already attached", volumeID)
	}
	vol.Status = cloud.VolumeInUse
	vol.Attachment = &cloud.Attachment{
		InstanceID: instanceID,
		Device:     device,
		Status:     cloud.AttachmentAttached,
	}
	if inst.BlockDevices == nil {
		inst.BlockDevices = make(map[string]string)
	}
	inst.BlockDevices[device] = volumeID
	return nil
}

func (f *FakeAPI) DetachVolume(ctx context.Context, volumeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DetachVolume"); err != nil {
		return err
	}
	vol, ok := f.Volumes[volumeID]
	if !ok {
		return errors.Errorf("volume %s not found", volumeID)
	}
	if vol.Attachment != nil {
		if inst, ok := f.Instances[vol.Attachment.InstanceID]; ok {
			delete(inst.BlockDevices, vol.Attachment.Device)
		}
	}
	vol.Attachment = nil
	vol.Status = cloud.VolumeAvailable
	return nil
}

func (f *FakeAPI) DeleteVolume(ctx context.Context, volumeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteVolume"); err != nil {
		return err
	}
	if vol, ok := f.Volumes[volumeID]; ok && vol.Attached() {
		return errors.Errorf("volume %s is attached", volumeID)
	}
	delete(f.Volumes, volumeID)
	return nil
}

func (f *FakeAPI) RunInstance(ctx context.Context, spec cloud.InstanceSpec) (*cloud.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RunInstance"); err != nil {
		return nil, err
	}
	if err := f.FailZones[spec.Zone]; err != nil {
		return nil, err
	}
	inst := &cloud.Instance{
		ID:             f.id("i"),
		Region:         f.RegionName,
		Zone:           spec.Zone,
		Type:           spec.Type,
		Architecture:   "x86_64",
		RootDeviceName: "/dev/sda1",
		KeyName:        spec.KeyName,
		Status:         cloud.InstanceRunning,
		BlockDevices:   map[string]string{"/dev/sda1": f.id("vol")},
		SecurityGroups: spec.SecurityGroupIDs,
		Tags:           map[string]string{},
	}
	inst.PublicDNSName = inst.ID + ".example.test"
	inst.PublicIP = fmt.Sprintf("203.0.113.%d", f.nextID%250)
	f.Instances[inst.ID] = inst
	return inst, nil
}

func (f *FakeAPI) GetInstance(ctx context.Context, instanceID string) (*cloud.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetInstance"); err != nil {
		return nil, err
	}
	inst, ok := f.Instances[instanceID]
	if !ok {
		return nil, errors.Errorf("instance %s not found", instanceID)
	}
	return inst, nil
}

func (f *FakeAPI) TerminateInstance(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TerminateInstance"); err != nil {
		return err
	}
	inst, ok := f.Instances[instanceID]
	if !ok {
		return errors.Errorf("instance %s not found", instanceID)
	}
	inst.Status = cloud.InstanceTerminated
	return nil
}

func (f *FakeAPI) ListInstancesByTag(ctx context.Context, key, value string) ([]*cloud.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListInstancesByTag"); err != nil {
		return nil, err
	}
	var instances []*cloud.Instance
	for _, inst := range f.Instances {
		if inst.Tags[key] == value {
			instances = append(instances, inst)
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances, nil
}

func (f *FakeAPI) ListInstances(ctx context.Context) ([]*cloud.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListInstances"); err != nil {
		return nil, err
	}
	var instances []*cloud.Instance
	for _, inst := range f.Instances {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
	return instances, nil
}

func (f *FakeAPI) ListZones(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListZones"); err != nil {
		return nil, err
	}
	return f.Zones, nil
}

func (f *FakeAPI) LookupImage(ctx context.Context, nameFilter string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("LookupImage"); err != nil {
		return "", err
	}
	return f.ImageID, nil
}

func (f *FakeAPI) AddTags(ctx context.Context, resourceID string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddTags"); err != nil {
		return err
	}
	target := f.findTags(resourceID)
	if target == nil {
		return errors.Errorf("resource %s not found", resourceID)
	}
	for key, value := range tags {
		if value == "" {
			continue
		}
		target[key] = value
	}
	return nil
}

func (f *FakeAPI) findTags(resourceID string) map[string]string {
	if snap, ok := f.Snapshots[resourceID]; ok {
		if snap.Tags == nil {
			snap.Tags = map[string]string{}
		}
		return snap.Tags
	}
	if vol, ok := f.Volumes[resourceID]; ok {
		if vol.Tags == nil {
			vol.Tags = map[string]string{}
		}
		return vol.Tags
	}
	if inst, ok := f.Instances[resourceID]; ok {
		if inst.Tags == nil {
			inst.Tags = map[string]string{}
		}
		return inst.Tags
	}
	return nil
}

func (f *FakeAPI) CreateKeyPair(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateKeyPair"); err != nil {
		return "", err
	}
	if f.keyPEM == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return "", errors.WithStack(err)
		}
		f.keyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	}
	f.KeyPairs[name] = f.keyPEM
	return f.keyPEM, nil
}

func (f *FakeAPI) DeleteKeyPair(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteKeyPair"); err != nil {
		return err
	}
	delete(f.KeyPairs, name)
	return nil
}

func (f *FakeAPI) CreateSecurityGroup(ctx context.Context, name, description string) (*cloud.SecurityGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateSecurityGroup"); err != nil {
		return nil, err
	}
	group := &cloud.SecurityGroup{
		ID:          f.id("sg"),
		Name:        name,
		Description: description,
		Region:      f.RegionName,
		OwnerID:     "123456789012",
	}
	f.Groups[group.ID] = group
	return group, nil
}

func (f *FakeAPI) ListSecurityGroups(ctx context.Context) ([]*cloud.SecurityGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListSecurityGroups"); err != nil {
		return nil, err
	}
	var groups []*cloud.SecurityGroup
	for _, group := range f.Groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (f *FakeAPI) AuthorizeIngress(ctx context.Context, groupID string, rule cloud.IngressRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AuthorizeIngress"); err != nil {
		return err
	}
	group, ok := f.Groups[groupID]
	if !ok {
		return errors.Errorf("security group %s not found", groupID)
	}
	group.Rules = append(group.Rules, rule)
	return nil
}

func (f *FakeAPI) RevokeIngress(ctx context.Context, groupID string, rule cloud.IngressRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RevokeIngress"); err != nil {
		return err
	}
	group, ok := f.Groups[groupID]
	if !ok {
		return errors.Errorf("security group %s not found", groupID)
	}
	for i, have := range group.Rules {
		if reflect.DeepEqual(have, rule) {
			group.Rules = append(group.Rules[:i], group.Rules[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *FakeAPI) DeleteSecurityGroup(ctx context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteSecurityGroup"); err != nil {
		return err
	}
	delete(f.Groups, groupID)
	return nil
}

// FakeDialer maps region names to FakeAPIs, with the same partial-name
// matching as the real dialer.
type FakeDialer struct {
	APIs map[string]*FakeAPI
}

var _ cloud.Dialer = (*FakeDialer)(nil)

func NewFakeDialer(apis ...*FakeAPI) *FakeDialer {
	d := &FakeDialer{APIs: make(map[string]*FakeAPI, len(apis))}
	for _, api := range apis {
		d.APIs[api.RegionName] = api
	}
	return d
}

func (d *FakeDialer) Dial(ctx context.Context, region string) (cloud.API, error) {
	if api, ok := d.APIs[region]; ok {
		return api, nil
	}
	var match *FakeAPI
	for name, api := range d.APIs {
		if strings.HasPrefix(name, region) {
			if match != nil {
				return nil, errors.Errorf("ambiguous region %q", region)
			}
			match = api
		}
	}
	if match == nil {
		return nil, errors.Errorf("unknown region %q", region)
	}
	return match, nil
}

func (d *FakeDialer) Regions(ctx context.Context) ([]string, error) {
	regions := make([]string, 0, len(d.APIs))
	for name := range d.APIs {
		regions = append(regions, name)
	}
	sort.Strings(regions)
	return regions, nil
}
