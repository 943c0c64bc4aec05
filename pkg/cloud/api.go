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

package cloud

import "context"

// SnapshotFilter narrows ListSnapshots. Zero values mean "don't filter".
// Listing is always scoped to snapshots owned by the calling account.
type SnapshotFilter struct {
	TagKey   string
	TagValue string
	Status   SnapshotStatus
}

// InstanceSpec describes an instance to launch.
type InstanceSpec struct {
	Zone             string
	ImageID          string
	Type             string
	KeyName          string
	SecurityGroupIDs []string
}

// API exposes the block-storage and compute operations required by the
// lifecycle engine for a single region. Implementations live in
// subpackages (e.g. cloud/aws); tests use fakes.
type API interface {
	// Region returns the region this client is bound to.
	Region() string

	// CreateSnapshot initiates a snapshot of the volume with the given
	// description. It returns without waiting for completion.
	CreateSnapshot(ctx context.Context, volumeID, description string) (*Snapshot, error)

	// GetSnapshot returns the current view of a snapshot.
	GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error)

	// ListSnapshots returns the account's snapshots matching the filter.
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*Snapshot, error)

	// DeleteSnapshot deletes a snapshot. Deleting a snapshot that no
	// longer exists is not an error.
	DeleteSnapshot(ctx context.Context, snapshotID string) error

	// CreateVolume creates a volume in the given zone, initialized from
	// snapshotID when non-empty, otherwise blank with the given size.
	CreateVolume(ctx context.Context, sizeGiB int32, snapshotID, zone string) (*Volume, error)

	GetVolume(ctx context.Context, volumeID string) (*Volume, error)

	// AttachVolume attaches a volume to an instance at the given device
	// path. The attachment completes asynchronously.
	AttachVolume(ctx context.Context, volumeID, instanceID, device string) error

	// DetachVolume begins detaching a volume from whatever instance holds
	// it. The volume must reach "available" before it can be deleted.
	DetachVolume(ctx context.Context, volumeID string) error

	DeleteVolume(ctx context.Context, volumeID string) error

	// RunInstance launches a single instance. The instance completes
	// startup asynchronously.
	RunInstance(ctx context.Context, spec InstanceSpec) (*Instance, error)

	GetInstance(ctx context.Context, instanceID string) (*Instance, error)

	TerminateInstance(ctx context.Context, instanceID string) error

	// ListInstancesByTag returns instances carrying the given tag.
	ListInstancesByTag(ctx context.Context, key, value string) ([]*Instance, error)

	ListInstances(ctx context.Context) ([]*Instance, error)

	// ListZones returns the availability zone names of this region.
	ListZones(ctx context.Context) ([]string, error)

	// LookupImage resolves an image name filter (glob) to the most recent
	// matching image ID.
	LookupImage(ctx context.Context, nameFilter string) (string, error)

	// AddTags applies tags to any taggable resource. Tags with empty
	// values are skipped.
	AddTags(ctx context.Context, resourceID string, tags map[string]string) error

	// CreateKeyPair creates a named keypair and returns its PEM-encoded
	// private key material.
	CreateKeyPair(ctx context.Context, name string) (string, error)

	DeleteKeyPair(ctx context.Context, name string) error

	CreateSecurityGroup(ctx context.Context, name, description string) (*SecurityGroup, error)

	ListSecurityGroups(ctx context.Context) ([]*SecurityGroup, error)

	AuthorizeIngress(ctx context.Context, groupID string, rule IngressRule) error

	RevokeIngress(ctx context.Context, groupID string, rule IngressRule) error

	DeleteSecurityGroup(ctx context.Context, groupID string) error
}

// Dialer hands out per-region API clients. Dial accepts a partially
// spelled region name (e.g. "ap-south" for ap-southeast-1) as long as it
// matches exactly one region.
type Dialer interface {
	Dial(ctx context.Context, region string) (API, error)
	Regions(ctx context.Context) ([]string, error)
}
