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

import "time"

// SnapshotStatus is the provider-reported state of a snapshot.
type SnapshotStatus string

const (
	SnapshotPending   SnapshotStatus = "pending"
	SnapshotCompleted SnapshotStatus = "completed"
	SnapshotError     SnapshotStatus = "error"
)

// Snapshot is a point-in-time copy of a block volume. The provenance
// record embedded in Description carries the logical creation time;
// StartTime is what the provider reports and is only used as a fallback
// when the description doesn't parse.
type Snapshot struct {
	ID          string
	Region      string
	VolumeID    string
	Description string
	Status      SnapshotStatus
	Progress    string
	StartTime   time.Time
	SizeGiB     int32
	Encrypted   bool
	Tags        map[string]string
}

// VolumeStatus is the provider-reported state of a volume.
type VolumeStatus string

const (
	VolumeCreating  VolumeStatus = "creating"
	VolumeAvailable VolumeStatus = "available"
	VolumeInUse     VolumeStatus = "in-use"
	VolumeDeleting  VolumeStatus = "deleting"
	VolumeError     VolumeStatus = "error"
)

// AttachmentStatus is the state of a volume-to-instance attachment.
type AttachmentStatus string

const (
	AttachmentAttaching AttachmentStatus = "attaching"
	AttachmentAttached  AttachmentStatus = "attached"
	AttachmentDetaching AttachmentStatus = "detaching"
	AttachmentDetached  AttachmentStatus = "detached"
)

// Attachment describes the instance a volume is attached to. A volume is
// attached to at most one instance at a time.
type Attachment struct {
	InstanceID string
	Device     string
	Status     AttachmentStatus
}

type Volume struct {
	ID         string
	Region     string
	Zone       string
	SizeGiB    int32
	SnapshotID string
	Status     VolumeStatus
	Attachment *Attachment
	Tags       map[string]string
}

// Attached reports whether the volume is currently attached to an instance.
func (v *Volume) Attached() bool {
	return v.Attachment != nil && v.Attachment.InstanceID != ""
}

// InstanceStatus is the provider-reported state of an instance.
type InstanceStatus string

const (
	InstancePending      InstanceStatus = "pending"
	InstanceRunning      InstanceStatus = "running"
	InstanceShuttingDown InstanceStatus = "shutting-down"
	InstanceTerminated   InstanceStatus = "terminated"
	InstanceStopped      InstanceStatus = "stopped"
)

type Instance struct {
	ID             string
	Region         string
	Zone           string
	Type           string
	Architecture   string
	RootDeviceName string
	PublicDNSName  string
	PublicIP       string
	KeyName        string
	Status         InstanceStatus
	// BlockDevices maps device paths (e.g. /dev/sda1) to attached volume IDs.
	BlockDevices   map[string]string
	SecurityGroups []string
	Tags           map[string]string
}

// Grant identifies who an ingress rule admits: either a CIDR block or a
// security group (name + account owner). Exactly one of CIDR or GroupName
// is set.
type Grant struct {
	CIDR      string
	GroupName string
	OwnerID   string
}

// IngressRule is a single protocol/port-range ingress permission with its
// grants.
type IngressRule struct {
	Protocol string
	FromPort int32
	ToPort   int32
	Grants   []Grant
}

type SecurityGroup struct {
	ID          string
	Name        string
	Description string
	Region      string
	OwnerID     string
	Rules       []IngressRule
}
