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

// Package aws implements cloud.API on top of Amazon EC2.
package aws

import (
	"context"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"

	"github.com/snaplife/snaplife/pkg/cloud"
)

// client binds an EC2 client to one region.
type client struct {
	region string
	ec2    *ec2.Client
}

var _ cloud.API = (*client)(nil)

func newClient(cfg awssdk.Config, region string) *client {
	cfg.Region = region
	return &client{region: region, ec2: ec2.NewFromConfig(cfg)}
}

func (c *client) Region() string {
	return c.region
}

// isAPIError reports whether err carries the given EC2 error code.
func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

func (c *client) CreateSnapshot(ctx context.Context, volumeID, description string) (*cloud.Snapshot, error) {
	out, err := c.ec2.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    awssdk.String(volumeID),
		Description: awssdk.String(description),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error creating snapshot of volume %s", volumeID)
	}
	return &cloud.Snapshot{
		ID:          awssdk.ToString(out.SnapshotId),
		Region:      c.region,
		VolumeID:    awssdk.ToString(out.VolumeId),
		Description: awssdk.ToString(out.Description),
		Status:      cloud.SnapshotStatus(out.State),
		Progress:    awssdk.ToString(out.Progress),
		StartTime:   awssdk.ToTime(out.StartTime),
		SizeGiB:     awssdk.ToInt32(out.VolumeSize),
		Encrypted:   awssdk.ToBool(out.Encrypted),
		Tags:        tagMap(out.Tags),
	}, nil
}

func (c *client) GetSnapshot(ctx context.Context, snapshotID string) (*cloud.Snapshot, error) {
	out, err := c.ec2.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		SnapshotIds: []string{snapshotID},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error describing snapshot %s", snapshotID)
	}
	if len(out.Snapshots) == 0 {
		return nil, errors.Errorf("snapshot %s not found in %s", snapshotID, c.region)
	}
	return convertSnapshot(c.region, out.Snapshots[0]), nil
}

func (c *client) ListSnapshots(ctx context.Context, filter cloud.SnapshotFilter) ([]*cloud.Snapshot, error) {
	input := &ec2.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	}
	if filter.TagKey != "" {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   awssdk.String("tag:" + filter.TagKey),
			Values: []string{filter.TagValue},
		})
	}
	if filter.Status != "" {
		input.Filters = append(input.Filters, ec2types.Filter{
			Name:   awssdk.String("status"),
			Values: []string{string(filter.Status)},
		})
	}

	var snapshots []*cloud.Snapshot
	pager := ec2.NewDescribeSnapshotsPaginator(c.ec2, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "error listing snapshots in %s", c.region)
		}
		for i := range page.Snapshots {
			snapshots = append(snapshots, convertSnapshot(c.region, page.Snapshots[i]))
		}
	}
	return snapshots, nil
}

func (c *client) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	_, err := c.ec2.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: awssdk.String(snapshotID),
	})
	if err != nil && !isAPIError(err, "InvalidSnapshot.NotFound") {
		return errors.Wrapf(err, "error deleting snapshot %s", snapshotID)
	}
	return nil
}

func (c *client) CreateVolume(ctx context.Context, sizeGiB int32, snapshotID, zone string) (*cloud.Volume, error) {
	input := &ec2.CreateVolumeInput{
		AvailabilityZone: awssdk.String(zone),
	}
	if snapshotID != "" {
		input.SnapshotId = awssdk.String(snapshotID)
	} else {
		input.Size = awssdk.Int32(sizeGiB)
	}
	out, err := c.ec2.CreateVolume(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating volume in %s", zone)
	}
	return &cloud.Volume{
		ID:         awssdk.ToString(out.VolumeId),
		Region:     c.region,
		Zone:       awssdk.ToString(out.AvailabilityZone),
		SizeGiB:    awssdk.ToInt32(out.Size),
		SnapshotID: awssdk.ToString(out.SnapshotId),
		Status:     cloud.VolumeStatus(out.State),
		Tags:       tagMap(out.Tags),
	}, nil
}

func (c *client) GetVolume(ctx context.Context, volumeID string) (*cloud.Volume, error) {
	out, err := c.ec2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: []string{volumeID},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error describing volume %s", volumeID)
	}
	if len(out.Volumes) == 0 {
		return nil, errors.Errorf("volume %s not found in %s", volumeID, c.region)
	}
	return convertVolume(c.region, out.Volumes[0]), nil
}

func (c *client) AttachVolume(ctx context.Context, volumeID, instanceID, device string) error {
	_, err := c.ec2.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   awssdk.String(volumeID),
		InstanceId: awssdk.String(instanceID),
		Device:     awssdk.String(device),
	})
	return errors.Wrapf(err, "error attaching volume %s to %s", volumeID, instanceID)
}

func (c *client) DetachVolume(ctx context.Context, volumeID string) error {
	_, err := c.ec2.DetachVolume(ctx, &ec2.DetachVolumeInput{
		VolumeId: awssdk.String(volumeID),
		Force:    awssdk.Bool(true),
	})
	return errors.Wrapf(err, "error detaching volume %s", volumeID)
}

func (c *client) DeleteVolume(ctx context.Context, volumeID string) error {
	_, err := c.ec2.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
		VolumeId: awssdk.String(volumeID),
	})
	if err != nil && !isAPIError(err, "InvalidVolume.NotFound") {
		return errors.Wrapf(err, "error deleting volume %s", volumeID)
	}
	return nil
}

func (c *client) RunInstance(ctx context.Context, spec cloud.InstanceSpec) (*cloud.Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      awssdk.String(spec.ImageID),
		InstanceType: ec2types.InstanceType(spec.Type),
		MinCount:     awssdk.Int32(1),
		MaxCount:     awssdk.Int32(1),
		Placement: &ec2types.Placement{
			AvailabilityZone: awssdk.String(spec.Zone),
		},
		SecurityGroupIds: spec.SecurityGroupIDs,
	}
	if spec.KeyName != "" {
		input.KeyName = awssdk.String(spec.KeyName)
	}
	out, err := c.ec2.RunInstances(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "error launching instance in %s", spec.Zone)
	}
	if len(out.Instances) == 0 {
		return nil, errors.Errorf("instance launch in %s returned no instances", spec.Zone)
	}
	return convertInstance(c.region, out.Instances[0]), nil
}

func (c *client) GetInstance(ctx context.Context, instanceID string) (*cloud.Instance, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error describing instance %s", instanceID)
	}
	for _, res := range out.Reservations {
		for i := range res.Instances {
			return convertInstance(c.region, res.Instances[i]), nil
		}
	}
	return nil, errors.Errorf("instance %s not found in %s", instanceID, c.region)
}

func (c *client) TerminateInstance(ctx context.Context, instanceID string) error {
	_, err := c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil && !isAPIError(err, "InvalidInstanceID.NotFound") {
		return errors.Wrapf(err, "error terminating instance %s", instanceID)
	}
	return nil
}

func (c *client) ListInstancesByTag(ctx context.Context, key, value string) ([]*cloud.Instance, error) {
	return c.listInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{
				Name:   awssdk.String("tag:" + key),
				Values: []string{value},
			},
		},
	})
}

func (c *client) ListInstances(ctx context.Context) ([]*cloud.Instance, error) {
	return c.listInstances(ctx, &ec2.DescribeInstancesInput{})
}

func (c *client) listInstances(ctx context.Context, input *ec2.DescribeInstancesInput) ([]*cloud.Instance, error) {
	var instances []*cloud.Instance
	pager := ec2.NewDescribeInstancesPaginator(c.ec2, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "error listing instances in %s", c.region)
		}
		for _, res := range page.Reservations {
			for i := range res.Instances {
				instances = append(instances, convertInstance(c.region, res.Instances[i]))
			}
		}
	}
	return instances, nil
}

func (c *client) ListZones(ctx context.Context) ([]string, error) {
	out, err := c.ec2.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, errors.Wrapf(err, "error listing availability zones in %s", c.region)
	}
	var zones []string
	for _, zone := range out.AvailabilityZones {
		if string(zone.State) == "available" {
			zones = append(zones, awssdk.ToString(zone.ZoneName))
		}
	}
	sort.Strings(zones)
	return zones, nil
}

func (c *client) LookupImage(ctx context.Context, nameFilter string) (string, error) {
	out, err := c.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Filters: []ec2types.Filter{
			{
				Name:   awssdk.String("name"),
				Values: []string{nameFilter},
			},
			{
				Name:   awssdk.String("state"),
				Values: []string{"available"},
			},
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "error looking up image %q in %s", nameFilter, c.region)
	}
	if len(out.Images) == 0 {
		return "", errors.Errorf("no image matching %q in %s", nameFilter, c.region)
	}

	// CreationDate is RFC 3339, newest last after a lexical sort.
	images := out.Images
	sort.Slice(images, func(i, j int) bool {
		return awssdk.ToString(images[i].CreationDate) < awssdk.ToString(images[j].CreationDate)
	})
	return awssdk.ToString(images[len(images)-1].ImageId), nil
}

func (c *client) AddTags(ctx context.Context, resourceID string, tags map[string]string) error {
	var ec2Tags []ec2types.Tag
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if tags[key] == "" {
			continue
		}
		ec2Tags = append(ec2Tags, ec2types.Tag{
			Key:   awssdk.String(key),
			Value: awssdk.String(tags[key]),
		})
	}
	if len(ec2Tags) == 0 {
		return nil
	}
	_, err := c.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      ec2Tags,
	})
	return errors.Wrapf(err, "error tagging %s", resourceID)
}

func (c *client) CreateKeyPair(ctx context.Context, name string) (string, error) {
	out, err := c.ec2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName: awssdk.String(name),
	})
	if err != nil {
		return "", errors.Wrapf(err, "error creating key pair %s", name)
	}
	return awssdk.ToString(out.KeyMaterial), nil
}

func (c *client) DeleteKeyPair(ctx context.Context, name string) error {
	_, err := c.ec2.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{
		KeyName: awssdk.String(name),
	})
	return errors.Wrapf(err, "error deleting key pair %s", name)
}

func (c *client) CreateSecurityGroup(ctx context.Context, name, description string) (*cloud.SecurityGroup, error) {
	out, err := c.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   awssdk.String(name),
		Description: awssdk.String(description),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error creating security group %s", name)
	}
	return &cloud.SecurityGroup{
		ID:          awssdk.ToString(out.GroupId),
		Name:        name,
		Description: description,
		Region:      c.region,
	}, nil
}

func (c *client) ListSecurityGroups(ctx context.Context) ([]*cloud.SecurityGroup, error) {
	var groups []*cloud.SecurityGroup
	pager := ec2.NewDescribeSecurityGroupsPaginator(c.ec2, &ec2.DescribeSecurityGroupsInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "error listing security groups in %s", c.region)
		}
		for i := range page.SecurityGroups {
			groups = append(groups, convertSecurityGroup(c.region, page.SecurityGroups[i]))
		}
	}
	return groups, nil
}

func (c *client) AuthorizeIngress(ctx context.Context, groupID string, rule cloud.IngressRule) error {
	_, err := c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:       awssdk.String(groupID),
		IpPermissions: []ec2types.IpPermission{convertRuleToPermission(rule)},
	})
	if err != nil && !isAPIError(err, "InvalidPermission.Duplicate") {
		return errors.Wrapf(err, "error authorizing ingress on %s", groupID)
	}
	return nil
}

func (c *client) RevokeIngress(ctx context.Context, groupID string, rule cloud.IngressRule) error {
	_, err := c.ec2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:       awssdk.String(groupID),
		IpPermissions: []ec2types.IpPermission{convertRuleToPermission(rule)},
	})
	if err != nil && !isAPIError(err, "InvalidPermission.NotFound") {
		return errors.Wrapf(err, "error revoking ingress on %s", groupID)
	}
	return nil
}

func (c *client) DeleteSecurityGroup(ctx context.Context, groupID string) error {
	_, err := c.ec2.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: awssdk.String(groupID),
	})
	if err != nil && !isAPIError(err, "InvalidGroup.NotFound") {
		return errors.Wrapf(err, "error deleting security group %s", groupID)
	}
	return nil
}
