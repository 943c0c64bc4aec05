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

package aws

import (
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/snaplife/snaplife/pkg/cloud"
)

func tagMap(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[awssdk.ToString(tag.Key)] = awssdk.ToString(tag.Value)
	}
	return m
}

func convertSnapshot(region string, snap ec2types.Snapshot) *cloud.Snapshot {
	return &cloud.Snapshot{
		ID:          awssdk.ToString(snap.SnapshotId),
		Region:      region,
		VolumeID:    awssdk.ToString(snap.VolumeId),
		Description: awssdk.ToString(snap.Description),
		Status:      cloud.SnapshotStatus(snap.State),
		Progress:    awssdk.ToString(snap.Progress),
		StartTime:   awssdk.ToTime(snap.StartTime),
		SizeGiB:     awssdk.ToInt32(snap.VolumeSize),
		Encrypted:   awssdk.ToBool(snap.Encrypted),
		Tags:        tagMap(snap.Tags),
	}
}

func convertVolume(region string, vol ec2types.Volume) *cloud.Volume {
	converted := &cloud.Volume{
		ID:         awssdk.ToString(vol.VolumeId),
		Region:     region,
		Zone:       awssdk.ToString(vol.AvailabilityZone),
		SizeGiB:    awssdk.ToInt32(vol.Size),
		SnapshotID: awssdk.ToString(vol.SnapshotId),
		Status:     cloud.VolumeStatus(vol.State),
		Tags:       tagMap(vol.Tags),
	}
	for _, att := range vol.Attachments {
		if att.State == ec2types.VolumeAttachmentStateDetached {
			continue
		}
		converted.Attachment = &cloud.Attachment{
			InstanceID: awssdk.ToString(att.InstanceId),
			Device:     awssdk.ToString(att.Device),
			Status:     cloud.AttachmentStatus(att.State),
		}
		break
	}
	return converted
}

func convertInstance(region string, inst ec2types.Instance) *cloud.Instance {
	converted := &cloud.Instance{
		ID:             awssdk.ToString(inst.InstanceId),
		Region:         region,
		Type:           string(inst.InstanceType),
		Architecture:   string(inst.Architecture),
		RootDeviceName: awssdk.ToString(inst.RootDeviceName),
		PublicDNSName:  awssdk.ToString(inst.PublicDnsName),
		PublicIP:       awssdk.ToString(inst.PublicIpAddress),
		KeyName:        awssdk.ToString(inst.KeyName),
		Tags:           tagMap(inst.Tags),
	}
	if inst.Placement != nil {
		converted.Zone = awssdk.ToString(inst.Placement.AvailabilityZone)
	}
	if inst.State != nil {
		converted.Status = cloud.InstanceStatus(inst.State.Name)
	}
	if len(inst.BlockDeviceMappings) > 0 {
		converted.BlockDevices = make(map[string]string, len(inst.BlockDeviceMappings))
		for _, mapping := range inst.BlockDeviceMappings {
			if mapping.Ebs == nil {
				continue
			}
			converted.BlockDevices[awssdk.ToString(mapping.DeviceName)] = awssdk.ToString(mapping.Ebs.VolumeId)
		}
	}
	for _, group := range inst.SecurityGroups {
		converted.SecurityGroups = append(converted.SecurityGroups, awssdk.ToString(group.GroupId))
	}
	return converted
}

func convertSecurityGroup(region string, group ec2types.SecurityGroup) *cloud.SecurityGroup {
	converted := &cloud.SecurityGroup{
		ID:          awssdk.ToString(group.GroupId),
		Name:        awssdk.ToString(group.GroupName),
		Description: awssdk.ToString(group.Description),
		Region:      region,
		OwnerID:     awssdk.ToString(group.OwnerId),
	}
	for _, perm := range group.IpPermissions {
		converted.Rules = append(converted.Rules, convertPermissionToRule(perm))
	}
	return converted
}

func convertPermissionToRule(perm ec2types.IpPermission) cloud.IngressRule {
	rule := cloud.IngressRule{
		Protocol: awssdk.ToString(perm.IpProtocol),
		FromPort: awssdk.ToInt32(perm.FromPort),
		ToPort:   awssdk.ToInt32(perm.ToPort),
	}
	for _, ipRange := range perm.IpRanges {
		rule.Grants = append(rule.Grants, cloud.Grant{CIDR: awssdk.ToString(ipRange.CidrIp)})
	}
	for _, pair := range perm.UserIdGroupPairs {
		rule.Grants = append(rule.Grants, cloud.Grant{
			GroupName: awssdk.ToString(pair.GroupName),
			OwnerID:   awssdk.ToString(pair.UserId),
		})
	}
	return rule
}

func convertRuleToPermission(rule cloud.IngressRule) ec2types.IpPermission {
	perm := ec2types.IpPermission{
		IpProtocol: awssdk.String(rule.Protocol),
		FromPort:   awssdk.Int32(rule.FromPort),
		ToPort:     awssdk.Int32(rule.ToPort),
	}
	for _, grant := range rule.Grants {
		if grant.CIDR != "" {
			perm.IpRanges = append(perm.IpRanges, ec2types.IpRange{CidrIp: awssdk.String(grant.CIDR)})
			continue
		}
		pair := ec2types.UserIdGroupPair{GroupName: awssdk.String(grant.GroupName)}
		if grant.OwnerID != "" {
			pair.UserId = awssdk.String(grant.OwnerID)
		}
		perm.UserIdGroupPairs = append(perm.UserIdGroupPairs, pair)
	}
	return perm
}
