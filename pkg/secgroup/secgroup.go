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

// Package secgroup mirrors security-group rules across regions and
// retires groups nothing references anymore.
package secgroup

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/snaplife/snaplife/pkg/cloud"
)

// defaultGroupName can be neither created nor deleted, only synced.
const defaultGroupName = "default"

// Syncer propagates security-group rules between regions.
type Syncer struct {
	log    logrus.FieldLogger
	dialer cloud.Dialer
}

func NewSyncer(log logrus.FieldLogger, dialer cloud.Dialer) *Syncer {
	return &Syncer{log: log, dialer: dialer}
}

// ruleKey identifies one single-grant ingress permission by value. Group
// grants are keyed by group name so rules stay comparable across regions,
// where the same logical group has different IDs.
type ruleKey struct {
	protocol  string
	fromPort  int32
	toPort    int32
	cidr      string
	groupName string
}

func (k ruleKey) String() string {
	grant := k.cidr
	if grant == "" {
		grant = "group:" + k.groupName
	}
	return fmt.Sprintf("%s/%d-%d/%s", k.protocol, k.fromPort, k.toPort, grant)
}

// flatten splits a group's rules into single-grant keys.
func flatten(group *cloud.SecurityGroup) map[ruleKey]cloud.IngressRule {
	keys := make(map[ruleKey]cloud.IngressRule)
	for _, rule := range group.Rules {
		for _, grant := range rule.Grants {
			key := ruleKey{
				protocol:  rule.Protocol,
				fromPort:  rule.FromPort,
				toPort:    rule.ToPort,
				cidr:      grant.CIDR,
				groupName: grant.GroupName,
			}
			keys[key] = cloud.IngressRule{
				Protocol: rule.Protocol,
				FromPort: rule.FromPort,
				ToPort:   rule.ToPort,
				Grants:   []cloud.Grant{grant},
			}
		}
	}
	return keys
}

// SyncRegions makes the destination region's groups mirror the source
// region's: missing groups are created, then every group's rule set is
// reconciled in both directions.
func (s *Syncer) SyncRegions(ctx context.Context, srcRegion, dstRegion string) error {
	srcAPI, err := s.dialer.Dial(ctx, srcRegion)
	if err != nil {
		return err
	}
	dstAPI, err := s.dialer.Dial(ctx, dstRegion)
	if err != nil {
		return err
	}

	srcGroups, err := srcAPI.ListSecurityGroups(ctx)
	if err != nil {
		return err
	}
	sort.Slice(srcGroups, func(i, j int) bool { return srcGroups[i].Name < srcGroups[j].Name })

	for _, group := range srcGroups {
		if err := s.syncGroup(ctx, dstAPI, group); err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.log.WithError(err).WithFields(logrus.Fields{
				"group":             group.Name,
				"destinationRegion": dstAPI.Region(),
			}).Error("Error syncing security group, continuing with remaining groups")
		}
	}
	return nil
}

// syncGroup reconciles one named group in the destination region against
// the source group's rules.
func (s *Syncer) syncGroup(ctx context.Context, dstAPI cloud.API, src *cloud.SecurityGroup) error {
	log := s.log.WithFields(logrus.Fields{
		"group":             src.Name,
		"destinationRegion": dstAPI.Region(),
	})

	dst, err := s.ensureGroup(ctx, dstAPI, src.Name, src.Description)
	if err != nil {
		return err
	}

	want := flatten(src)
	have := flatten(dst)

	// Group grants name other groups, which must exist in the destination
	// before a rule can reference them.
	for key := range want {
		if key.groupName == "" {
			continue
		}
		if _, err := s.ensureGroup(ctx, dstAPI, key.groupName, "mirrored from "+src.Region); err != nil {
			return err
		}
	}

	for _, key := range sortedKeys(want) {
		if _, ok := have[key]; ok {
			continue
		}
		log.WithField("rule", key.String()).Info("Authorizing missing ingress rule")
		rule := want[key]
		// The grant's owner is the source region's account and doesn't
		// translate; the destination account is implied.
		if len(rule.Grants) == 1 && rule.Grants[0].GroupName != "" {
			rule.Grants[0].OwnerID = ""
		}
		if err := dstAPI.AuthorizeIngress(ctx, dst.ID, rule); err != nil {
			return err
		}
	}
	for _, key := range sortedKeys(have) {
		if _, ok := want[key]; ok {
			continue
		}
		log.WithField("rule", key.String()).Info("Revoking extraneous ingress rule")
		if err := dstAPI.RevokeIngress(ctx, dst.ID, have[key]); err != nil {
			return err
		}
	}
	return nil
}

// ensureGroup returns the named group in the region, creating it when
// absent.
func (s *Syncer) ensureGroup(ctx context.Context, api cloud.API, name, description string) (*cloud.SecurityGroup, error) {
	groups, err := api.ListSecurityGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		if group.Name == name {
			return group, nil
		}
	}
	if name == defaultGroupName {
		return nil, errors.Errorf("default group missing in %s", api.Region())
	}
	s.log.WithFields(logrus.Fields{
		"group":  name,
		"region": api.Region(),
	}).Info("Creating security group")
	return api.CreateSecurityGroup(ctx, name, description)
}

func sortedKeys(rules map[ruleKey]cloud.IngressRule) []ruleKey {
	keys := make([]ruleKey, 0, len(rules))
	for key := range rules {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Cleanup deletes groups in the region that no instance uses and no other
// group's rules reference. The default group is never touched. It returns
// the IDs of the groups deleted (or that would be deleted with dryRun).
func (s *Syncer) Cleanup(ctx context.Context, region string, dryRun bool) ([]string, error) {
	api, err := s.dialer.Dial(ctx, region)
	if err != nil {
		return nil, err
	}
	log := s.log.WithField("region", api.Region())

	groups, err := api.ListSecurityGroups(ctx)
	if err != nil {
		return nil, err
	}
	instances, err := api.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	for _, inst := range instances {
		if inst.Status == cloud.InstanceTerminated {
			continue
		}
		for _, id := range inst.SecurityGroups {
			used[id] = true
		}
	}
	referenced := make(map[string]bool)
	for _, group := range groups {
		for _, rule := range group.Rules {
			for _, grant := range rule.Grants {
				if grant.GroupName != "" {
					referenced[grant.GroupName] = true
				}
			}
		}
	}

	var deleted []string
	for _, group := range groups {
		if group.Name == defaultGroupName || used[group.ID] || referenced[group.Name] {
			continue
		}
		if dryRun {
			log.WithField("group", group.Name).Info("Would delete unused security group")
			deleted = append(deleted, group.ID)
			continue
		}
		log.WithField("group", group.Name).Info("Deleting unused security group")
		if err := api.DeleteSecurityGroup(ctx, group.ID); err != nil {
			log.WithError(err).WithField("group", group.Name).Error("Error deleting security group")
			continue
		}
		deleted = append(deleted, group.ID)
	}
	return deleted, nil
}
