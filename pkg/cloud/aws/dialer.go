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
	"context"
	"sort"
	"strings"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/pkg/errors"

	"github.com/snaplife/snaplife/pkg/cloud"
)

// fallbackRegion anchors DescribeRegions calls when the ambient
// credentials carry no region of their own.
const fallbackRegion = "us-east-1"

// Dialer hands out per-region EC2 clients sharing one credential chain.
type Dialer struct {
	cfg awssdk.Config

	mu      sync.Mutex
	regions []string
}

var _ cloud.Dialer = (*Dialer)(nil)

// NewDialer loads the ambient AWS credential chain (environment,
// shared config, instance profile).
func NewDialer(ctx context.Context) (*Dialer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error loading AWS configuration")
	}
	if cfg.Region == "" {
		cfg.Region = fallbackRegion
	}
	return &Dialer{cfg: cfg}, nil
}

// Regions returns all region names enabled for the account, sorted.
func (d *Dialer) Regions(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.regions != nil {
		return d.regions, nil
	}

	out, err := ec2.NewFromConfig(d.cfg).DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, errors.Wrap(err, "error listing regions")
	}
	regions := make([]string, 0, len(out.Regions))
	for _, region := range out.Regions {
		regions = append(regions, awssdk.ToString(region.RegionName))
	}
	sort.Strings(regions)
	d.regions = regions
	return regions, nil
}

// Dial returns a client bound to the named region. A partial name is
// accepted as long as it prefixes exactly one known region.
func (d *Dialer) Dial(ctx context.Context, region string) (cloud.API, error) {
	regions, err := d.Regions(ctx)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, name := range regions {
		if name == region {
			return newClient(d.cfg, name), nil
		}
		if strings.HasPrefix(name, region) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 1:
		return newClient(d.cfg, matches[0]), nil
	case 0:
		return nil, errors.Errorf("unknown region %q", region)
	default:
		return nil, errors.Errorf("ambiguous region %q matches %s", region, strings.Join(matches, ", "))
	}
}
