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

// Package config loads the snaplife configuration file. The resulting
// Config value is passed explicitly into each component's constructor;
// there is no process-wide configuration state.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/snaplife/snaplife/pkg/retention"
)

// SSH configures remote command execution on temporary instances.
type SSH struct {
	// User is the login user on temporary instances; commands run
	// through sudo.
	User string `mapstructure:"user"`
	// Attempts and Pause govern retries while an instance finishes
	// booting and sshd comes up.
	Attempts int           `mapstructure:"attempts"`
	Pause    time.Duration `mapstructure:"pause"`
}

// Replication configures the cross-region transfer path.
type Replication struct {
	// Port is the TCP port used by the raw block pipe for encrypted
	// volumes. It must be open between the two temporary instances.
	Port int `mapstructure:"port"`
	// InstanceType and ImageNameFilter select the ephemeral transfer
	// conduits.
	InstanceType    string `mapstructure:"instance_type"`
	ImageNameFilter string `mapstructure:"image_name_filter"`
	// MountRoot is where transferred volumes are mounted on the
	// temporary instances.
	MountRoot string `mapstructure:"mount_root"`
}

// ReplicaPair names a source/destination region pair for scheduled
// replication runs.
type ReplicaPair struct {
	Source      string `mapstructure:"source"`
	Destination string `mapstructure:"destination"`
}

// Schedule holds cron expressions for the server daemon.
type Schedule struct {
	Backup    string        `mapstructure:"backup"`
	Trim      string        `mapstructure:"trim"`
	Replicate string        `mapstructure:"replicate"`
	Pairs     []ReplicaPair `mapstructure:"pairs"`
}

type Config struct {
	// TagName/TagValue select the instances and snapshots this system
	// owns. Temporary resources are earmarked with TagName=temporary.
	TagName  string `mapstructure:"tag_name"`
	TagValue string `mapstructure:"tag_value"`

	// SnapshotTimeout bounds one synchronous snapshot-completion wait;
	// on expiry the malformed snapshot is deleted and re-initiated.
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`

	// WaitTimeout and MaxWaitInterval govern all other resource-state
	// polling.
	WaitTimeout     time.Duration `mapstructure:"wait_timeout"`
	MaxWaitInterval time.Duration `mapstructure:"max_wait_interval"`

	MetricsAddress string `mapstructure:"metrics_address"`

	Retention   retention.Policy `mapstructure:"retention"`
	SSH         SSH              `mapstructure:"ssh"`
	Replication Replication      `mapstructure:"replication"`
	Schedule    Schedule         `mapstructure:"schedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tag_name", "snaplife")
	v.SetDefault("tag_value", "backup")
	v.SetDefault("snapshot_timeout", 60*time.Minute)
	v.SetDefault("wait_timeout", 5*time.Minute)
	v.SetDefault("max_wait_interval", 30*time.Second)
	v.SetDefault("metrics_address", ":8085")
	v.SetDefault("retention.hourly", 24)
	v.SetDefault("retention.daily", 7)
	v.SetDefault("retention.weekly", 4)
	v.SetDefault("retention.monthly", 12)
	v.SetDefault("retention.quarterly", 4)
	v.SetDefault("retention.yearly", 2)
	v.SetDefault("ssh.user", "ubuntu")
	v.SetDefault("ssh.attempts", 30)
	v.SetDefault("ssh.pause", 10*time.Second)
	v.SetDefault("replication.port", 60000)
	v.SetDefault("replication.instance_type", "t3.micro")
	v.SetDefault("replication.image_name_filter", "ubuntu/images/hvm-ssd/ubuntu-*-amd64-server-*")
	v.SetDefault("replication.mount_root", "/mnt/snaplife")
	v.SetDefault("schedule.backup", "@hourly")
	v.SetDefault("schedule.trim", "@daily")
	v.SetDefault("schedule.replicate", "@daily")
}

// Load reads the config file at path (optional; defaults apply when it's
// empty or missing) with environment overrides under the SNAPLIFE prefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("snaplife")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	return cfg, nil
}
