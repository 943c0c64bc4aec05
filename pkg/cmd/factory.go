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

package cmd

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/snaplife/snaplife/pkg/cloud"
	"github.com/snaplife/snaplife/pkg/cloud/aws"
	"github.com/snaplife/snaplife/pkg/cmd/util/flag"
	"github.com/snaplife/snaplife/pkg/config"
	"github.com/snaplife/snaplife/pkg/transfer"
	"github.com/snaplife/snaplife/pkg/util/logging"
)

// Factory builds the shared dependencies of CLI commands from the root
// command's persistent flags.
type Factory interface {
	// BindFlags registers the factory's flags on the given flag set.
	BindFlags(flags *pflag.FlagSet)

	// Config loads the configuration file named by the --config flag.
	Config() (*config.Config, error)

	// Logger builds a logger honoring --log-level and --log-format.
	Logger() logrus.FieldLogger

	// Dialer returns the cloud provider's region dialer.
	Dialer(ctx context.Context) (cloud.Dialer, error)

	// SSHDialer returns the remote-exec dialer for temporary instances.
	SSHDialer(log logrus.FieldLogger, cfg *config.Config) transfer.Dialer
}

type factory struct {
	name       string
	configPath string
	logLevel   *logging.LevelFlag
	logFormat  *flag.Enum
}

func NewFactory(name string) Factory {
	return &factory{
		name:     name,
		logLevel: logging.LogLevelFlag(logrus.InfoLevel),
		logFormat: flag.NewEnum(
			string(logging.FormatText),
			string(logging.FormatText),
			string(logging.FormatJSON),
		),
	}
}

func (f *factory) BindFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.configPath, "config", "", "Path to the configuration file")
	flags.Var(f.logLevel, "log-level", "The level at which to log. Valid values are "+strings.Join(f.logLevel.AllowedValues(), ", ")+".")
	flags.Var(f.logFormat, "log-format", "The format for log output. Valid values are "+strings.Join(f.logFormat.AllowedValues(), ", ")+".")
}

func (f *factory) Config() (*config.Config, error) {
	return config.Load(f.configPath)
}

func (f *factory) Logger() logrus.FieldLogger {
	return logging.DefaultLogger(f.logLevel.Parse(), logging.Format(f.logFormat.String()))
}

func (f *factory) Dialer(ctx context.Context) (cloud.Dialer, error) {
	return aws.NewDialer(ctx)
}

func (f *factory) SSHDialer(log logrus.FieldLogger, cfg *config.Config) transfer.Dialer {
	return transfer.NewSSHDialer(log, cfg.SSH)
}
