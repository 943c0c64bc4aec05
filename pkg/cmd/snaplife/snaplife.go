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

package snaplife

import (
	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/cmd"
	"github.com/snaplife/snaplife/pkg/cmd/cli/backup"
	"github.com/snaplife/snaplife/pkg/cmd/cli/replicate"
	"github.com/snaplife/snaplife/pkg/cmd/cli/secgroup"
	"github.com/snaplife/snaplife/pkg/cmd/cli/tags"
	"github.com/snaplife/snaplife/pkg/cmd/cli/trim"
	"github.com/snaplife/snaplife/pkg/cmd/cli/version"
	"github.com/snaplife/snaplife/pkg/cmd/server"
)

func NewCommand(name string) *cobra.Command {
	c := &cobra.Command{
		Use:   name,
		Short: "Back up, retire, and replicate block-volume snapshots.",
		Long: `Snaplife keeps point-in-time snapshots of tagged instances' volumes on a
schedule, retires old snapshots down to a configurable retention ladder,
and duplicates the freshest snapshot of every volume into another region
for disaster recovery.`,
	}

	f := cmd.NewFactory(name)
	f.BindFlags(c.PersistentFlags())

	c.AddCommand(
		backup.NewCommand(f),
		trim.NewCommand(f),
		replicate.NewCommand(f),
		tags.NewCommand(f),
		secgroup.NewCommand(f),
		server.NewCommand(f),
		version.NewCommand(),
	)

	return c
}
