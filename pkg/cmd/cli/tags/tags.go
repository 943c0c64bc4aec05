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

package tags

import (
	"github.com/spf13/cobra"

	"github.com/snaplife/snaplife/pkg/backup"
	"github.com/snaplife/snaplife/pkg/cmd"
)

func NewCommand(f cmd.Factory) *cobra.Command {
	c := &cobra.Command{
		Use:   "tags",
		Short: "Propagate instance tags to attached volumes",
		Long:  "Propagate instance tags to attached volumes",
	}

	c.AddCommand(NewCloneCommand(f))

	return c
}

// NewCloneCommand copies every tagged instance's tags onto its volumes so
// snapshots inherit them.
func NewCloneCommand(f cmd.Factory) *cobra.Command {
	c := &cobra.Command{
		Use:   "clone",
		Short: "Copy tagged instances' tags onto their attached volumes",
		Run: func(c *cobra.Command, args []string) {
			cfg, err := f.Config()
			cmd.CheckError(err)
			log := f.Logger()

			ctx := c.Context()
			dialer, err := f.Dialer(ctx)
			cmd.CheckError(err)

			cmd.CheckError(backup.NewBackupper(log, dialer, cfg, nil).CloneInstanceTags(ctx))
		},
	}

	return c
}
