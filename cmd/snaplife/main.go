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

package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/snaplife/snaplife/pkg/cmd"
	"github.com/snaplife/snaplife/pkg/cmd/snaplife"
)

func main() {
	baseName := filepath.Base(os.Args[0])

	err := snaplife.NewCommand(baseName).ExecuteContext(context.Background())
	cmd.CheckError(err)
}
