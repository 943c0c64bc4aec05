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

// Package transfer moves volume contents between temporary instances:
// a filesystem-aware rsync for plain volumes and a raw block pipe for
// encrypted ones. Remote execution is abstracted behind Exec so the
// replication orchestrator can be tested without SSH.
package transfer

import "context"

// Exec runs commands on one remote instance.
type Exec interface {
	// RunPrivileged executes a command as root and returns its combined
	// output.
	RunPrivileged(ctx context.Context, command string) (string, error)

	// CopyFile uploads a local file to the login user's account.
	CopyFile(ctx context.Context, localPath, remotePath string) error

	Close() error
}

// Dialer opens Exec sessions against instances using ephemeral key
// material.
type Dialer interface {
	Dial(ctx context.Context, host, user string, privateKeyPEM []byte) (Exec, error)
}
