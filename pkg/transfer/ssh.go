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

package transfer

import (
	"context"
	"strings"
	"time"

	"github.com/melbahja/goph"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/snaplife/snaplife/pkg/config"
)

const sshConnectTimeout = 20 * time.Second

// SSHDialer opens goph sessions against temporary instances. Temporary
// hosts have no recorded host keys, so verification is skipped; the
// credential is ephemeral and scoped to one replication attempt.
type SSHDialer struct {
	log      logrus.FieldLogger
	attempts int
	pause    time.Duration
}

func NewSSHDialer(log logrus.FieldLogger, cfg config.SSH) *SSHDialer {
	return &SSHDialer{
		log:      log,
		attempts: cfg.Attempts,
		pause:    cfg.Pause,
	}
}

// Dial connects to host as user, retrying while the instance finishes
// booting and sshd comes up.
func (d *SSHDialer) Dial(ctx context.Context, host, user string, privateKeyPEM []byte) (Exec, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "parsing ephemeral private key")
	}

	log := d.log.WithFields(logrus.Fields{"host": host, "user": user})

	var lastErr error
	for attempt := 0; attempt < d.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		client, err := goph.NewConn(&goph.Config{
			User:     user,
			Addr:     host,
			Port:     22,
			Auth:     goph.Auth{ssh.PublicKeys(signer)},
			Timeout:  sshConnectTimeout,
			Callback: ssh.InsecureIgnoreHostKey(),
		})
		if err == nil {
			return &sshExec{log: log, client: client, attempts: d.attempts, pause: d.pause}, nil
		}
		lastErr = err
		log.WithError(err).Debugf("SSH not ready, waiting next %s (%d attempts left)", d.pause, d.attempts-attempt-1)
		time.Sleep(d.pause)
	}
	return nil, errors.Wrapf(lastErr, "connecting to %s", host)
}

type sshExec struct {
	log      logrus.FieldLogger
	client   *goph.Client
	attempts int
	pause    time.Duration
}

// RunPrivileged executes the command through sudo, eating consecutive
// failures up to the configured attempt budget: commands issued right
// after boot can fail transiently while cloud-init still holds locks.
func (e *sshExec) RunPrivileged(ctx context.Context, command string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < e.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cmd, err := e.client.CommandContext(ctx, "sudo", "sh", "-c", shellQuote(command))
		if err != nil {
			return "", errors.WithStack(err)
		}
		out, err := cmd.CombinedOutput()
		if err == nil {
			return string(out), nil
		}
		lastErr = errors.Wrapf(err, "running %q: %s", command, out)
		e.log.WithError(lastErr).Debugf("Command failed, waiting next %s (%d attempts left)", e.pause, e.attempts-attempt-1)
		time.Sleep(e.pause)
	}
	return "", lastErr
}

func (e *sshExec) CopyFile(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrapf(e.client.Upload(localPath, remotePath), "uploading %s", localPath)
}

func (e *sshExec) Close() error {
	return e.client.Close()
}

// shellQuote single-quotes s for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
