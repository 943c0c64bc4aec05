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
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// rsyncExcludes lists host-identity files and transient mount points that
// must not travel to the replica: the destination instance keeps its own
// SSH host keys, machine identity, shell history and scratch space.
var rsyncExcludes = []string{
	"/root/.bash_history",
	"/home/*/.bash_history",
	"/etc/ssh/moduli",
	"/etc/ssh/ssh_host_*",
	"/etc/udev/rules.d/*persistent-net.rules",
	"/var/lib/ec2/*",
	"/mnt/*",
	"/proc/*",
	"/tmp/*",
}

// replicaKeyFile is the path, relative to the login user's home, where
// the destination's ephemeral key is staged on the source instance.
const replicaKeyFile = ".ssh/snaplife-replica.pem"

// SyncParams describes one filesystem-level transfer between mounted
// volumes on two temporary instances.
type SyncParams struct {
	SrcMount  string
	DstMount  string
	SrcDevice string
	DstDevice string
	// DstHost is the destination instance's public DNS name; the rsync
	// runs from the source as root@DstHost.
	DstHost string
	// DstKeyPEM is the destination's ephemeral private key. Its public
	// half is appended to the destination root's authorized_keys for the
	// duration of the transfer.
	DstKeyPEM []byte
}

// Sync replicates the mounted source filesystem onto the destination
// volume with rsync, preserving the filesystem label and excluding
// host-identity files. The destination root's authorized_keys is restored
// on every exit path.
func Sync(ctx context.Context, log logrus.FieldLogger, src, dst Exec, p SyncParams) error {
	signer, err := ssh.ParsePrivateKey(p.DstKeyPEM)
	if err != nil {
		return errors.Wrap(err, "parsing destination key")
	}
	pubKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))

	if _, err := dst.RunPrivileged(ctx, "cp /root/.ssh/authorized_keys /root/.ssh/authorized_keys.bak"); err != nil {
		return err
	}
	defer func() {
		if _, err := dst.RunPrivileged(ctx, "mv /root/.ssh/authorized_keys.bak /root/.ssh/authorized_keys"); err != nil {
			log.WithError(err).Error("Error restoring authorized_keys on destination")
		}
	}()
	if _, err := dst.RunPrivileged(ctx, fmt.Sprintf("echo '%s' >> /root/.ssh/authorized_keys", pubKey)); err != nil {
		return err
	}

	if err := stageKey(ctx, src, p.DstKeyPEM); err != nil {
		return err
	}

	var excludes []string
	for _, e := range rsyncExcludes {
		excludes = append(excludes, "--exclude "+e)
	}
	rsync := fmt.Sprintf(
		`rsync -e "ssh -i %s -o StrictHostKeyChecking=no" -aHAXz --delete %s %s/ root@%s:%s`,
		replicaKeyFile, strings.Join(excludes, " "), p.SrcMount, p.DstHost, p.DstMount)
	if _, err := src.RunPrivileged(ctx, rsync); err != nil {
		return errors.Wrap(err, "rsync transfer")
	}

	// Carry the filesystem label over so fstab entries referencing it
	// keep working on the replica.
	label, err := src.RunPrivileged(ctx, "e2label "+p.SrcDevice)
	if err != nil {
		return err
	}
	if label = strings.TrimSpace(label); label != "" {
		if _, err := dst.RunPrivileged(ctx, fmt.Sprintf("e2label %s %s", p.DstDevice, label)); err != nil {
			return err
		}
	}
	return nil
}

// stageKey writes the destination's private key into the source login
// user's .ssh directory so rsync can authenticate as root@destination.
func stageKey(ctx context.Context, src Exec, keyPEM []byte) error {
	tmp, err := os.CreateTemp("", "snaplife-replica-*.pem")
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(keyPEM); err != nil {
		tmp.Close()
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}

	if err := src.CopyFile(ctx, tmp.Name(), replicaKeyFile); err != nil {
		return err
	}
	_, err = src.RunPrivileged(ctx, "chmod 600 "+replicaKeyFile)
	return err
}

// RawPipe streams the raw source block device onto the destination device
// through a compressed TCP pipe. Used when the volume carries an
// encrypted filesystem that cannot be mounted on the conduit instances.
func RawPipe(ctx context.Context, log logrus.FieldLogger, src, dst Exec, srcDevice, dstDevice, dstIP string, port int) error {
	// The receiver is detached: nc blocks until the sender connects.
	receive := fmt.Sprintf(`screen -d -m sh -c "nc -l %d | gzip -dfc | dd of=%s bs=16M"`, port, dstDevice)
	if _, err := dst.RunPrivileged(ctx, receive); err != nil {
		return errors.Wrap(err, "starting raw receiver")
	}

	send := fmt.Sprintf("dd if=%s bs=16M | gzip -cf --fast | nc -v %s %d", srcDevice, dstIP, port)
	if _, err := src.RunPrivileged(ctx, send); err != nil {
		return errors.Wrap(err, "raw block transfer")
	}
	log.WithFields(logrus.Fields{"srcDevice": srcDevice, "dstDevice": dstDevice}).Info("Raw block transfer complete")
	return nil
}

// FormatAndMount makes a fresh ext4 filesystem on device and mounts it.
func FormatAndMount(ctx context.Context, e Exec, device, mountPoint string) error {
	if _, err := e.RunPrivileged(ctx, "mkfs.ext4 -F "+device); err != nil {
		return errors.Wrapf(err, "formatting %s", device)
	}
	return Mount(ctx, e, device, mountPoint)
}

// Mount mounts device at mountPoint, creating the mount point if needed.
func Mount(ctx context.Context, e Exec, device, mountPoint string) error {
	if _, err := e.RunPrivileged(ctx, fmt.Sprintf("mkdir -p %s && mount %s %s", mountPoint, device, mountPoint)); err != nil {
		return errors.Wrapf(err, "mounting %s at %s", device, mountPoint)
	}
	return nil
}

// Unmount unmounts whatever is mounted at mountPoint.
func Unmount(ctx context.Context, e Exec, mountPoint string) error {
	_, err := e.RunPrivileged(ctx, "umount "+mountPoint)
	return errors.Wrapf(err, "unmounting %s", mountPoint)
}
