//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Superblock magics from linux/magic.h for mounts that cannot host the
// state database.
var linuxNetworkMagic = map[uint32]string{
	0x00006969: "nfs",
	0x0000517b: "smbfs",
	0xff534d42: "cifs",
	0xfe534d42: "smb2",
	0x01021997: "9p",
	0x5346414f: "afs",
	0x00c36400: "ceph",
}

func probeFilesystem(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs: %w", err)
	}
	magic := uint32(st.Type)
	if name, ok := linuxNetworkMagic[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
