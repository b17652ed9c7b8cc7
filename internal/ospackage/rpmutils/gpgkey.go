package rpmutils

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/open-edge-platform/os-package-reconciler/internal/utils/general/slice"
)

// KeyInfo is how rpm names an imported key: gpg-pubkey-<Version>-<Release>.
type KeyInfo struct {
	Version string // low 32 bits of the key id
	Release string // key creation time
	UserID  string
}

// ReadKeyInfo parses an armored public key file.
func ReadKeyInfo(path string) ([]KeyInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key %s: %w", path, err)
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key %s: %w", path, err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("no public keys in %s", path)
	}

	keys := make([]KeyInfo, 0, len(entities))
	for _, e := range entities {
		info := KeyInfo{
			Version: fmt.Sprintf("%08x", uint32(e.PrimaryKey.KeyId)),
			Release: fmt.Sprintf("%08x", uint32(e.PrimaryKey.CreationTime.Unix())),
		}
		if names := slice.SortedKeys(e.Identities); len(names) > 0 {
			info.UserID = names[0]
		}
		keys = append(keys, info)
	}
	return keys, nil
}
