package asyncnode

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// PublicKey registered with the cloud provider for remote shell access.
type PublicKey struct {
	// Authorized is the key in authorized_keys form, including the
	// comment when one was present.
	Authorized string

	// Fingerprint in the SHA256:... form printed by ssh-keygen.
	Fingerprint string
}

// ReadPublicKey from an OpenSSH public key file. The file must hold exactly
// one key.
func ReadPublicKey(pth string) (PublicKey, error) {
	var zero PublicKey
	byt, err := os.ReadFile(pth)
	if err != nil {
		return zero, fmt.Errorf("read file: %w", err)
	}
	key, comment, _, rest, err := ssh.ParseAuthorizedKey(byt)
	if err != nil {
		return zero, fmt.Errorf("parse authorized key: %s: %w", pth, err)
	}
	if strings.TrimSpace(string(rest)) != "" {
		return zero, fmt.Errorf("more than one key in %s", pth)
	}
	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
	if comment != "" {
		authorized += " " + comment
	}
	return PublicKey{
		Authorized:  authorized,
		Fingerprint: ssh.FingerprintSHA256(key),
	}, nil
}
