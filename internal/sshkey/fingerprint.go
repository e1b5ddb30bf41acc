package sshkey

import (
	"golang.org/x/crypto/ssh"
)

// fingerprint derives the SHA256 public-key fingerprint from private key
// material. Returns empty on keys the ssh package cannot parse (for example
// passphrase-protected ones); audit entries then carry the stored project
// fingerprint instead.
func fingerprint(privateKey []byte) string {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(signer.PublicKey())
}
