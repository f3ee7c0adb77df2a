package findings

import (
	"crypto/md5"
	"encoding/hex"
)

// FindingID derives the deterministic finding identity: the lower-case hex
// MD5 of account, region, resource name and operation concatenated without
// separators. The hash is a stable identifier, not a security control.
func FindingID(accountID, region, name, operation string) string {
	sum := md5.Sum([]byte(accountID + region + name + operation))
	return hex.EncodeToString(sum[:])
}
