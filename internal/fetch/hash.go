package fetch

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ContentHash returns the hex BLAKE3-256 digest of a document's content
func ContentHash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DetectVersion returns the document's info.version, or "" when the
// content does not decode far enough to tell
func DetectVersion(content []byte) string {
	var head struct {
		Info struct {
			Version string `yaml:"version"`
		} `yaml:"info"`
	}
	if err := yaml.Unmarshal(content, &head); err != nil {
		return ""
	}
	return head.Info.Version
}
