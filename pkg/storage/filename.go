package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// GenerateFilename builds a collision-resistant stored name: unix-nano timestamp
// plus a random hex suffix, keeping the original extension.
func GenerateFilename(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d%s", time.Now().UnixNano(), ext)
	}
	return fmt.Sprintf("%d-%s%s", time.Now().UnixNano(), hex.EncodeToString(buf), ext)
}
