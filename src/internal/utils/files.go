package utils

import (
	"io"

	"github.com/maksimkurb/vpnc-enforcer/src/internal/log"
)

// CloseOrWarn closes file and logs a failure instead of returning it.
func CloseOrWarn(file io.Closer) {
	if err := file.Close(); err != nil {
		log.Warnf("Failed to close file: %v", err)
	}
}
