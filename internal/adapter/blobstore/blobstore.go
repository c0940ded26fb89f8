// Package blobstore provides the enhanced-image storage backends: a local
// directory served by the API, an HTTP object-store gateway, and a hybrid
// of the two (cloud authoritative, local mirror).
package blobstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Key builds the canonical blob key for a job image:
// enhanced-images/{job_id}_{type}_{random}.{ext}.
func Key(jobID, imageType, ext string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("enhanced-images/%s_%s_%s.%s", jobID, imageType, random, ext)
}
