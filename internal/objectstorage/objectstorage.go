// Package objectstorage is the Object Storage Adapter: upload,
// existence-check by prefix, and ${ENV} placeholder substitution for
// provider configuration. Concrete providers live in the gcs and s3
// subpackages; this package holds the shared interface, object-key
// construction, and configuration placeholder substitution, grounded
// on the original object_storage/libcloud_driver.py.
package objectstorage

import "context"

// Storage is the capability surface every provider implements.
type Storage interface {
	// Upload uploads the file at localPath under objectKey.
	Upload(ctx context.Context, localPath, objectKey string) error

	// ExistsWithPrefix reports whether any object with the given key
	// prefix exists, used to tolerate compressed-vs-uncompressed format
	// changes between runs.
	ExistsWithPrefix(ctx context.Context, prefix string) (bool, error)

	// Container returns the configured bucket/container name.
	Container() string
}

// ObjectKey builds "logs/{project}/{spider}/{job_id}.log[.{ext}]". An
// empty ext omits the trailing suffix.
func ObjectKey(project, spider, jobID, ext string) string {
	key := "logs/" + project + "/" + spider + "/" + jobID + ".log"
	if ext != "" {
		key += "." + ext
	}
	return key
}

// ObjectKeyPrefix builds the "logs/{project}/{spider}/{job_id}" prefix
// used for the existence probe, matching any compression extension.
func ObjectKeyPrefix(project, spider, jobID string) string {
	return "logs/" + project + "/" + spider + "/" + jobID
}
