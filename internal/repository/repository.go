// Package repository probes container image repositories for tags
// and spider labels, grounded on the original repository/remote.py and
// repository/local.py: both shell out to an external CLI rather than
// talking to a registry API directly, which this package mirrors with
// os/exec in place of Python's subprocess.
package repository

import "context"

// Repository discovers image tags and spider declarations for a
// project's configured image reference.
type Repository interface {
	// ListTags returns the tags published for repo.
	ListTags(ctx context.Context, repo string) ([]string, error)

	// ListSpiders returns the spiders declared in the org.scrapy.spiders
	// label of repo:version, or (nil, nil) if the tag carries no such
	// label.
	ListSpiders(ctx context.Context, repo, version string) ([]string, error)
}
