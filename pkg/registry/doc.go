// Package registry reads image labels from a Docker Registry v2 API and
// follows base-image labels to build an image's ancestry.
//
// Only pull-scoped anonymous tokens are requested. Manifest lists and OCI
// indexes are resolved to the entry matching Config.Platform, and config
// blobs are checked against their digest before they are decoded.
package registry
