// Package catalog holds the declarative app registry: descriptors for
// static asset bundles and process-backed preview servers, loaded from
// per-app manifests at startup and extended at runtime by workspace
// previews.
package catalog
