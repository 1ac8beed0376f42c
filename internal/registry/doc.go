// Package registry maintains the replicated service directory on top of the
// key/value store.
//
// Each service lives at services/<id> and is the source of truth; the global
// services_index and per-provider providers/<address> keys are rebuildable
// caches kept best-effort in sync. Removal is a soft delete (active=false)
// so a retired id can never be re-registered by another provider. Reconcile
// rebuilds every index from the records when the backend supports key
// enumeration.
package registry
