// ABOUTME: Index reconciliation: rebuilds the global and provider indices from records.
// ABOUTME: Recovery tool for stores without multi-key transactions where an index put was lost.

package registry

import (
	"context"
	"strings"

	"github.com/tonklabs/toolmesh/internal/store"
)

// Reconcile scans every service record and rewrites the global index and all
// provider indices to match. Active records appear in both indices in
// record-key order; inactive records appear in neither. Requires a store
// that supports key scans.
func (r *Registry) Reconcile(ctx context.Context) error {
	scanner, ok := r.store.(store.Scanner)
	if !ok {
		return ErrNotScannable
	}

	keys, err := scanner.Keys(ctx, recordPrefix)
	if err != nil {
		return err
	}

	var global []string
	perProvider := make(map[string][]string)

	for _, key := range keys {
		id := strings.TrimPrefix(key, recordPrefix)
		record, err := r.loadRecord(ctx, id)
		if err != nil {
			return err
		}
		if !record.Active {
			continue
		}
		global = append(global, record.ServiceID)
		perProvider[record.ProviderAddress] = append(perProvider[record.ProviderAddress], record.ServiceID)
	}

	if err := r.writeIndex(ctx, indexKey, global); err != nil {
		return err
	}

	// Rewrite every provider index that exists or should exist. Stale
	// provider indices whose services were all removed get emptied too.
	providerKeys, err := scanner.Keys(ctx, providerPrefix)
	if err != nil {
		return err
	}
	for _, key := range providerKeys {
		addr := strings.TrimPrefix(key, providerPrefix)
		if _, has := perProvider[addr]; !has {
			perProvider[addr] = nil
		}
	}
	for addr, ids := range perProvider {
		if err := r.writeIndex(ctx, providerPrefix+addr, ids); err != nil {
			return err
		}
	}

	r.logger.Info("indices reconciled",
		"active_services", len(global),
		"providers", len(perProvider),
	)
	return nil
}
