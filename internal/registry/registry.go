// ABOUTME: Replicated service registry: CRUD over ServiceRecords with ownership checks.
// ABOUTME: Records are the source of truth; the global and provider indices are a derived cache.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonklabs/toolmesh/internal/store"
)

// Field length limits enforced at the registry boundary.
const (
	MaxServiceIDLen   = 64
	MaxMethodLen      = 128
	MaxDescriptionLen = 500
	MaxPriceLen       = 32
)

// DefaultCategory is applied when a registration omits the category.
const DefaultCategory = "general"

// Store key layout.
const (
	recordPrefix   = "services/"
	indexKey       = "services_index"
	providerPrefix = "providers/"
)

// Registry errors
var (
	ErrAlreadyExists   = errors.New("service already exists")
	ErrNotFound        = errors.New("service not found")
	ErrUnauthorized    = errors.New("caller does not own this service")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoFields        = errors.New("update must change at least one field")
	ErrNotScannable    = errors.New("store does not support key scans")
)

// ServiceRecord is the persisted description of an advertised service.
// PriceInTNK is an opaque decimal string; the registry never does arithmetic
// on it. Removal flips Active to false and keeps the record for audit.
type ServiceRecord struct {
	ServiceID       string `json:"serviceId"`
	Method          string `json:"method"`
	Description     string `json:"description"`
	PriceInTNK      string `json:"priceInTNK"`
	Category        string `json:"category"`
	ProviderAddress string `json:"providerAddress"`
	Timestamp       int64  `json:"timestamp"`
	Active          bool   `json:"active"`
}

// RegisterParams carries the fields for a new service registration.
type RegisterParams struct {
	ServiceID   string
	Method      string
	Description string
	PriceInTNK  string
	Category    string
}

// UpdateParams carries the optional fields of an update; nil fields keep
// their prior values.
type UpdateParams struct {
	Description *string
	PriceInTNK  *string
	Category    *string
}

// Registry persists service records through the key-value store boundary.
// It adds no locking of its own: per-id mutation order is whatever order the
// store serializes writes, so two concurrent updates to one id race and the
// last put wins.
type Registry struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Registry over the given store.
func New(s store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  s,
		logger: logger.With("component", "registry"),
	}
}

// Register creates a new active service record owned by caller. It fails
// with ErrAlreadyExists if any record, active or inactive, already holds the
// id: removed ids are never resurrected.
func (r *Registry) Register(ctx context.Context, caller string, params RegisterParams) (*ServiceRecord, error) {
	if err := validateRegister(caller, params); err != nil {
		return nil, err
	}

	if _, err := r.loadRecord(ctx, params.ServiceID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, params.ServiceID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	category := params.Category
	if category == "" {
		category = DefaultCategory
	}

	record := &ServiceRecord{
		ServiceID:       params.ServiceID,
		Method:          params.Method,
		Description:     params.Description,
		PriceInTNK:      params.PriceInTNK,
		Category:        category,
		ProviderAddress: caller,
		Timestamp:       time.Now().UnixMilli(),
		Active:          true,
	}

	// The record write is the source of truth; the index writes below are a
	// derived cache that Reconcile can rebuild if either put is lost.
	if err := r.saveRecord(ctx, record); err != nil {
		return nil, err
	}
	if err := r.indexAdd(ctx, indexKey, record.ServiceID); err != nil {
		return nil, err
	}
	if err := r.indexAdd(ctx, providerPrefix+caller, record.ServiceID); err != nil {
		return nil, err
	}

	r.logger.Info("service registered",
		"service_id", record.ServiceID,
		"method", record.Method,
		"provider", caller,
	)
	return record, nil
}

// Update merges the provided fields into an existing record owned by caller.
// At least one field must be set; unset fields keep their prior values.
func (r *Registry) Update(ctx context.Context, caller, serviceID string, params UpdateParams) (*ServiceRecord, error) {
	if params.Description == nil && params.PriceInTNK == nil && params.Category == nil {
		return nil, ErrNoFields
	}
	if params.Description != nil && len(*params.Description) > MaxDescriptionLen {
		return nil, fmt.Errorf("%w: description exceeds %d chars", ErrInvalidArgument, MaxDescriptionLen)
	}
	if params.PriceInTNK != nil && (*params.PriceInTNK == "" || len(*params.PriceInTNK) > MaxPriceLen) {
		return nil, fmt.Errorf("%w: priceInTNK must be 1..%d chars", ErrInvalidArgument, MaxPriceLen)
	}

	record, err := r.loadRecord(ctx, serviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, serviceID)
		}
		return nil, err
	}
	// Inactive is terminal; a removed service reads as gone to writers.
	if !record.Active {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, serviceID)
	}
	if record.ProviderAddress != caller {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, serviceID)
	}

	if params.Description != nil {
		record.Description = *params.Description
	}
	if params.PriceInTNK != nil {
		record.PriceInTNK = *params.PriceInTNK
	}
	if params.Category != nil {
		record.Category = *params.Category
	}
	record.Timestamp = time.Now().UnixMilli()

	if err := r.saveRecord(ctx, record); err != nil {
		return nil, err
	}

	r.logger.Info("service updated", "service_id", serviceID, "provider", caller)
	return record, nil
}

// Remove soft-deletes a record owned by caller: Active flips to false, the
// record stays for audit, and the id leaves both indices.
func (r *Registry) Remove(ctx context.Context, caller, serviceID string) error {
	record, err := r.loadRecord(ctx, serviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, serviceID)
		}
		return err
	}
	if record.ProviderAddress != caller {
		return fmt.Errorf("%w: %s", ErrUnauthorized, serviceID)
	}

	record.Active = false
	record.Timestamp = time.Now().UnixMilli()
	if err := r.saveRecord(ctx, record); err != nil {
		return err
	}
	if err := r.indexRemove(ctx, indexKey, serviceID); err != nil {
		return err
	}
	if err := r.indexRemove(ctx, providerPrefix+caller, serviceID); err != nil {
		return err
	}

	r.logger.Info("service removed", "service_id", serviceID, "provider", caller)
	return nil
}

// List returns all active services in global index order. Index entries that
// point at missing or inactive records are skipped, not errors: the index is
// a cache that may lag the records.
func (r *Registry) List(ctx context.Context) ([]*ServiceRecord, error) {
	return r.listFromIndex(ctx, indexKey)
}

// Get returns the record for serviceID whether or not it is active, so a
// removed service remains auditable. Callers that only want live services
// should check Active.
func (r *Registry) Get(ctx context.Context, serviceID string) (*ServiceRecord, error) {
	record, err := r.loadRecord(ctx, serviceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, serviceID)
	}
	return record, err
}

// ProviderServices returns the active services owned by providerAddress.
func (r *Registry) ProviderServices(ctx context.Context, providerAddress string) ([]*ServiceRecord, error) {
	return r.listFromIndex(ctx, providerPrefix+providerAddress)
}

func (r *Registry) listFromIndex(ctx context.Context, key string) ([]*ServiceRecord, error) {
	ids, err := r.readIndex(ctx, key)
	if err != nil {
		return nil, err
	}

	records := make([]*ServiceRecord, 0, len(ids))
	for _, id := range ids {
		record, err := r.loadRecord(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("index entry without a record", "service_id", id, "index", key)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !record.Active {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *Registry) loadRecord(ctx context.Context, serviceID string) (*ServiceRecord, error) {
	raw, err := r.store.Get(ctx, recordPrefix+serviceID)
	if err != nil {
		return nil, err
	}

	var record ServiceRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decoding record %q: %w", serviceID, err)
	}
	return &record, nil
}

func (r *Registry) saveRecord(ctx context.Context, record *ServiceRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record %q: %w", record.ServiceID, err)
	}
	return r.store.Put(ctx, recordPrefix+record.ServiceID, raw)
}

func (r *Registry) readIndex(ctx context.Context, key string) ([]string, error) {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decoding index %q: %w", key, err)
	}
	return ids, nil
}

func (r *Registry) writeIndex(ctx context.Context, key string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding index %q: %w", key, err)
	}
	return r.store.Put(ctx, key, raw)
}

func (r *Registry) indexAdd(ctx context.Context, key, serviceID string) error {
	ids, err := r.readIndex(ctx, key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == serviceID {
			return nil
		}
	}
	return r.writeIndex(ctx, key, append(ids, serviceID))
}

func (r *Registry) indexRemove(ctx context.Context, key, serviceID string) error {
	ids, err := r.readIndex(ctx, key)
	if err != nil {
		return err
	}

	kept := ids[:0]
	for _, id := range ids {
		if id != serviceID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(ids) {
		return nil
	}
	return r.writeIndex(ctx, key, kept)
}

func validateRegister(caller string, params RegisterParams) error {
	if caller == "" {
		return fmt.Errorf("%w: caller address is required", ErrInvalidArgument)
	}
	if params.ServiceID == "" || len(params.ServiceID) > MaxServiceIDLen {
		return fmt.Errorf("%w: serviceId must be 1..%d chars", ErrInvalidArgument, MaxServiceIDLen)
	}
	if params.Method == "" || len(params.Method) > MaxMethodLen {
		return fmt.Errorf("%w: method must be 1..%d chars", ErrInvalidArgument, MaxMethodLen)
	}
	if len(params.Description) > MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d chars", ErrInvalidArgument, MaxDescriptionLen)
	}
	if params.PriceInTNK == "" || len(params.PriceInTNK) > MaxPriceLen {
		return fmt.Errorf("%w: priceInTNK must be 1..%d chars", ErrInvalidArgument, MaxPriceLen)
	}
	return nil
}
