package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RecordStorage implements the RecordStorage interface for Badger.
// Records are keyed by tenant+dedup_key so the (tenant, dedup_key) uniqueness
// constraint falls out of the key scheme rather than a separate index.
type RecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

func (s *RecordStorage) UpsertRecord(ctx context.Context, record *models.Record) (bool, error) {
	if record.DedupKey == "" {
		return false, fmt.Errorf("record dedup key is required")
	}
	if record.TenantID == "" {
		return false, fmt.Errorf("record tenant ID is required")
	}

	key := record.StorageKey()

	var existing models.Record
	err := s.db.Store().Get(key, &existing)
	switch err {
	case nil:
		// Merge keeps the most recently observed non-null value per field.
		existing.Merge(record)
		if err := s.db.Store().Update(key, &existing); err != nil {
			return false, fmt.Errorf("failed to merge record: %w", err)
		}
		return false, nil
	case badgerhold.ErrNotFound:
		if err := s.db.Store().Insert(key, record); err != nil {
			return false, fmt.Errorf("failed to insert record: %w", err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("failed to read record for upsert: %w", err)
	}
}

func (s *RecordStorage) GetRecord(ctx context.Context, tenantID, dedupKey string) (*models.Record, error) {
	var record models.Record
	key := tenantID + "/" + dedupKey
	if err := s.db.Store().Get(key, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &record, nil
}

func (s *RecordStorage) ListRecords(ctx context.Context, opts *interfaces.ListOptions) ([]*models.Record, error) {
	query := badgerhold.Where("DedupKey").Ne("")

	if opts != nil {
		if opts.TenantID != "" {
			query = query.And("TenantID").Eq(opts.TenantID)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}
	query = query.SortBy("ExtractedAt").Reverse()

	var records []models.Record
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	result := make([]*models.Record, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *RecordStorage) CountRecords(ctx context.Context, tenantID string) (int, error) {
	count, err := s.db.Store().Count(&models.Record{}, badgerhold.Where("TenantID").Eq(tenantID))
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(count), nil
}
