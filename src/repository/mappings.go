package repository

import (
	"context"

	"github.com/username/opsledger/src/models"
)

type sqliteMappingRepository struct {
	q Querier
}

func (r *sqliteMappingRepository) Create(ctx context.Context, m models.SourceMapping) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO source_mappings (id, line_item_id, invoice_id, operation_id, mapping_type, sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LineItemID, m.InvoiceID, m.OperationID, string(m.MappingType), m.Sequence, formatTimestamp(m.CreatedAt))
	return dbError("create source mapping", err)
}

func (r *sqliteMappingRepository) ExistsForLineItem(ctx context.Context, lineItemID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM source_mappings WHERE line_item_id = ?)`, lineItemID).Scan(&exists)
	if err != nil {
		return false, dbError("check source mapping", err)
	}
	return exists, nil
}

func (r *sqliteMappingRepository) MappedLineItems(ctx context.Context, lineItemIDs []string) (map[string]bool, error) {
	mapped := make(map[string]bool)
	if len(lineItemIDs) == 0 {
		return mapped, nil
	}
	args := make([]any, len(lineItemIDs))
	for i, id := range lineItemIDs {
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx, `SELECT line_item_id FROM source_mappings WHERE line_item_id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, dbError("list mapped line items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbError("scan mapped line item", err)
		}
		mapped[id] = true
	}
	return mapped, dbError("iterate mapped line items", rows.Err())
}

func (r *sqliteMappingRepository) MaxSequence(ctx context.Context, invoiceID string) (int, error) {
	var maxSeq int
	err := r.q.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM source_mappings WHERE invoice_id = ?`, invoiceID).Scan(&maxSeq)
	if err != nil {
		return 0, dbError("read mapping sequence", err)
	}
	return maxSeq, nil
}

func (r *sqliteMappingRepository) CountByInvoice(ctx context.Context, invoiceID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM source_mappings WHERE invoice_id = ?`, invoiceID).Scan(&n)
	if err != nil {
		return 0, dbError("count source mappings", err)
	}
	return n, nil
}

func (r *sqliteMappingRepository) ListByOperation(ctx context.Context, operationID string) ([]models.SourceMapping, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, line_item_id, invoice_id, operation_id, mapping_type, sequence, created_at
		FROM source_mappings WHERE operation_id = ? ORDER BY invoice_id ASC, sequence ASC`, operationID)
	if err != nil {
		return nil, dbError("list source mappings", err)
	}
	defer rows.Close()

	var mappings []models.SourceMapping
	for rows.Next() {
		var m models.SourceMapping
		var createdAt string
		if err := rows.Scan(&m.ID, &m.LineItemID, &m.InvoiceID, &m.OperationID, &m.MappingType, &m.Sequence, &createdAt); err != nil {
			return nil, dbError("scan source mapping", err)
		}
		if m.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, dbError("iterate source mappings", rows.Err())
}
