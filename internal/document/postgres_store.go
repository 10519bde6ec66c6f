package document

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-approvals/internal/database"
	"github.com/pesio-ai/be-approvals/internal/errors"
)

// PostgresDocumentStore persists the reference document types. It
// implements both InvoiceStore and RequisitionStore.
type PostgresDocumentStore struct {
	db *database.DB
}

// NewPostgresDocumentStore creates a document store over the shared pool.
func NewPostgresDocumentStore(db *database.DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

// ── invoices ──────────────────────────────────────────────────────────────────

// CreateInvoice inserts a new invoice in draft status.
func (s *PostgresDocumentStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if inv.Status == "" {
		inv.Status = "draft"
	}

	query := `
		INSERT INTO invoices
		    (id, number, vendor_name, amount, currency, status,
		     stages_approved, submitted_at, decided_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.Exec(ctx, query,
		inv.ID, inv.Number, inv.VendorName, inv.Amount, inv.Currency, inv.Status,
		inv.StagesApproved, inv.SubmittedAt, inv.DecidedAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create invoice")
	}
	return nil
}

// GetInvoice returns an invoice by ID.
func (s *PostgresDocumentStore) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	query := `
		SELECT id, number, vendor_name, amount, currency, status,
		       stages_approved, submitted_at, decided_at, created_at, updated_at
		FROM invoices
		WHERE id = $1
	`

	inv := &Invoice{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&inv.ID, &inv.Number, &inv.VendorName, &inv.Amount, &inv.Currency, &inv.Status,
		&inv.StagesApproved, &inv.SubmittedAt, &inv.DecidedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("invoice", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get invoice")
	}
	return inv, nil
}

// SaveInvoice persists the mutable invoice fields.
func (s *PostgresDocumentStore) SaveInvoice(ctx context.Context, inv *Invoice) error {
	inv.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE invoices
		SET status          = $2,
		    stages_approved = $3,
		    submitted_at    = $4,
		    decided_at      = $5,
		    updated_at      = $6
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := s.db.QueryRow(ctx, query,
		inv.ID, inv.Status, inv.StagesApproved, inv.SubmittedAt, inv.DecidedAt, inv.UpdatedAt,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("invoice", inv.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save invoice")
	}
	return nil
}

// ── requisitions ──────────────────────────────────────────────────────────────

// CreateRequisition inserts a requisition, optionally with one child
// record.
func (s *PostgresDocumentStore) CreateRequisition(ctx context.Context, req *Requisition, catalog *CatalogRequisition, svc *ServiceRequisition) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = "draft"
	}

	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO requisitions
			    (id, number, requester_id, total_amount, currency, status,
			     created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := tx.Exec(ctx, query,
			req.ID, req.Number, req.RequesterID, req.TotalAmount, req.Currency,
			req.Status, req.CreatedAt, req.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create requisition")
		}

		if catalog != nil {
			catalog.RequisitionID = req.ID
			_, err = tx.Exec(ctx, `
				INSERT INTO catalog_requisitions (requisition_id, catalog_id, ordered_at)
				VALUES ($1, $2, $3)
			`, catalog.RequisitionID, catalog.CatalogID, catalog.OrderedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create catalog requisition")
			}
		}
		if svc != nil {
			svc.RequisitionID = req.ID
			_, err = tx.Exec(ctx, `
				INSERT INTO service_requisitions (requisition_id, description)
				VALUES ($1, $2)
			`, svc.RequisitionID, svc.Description)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create service requisition")
			}
		}
		return nil
	})
}

// GetRequisition returns a requisition by ID.
func (s *PostgresDocumentStore) GetRequisition(ctx context.Context, id string) (*Requisition, error) {
	query := `
		SELECT id, number, requester_id, total_amount, currency, status,
		       created_at, updated_at
		FROM requisitions
		WHERE id = $1
	`

	req := &Requisition{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.Number, &req.RequesterID, &req.TotalAmount, &req.Currency,
		&req.Status, &req.CreatedAt, &req.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("requisition", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition")
	}
	return req, nil
}

// SaveRequisition persists the mutable requisition fields.
func (s *PostgresDocumentStore) SaveRequisition(ctx context.Context, req *Requisition) error {
	req.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE requisitions
		SET status     = $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := s.db.QueryRow(ctx, query, req.ID, req.Status, req.UpdatedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("requisition", req.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save requisition")
	}
	return nil
}

// GetCatalogChild returns the catalog child or (nil, nil).
func (s *PostgresDocumentStore) GetCatalogChild(ctx context.Context, requisitionID string) (*CatalogRequisition, error) {
	query := `
		SELECT requisition_id, catalog_id, ordered_at
		FROM catalog_requisitions
		WHERE requisition_id = $1
	`

	c := &CatalogRequisition{}
	err := s.db.QueryRow(ctx, query, requisitionID).Scan(&c.RequisitionID, &c.CatalogID, &c.OrderedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get catalog requisition")
	}
	return c, nil
}

// SaveCatalogChild persists the mutable catalog child fields.
func (s *PostgresDocumentStore) SaveCatalogChild(ctx context.Context, child *CatalogRequisition) error {
	query := `
		UPDATE catalog_requisitions
		SET ordered_at = $2
		WHERE requisition_id = $1
		RETURNING requisition_id
	`

	var returnedID string
	err := s.db.QueryRow(ctx, query, child.RequisitionID, child.OrderedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("catalog_requisition", child.RequisitionID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save catalog requisition")
	}
	return nil
}

// GetServiceChild returns the service child or (nil, nil).
func (s *PostgresDocumentStore) GetServiceChild(ctx context.Context, requisitionID string) (*ServiceRequisition, error) {
	query := `
		SELECT requisition_id, description
		FROM service_requisitions
		WHERE requisition_id = $1
	`

	c := &ServiceRequisition{}
	err := s.db.QueryRow(ctx, query, requisitionID).Scan(&c.RequisitionID, &c.Description)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get service requisition")
	}
	return c, nil
}
