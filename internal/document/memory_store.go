package document

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-approvals/internal/errors"
)

// MemoryDocumentStore is the in-memory counterpart of
// PostgresDocumentStore, used in tests and local development alongside
// repository.MemoryStore.
type MemoryDocumentStore struct {
	mu           sync.Mutex
	invoices     map[string]*Invoice
	requisitions map[string]*Requisition
	catalog      map[string]*CatalogRequisition
	services     map[string]*ServiceRequisition
}

// NewMemoryDocumentStore creates an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		invoices:     make(map[string]*Invoice),
		requisitions: make(map[string]*Requisition),
		catalog:      make(map[string]*CatalogRequisition),
		services:     make(map[string]*ServiceRequisition),
	}
}

// CreateInvoice inserts a new invoice in draft status.
func (s *MemoryDocumentStore) CreateInvoice(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if inv.Status == "" {
		inv.Status = "draft"
	}
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

// GetInvoice returns an invoice by ID.
func (s *MemoryDocumentStore) GetInvoice(_ context.Context, id string) (*Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, errors.NotFound("invoice", id)
	}
	cp := *inv
	return &cp, nil
}

// SaveInvoice persists the mutable invoice fields.
func (s *MemoryDocumentStore) SaveInvoice(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID]; !ok {
		return errors.NotFound("invoice", inv.ID)
	}
	inv.UpdatedAt = time.Now().UTC()
	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

// CreateRequisition inserts a requisition, optionally with one child
// record.
func (s *MemoryDocumentStore) CreateRequisition(_ context.Context, req *Requisition, catalog *CatalogRequisition, svc *ServiceRequisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = "draft"
	}
	cp := *req
	s.requisitions[req.ID] = &cp

	if catalog != nil {
		catalog.RequisitionID = req.ID
		ccp := *catalog
		s.catalog[req.ID] = &ccp
	}
	if svc != nil {
		svc.RequisitionID = req.ID
		scp := *svc
		s.services[req.ID] = &scp
	}
	return nil
}

// GetRequisition returns a requisition by ID.
func (s *MemoryDocumentStore) GetRequisition(_ context.Context, id string) (*Requisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requisitions[id]
	if !ok {
		return nil, errors.NotFound("requisition", id)
	}
	cp := *req
	return &cp, nil
}

// SaveRequisition persists the mutable requisition fields.
func (s *MemoryDocumentStore) SaveRequisition(_ context.Context, req *Requisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requisitions[req.ID]; !ok {
		return errors.NotFound("requisition", req.ID)
	}
	req.UpdatedAt = time.Now().UTC()
	cp := *req
	s.requisitions[req.ID] = &cp
	return nil
}

// GetCatalogChild returns the catalog child or (nil, nil).
func (s *MemoryDocumentStore) GetCatalogChild(_ context.Context, requisitionID string) (*CatalogRequisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.catalog[requisitionID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// SaveCatalogChild persists the mutable catalog child fields.
func (s *MemoryDocumentStore) SaveCatalogChild(_ context.Context, child *CatalogRequisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalog[child.RequisitionID]; !ok {
		return errors.NotFound("catalog_requisition", child.RequisitionID)
	}
	cp := *child
	cp.parent = nil
	s.catalog[child.RequisitionID] = &cp
	return nil
}

// GetServiceChild returns the service child or (nil, nil).
func (s *MemoryDocumentStore) GetServiceChild(_ context.Context, requisitionID string) (*ServiceRequisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.services[requisitionID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}
