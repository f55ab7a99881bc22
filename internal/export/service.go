package export

import (
	"context"
	"fmt"

	"harborview/api/internal/store"
)

// DataStore defines the data access the exporter needs.
type DataStore interface {
	GetInvoice(ctx context.Context, invoiceID string) (store.Invoice, error)
	ListInvoiceLines(ctx context.Context, invoiceID string) ([]store.InvoiceLine, error)
	GetCustomer(ctx context.Context, customerID string) (store.Customer, error)
	GetBoat(ctx context.Context, boatID string) (store.Boat, error)
}

// Service renders invoice PDFs.
type Service struct {
	store DataStore
}

// NewService creates a new export service.
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// ExportInvoicePDF renders one invoice as a PDF document.
func (s *Service) ExportInvoicePDF(ctx context.Context, invoiceID string) (*Result, error) {
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	customer, err := s.store.GetCustomer(ctx, invoice.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}

	boatName := ""
	if invoice.BoatID != "" {
		if boat, err := s.store.GetBoat(ctx, invoice.BoatID); err == nil {
			boatName = boat.Name
		}
	}

	lines, err := s.store.ListInvoiceLines(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}

	data := TemplateData{
		Number:       invoice.Number,
		Status:       invoice.Status,
		CustomerName: customer.Name,
		BoatName:     boatName,
		IssuedAt:     invoice.IssuedAt,
		DueAt:        invoice.DueAt,
		TotalCents:   invoice.AmountCents,
	}
	for _, line := range lines {
		data.Lines = append(data.Lines, TemplateLine{
			Description: line.Description,
			Quantity:    line.Quantity,
			AmountCents: line.AmountCents,
		})
	}

	html, err := RenderInvoiceHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	return exportPDF(html, "invoice-"+invoice.Number)
}
