package handlers

import (
	"fmt"
	"net/http"

	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/parsers"
	"github.com/username/opsledger/src/services"
	"github.com/username/opsledger/src/utils"
)

type InvoiceHandler struct {
	invoiceService services.InvoiceService
	maxUploadSize  int64
}

func NewInvoiceHandler(invoiceService services.InvoiceService, maxUploadSize int64) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService, maxUploadSize: maxUploadSize}
}

func (h *InvoiceHandler) HandleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	var req services.CreateInvoiceRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.SendJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	bundle, err := h.invoiceService.CreateInvoice(r.Context(), userID, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("Invoice created", "userID", userID, "invoiceID", bundle.Invoice.ID)
	utils.WriteJSON(w, http.StatusCreated, bundle)
}

func (h *InvoiceHandler) HandleListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	invoices, err := h.invoiceService.ListInvoices(r.Context(), userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, invoices)
}

// HandleImportInvoice creates an invoice from an uploaded broker export. The
// multipart form carries the file under "file" plus invoice_number,
// trading_date, broker and an optional source naming the export format.
func (h *InvoiceHandler) HandleImportInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "userID", userID, "error", err, "limit", h.maxUploadSize)
		utils.SendJSONError(w, fmt.Sprintf("failed to parse form or request too large (max %d bytes)", h.maxUploadSize), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		utils.SendJSONError(w, "failed to retrieve file from request; ensure the 'file' field is used", http.StatusBadRequest)
		return
	}
	defer file.Close()

	parser, err := parsers.GetParser(r.FormValue("source"))
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := parser.Parse(file)
	if err != nil {
		logger.L.Warn("Failed to parse uploaded invoice", "userID", userID, "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, "error parsing file: "+err.Error(), http.StatusBadRequest)
		return
	}

	req := services.CreateInvoiceRequest{
		InvoiceNumber: r.FormValue("invoice_number"),
		TradingDate:   r.FormValue("trading_date"),
		Broker:        r.FormValue("broker"),
		Items:         items,
	}
	bundle, err := h.invoiceService.CreateInvoice(r.Context(), userID, req)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("Invoice imported", "userID", userID, "invoiceID", bundle.Invoice.ID, "filename", fileHeader.Filename, "items", len(items))
	utils.WriteJSON(w, http.StatusCreated, bundle)
}
