package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"budgetd/internal/core"
	"budgetd/internal/services"
)

// maxBodyBytes caps request bodies; a budget with a few hundred items stays
// well under this.
const maxBodyBytes = 1 << 20 // 1MB

// saveBudgetPayload is the wire shape of a save submission. TotalAmount and
// Items are pointers so an absent field is distinguishable from a zero value.
type saveBudgetPayload struct {
	Title            string            `json:"title"`
	TotalAmount      *decimal.Decimal  `json:"total_amount"`
	Items            *[]core.ItemInput `json:"items"`
	ConfirmOverwrite bool              `json:"confirm_overwrite"`
}

func (p *saveBudgetPayload) toRequest() (services.SaveRequest, error) {
	if p.TotalAmount == nil {
		return services.SaveRequest{}, &core.ValidationError{Field: "total_amount", Reason: "is required"}
	}
	if p.Items == nil {
		return services.SaveRequest{}, &core.ValidationError{Field: "items", Reason: "must be a list"}
	}
	return services.SaveRequest{
		Title:            p.Title,
		TotalAmount:      *p.TotalAmount,
		Items:            *p.Items,
		ConfirmOverwrite: p.ConfirmOverwrite,
	}, nil
}

func (s *Server) handleSaveBudget(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload, err := decodePayload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := payload.toRequest()
	if err != nil {
		writeError(w, r, err)
		return
	}

	budget, created, err := s.service.SaveBudget(r.Context(), ownerID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"budget": budget})
}

func (s *Server) handleReplaceBudget(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	budgetID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload, err := decodePayload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := payload.toRequest()
	if err != nil {
		writeError(w, r, err)
		return
	}

	budget, err := s.service.ReplaceBudget(r.Context(), budgetID, ownerID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"budget": budget})
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	budgetID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.service.DeleteBudget(r.Context(), budgetID, ownerID); err != nil {
		writeError(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "budget deleted")
}

func (s *Server) handleLatestBudget(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	budget, err := s.service.LatestBudget(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if budget == nil {
		// Absence is a normal outcome of the latest query, not a failure.
		writeMessage(w, http.StatusNotFound, "no budget found for this user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"budget": budget})
}

func (s *Server) handleBudgetHistory(w http.ResponseWriter, r *http.Request) {
	ownerID, err := s.resolveOwner(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	budgets, err := s.service.BudgetHistory(r.Context(), ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"budgets": budgets})
}

func decodePayload(w http.ResponseWriter, r *http.Request) (*saveBudgetPayload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer io.Copy(io.Discard, r.Body)

	var payload saveBudgetPayload
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, &core.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
	}
	return &payload, nil
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &core.ValidationError{Field: "id", Reason: "must be a positive integer"}
	}
	return id, nil
}
