package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coolbank/cardflow/issuer/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// API is a HTTP API for the issuer service
type API struct {
	issuer *Service
}

func NewAPI(issuer *Service) *API {
	return &API{
		issuer: issuer,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/cards", func(r chi.Router) {
		r.Post("/", a.issueCard)
		r.Get("/", a.listByHolderName)
		r.Route("/number/{cardNumber}", func(r chi.Router) {
			r.Get("/", a.getCardByNumber)
			r.Put("/status", a.updateStatusByNumber)
		})
		r.Route("/{cardID}", func(r chi.Router) {
			r.Get("/", a.getCard)
			r.Delete("/", a.deleteCard)
			r.Put("/status", a.updateStatus)
		})
	})
	r.Route("/accounts/{accountID}/cards", func(r chi.Router) {
		r.Get("/", a.listByAccount)
		r.Delete("/", a.deleteByAccount)
	})
	r.Route("/holders/{holderID}/cards", func(r chi.Router) {
		r.Get("/", a.listByHolder)
		r.Delete("/", a.deleteByHolder)
		r.Get("/status/{status}", a.listByStatus)
		r.Get("/expired", a.listExpired)
		r.Get("/active", a.listActive)
	})
}

func (a *API) issueCard(w http.ResponseWriter, r *http.Request) {
	var req models.IssueCard
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		card *models.CardView
		err  error
	)
	if req.CardHolderID != nil {
		card, err = a.issuer.IssueForHolder(r.Context(), req.AccountID, *req.CardHolderID)
	} else {
		card, err = a.issuer.Issue(r.Context(), req.AccountID, req.CardHolderFullName)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (a *API) getCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := uuidParam(r, "cardID")
	if err != nil {
		writeError(w, err)
		return
	}
	card, err := a.issuer.GetByID(r.Context(), cardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) getCardByNumber(w http.ResponseWriter, r *http.Request) {
	card, err := a.issuer.GetByCardNumber(r.Context(), chi.URLParam(r, "cardNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) listByHolderName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("holder_name")
	if name == "" {
		writeError(w, invalid("holder_name query parameter is required"))
		return
	}
	cards, err := a.issuer.ListByCardHolderFullName(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) updateStatus(w http.ResponseWriter, r *http.Request) {
	cardID, err := uuidParam(r, "cardID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.UpdateStatus
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	card, err := a.issuer.UpdateStatusByID(r.Context(), cardID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) updateStatusByNumber(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStatus
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	card, err := a.issuer.UpdateStatusByCardNumber(r.Context(), chi.URLParam(r, "cardNumber"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (a *API) deleteCard(w http.ResponseWriter, r *http.Request) {
	cardID, err := uuidParam(r, "cardID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.issuer.Delete(r.Context(), cardID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.DeleteResult{Deleted: 1})
}

func (a *API) listByAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuidParam(r, "accountID")
	if err != nil {
		writeError(w, err)
		return
	}
	cards, err := a.issuer.ListByAccountID(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) deleteByAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuidParam(r, "accountID")
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := a.issuer.DeleteAllByAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.DeleteResult{Deleted: int64(n)})
}

func (a *API) listByHolder(w http.ResponseWriter, r *http.Request) {
	a.listHolderCards(w, r, a.issuer.ListByCardHolderID)
}

func (a *API) listExpired(w http.ResponseWriter, r *http.Request) {
	a.listHolderCards(w, r, a.issuer.ListExpired)
}

func (a *API) listActive(w http.ResponseWriter, r *http.Request) {
	a.listHolderCards(w, r, a.issuer.ListActive)
}

func (a *API) listByStatus(w http.ResponseWriter, r *http.Request) {
	status := chi.URLParam(r, "status")
	a.listHolderCards(w, r, func(ctx context.Context, holderID uuid.UUID) ([]models.CardView, error) {
		return a.issuer.ListByStatus(ctx, holderID, status)
	})
}

func (a *API) listHolderCards(w http.ResponseWriter, r *http.Request, list func(context.Context, uuid.UUID) ([]models.CardView, error)) {
	holderID, err := uuidParam(r, "holderID")
	if err != nil {
		writeError(w, err)
		return
	}
	cards, err := list(r.Context(), holderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (a *API) deleteByHolder(w http.ResponseWriter, r *http.Request) {
	holderID, err := uuidParam(r, "holderID")
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := a.issuer.DeleteAllByCardHolder(r.Context(), holderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.DeleteResult{Deleted: int64(n)})
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalid("%s must be a UUID, got %q", name, raw)
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("decoding request: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return invalid("%v", err)
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAmbiguousHolder), errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fmt.Sprintf("internal error: %s", http.StatusText(status))
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
