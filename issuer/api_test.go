package issuer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/coolbank/cardflow/issuer"
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	router  *chi.Mux
	repo    *issuer.Repository
	account *models.Account
	holder  *models.User
}

func newAPIFixture(t *testing.T, wrap func(issuer.CardStore) issuer.CardStore) *apiFixture {
	t.Helper()

	ctx := context.Background()
	repo := issuer.NewRepository()
	account := &models.Account{ID: uuid.New(), Currency: "USD", Status: "ACTIVE"}
	holder := &models.User{ID: uuid.New(), FullName: "Jane Doe", Status: "ACTIVE"}
	require.NoError(t, repo.AddAccount(ctx, account))
	require.NoError(t, repo.AddUser(ctx, holder))

	var cards issuer.CardStore = repo
	if wrap != nil {
		cards = wrap(repo)
	}

	router := chi.NewRouter()
	api := issuer.NewAPI(issuer.NewService(cards, repo, repo, issuer.DefaultConfig()))
	api.AppendRoutes(router)

	return &apiFixture{router: router, repo: repo, account: account, holder: holder}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestAPI(t *testing.T) {
	f := newAPIFixture(t, nil)

	var card models.CardView

	t.Run("issue card", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/cards", models.IssueCard{
			AccountID:          f.account.ID,
			CardHolderFullName: "Jane Doe",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		card = decodeBody[models.CardView](t, w)
		require.NotEqual(t, uuid.Nil, card.ID)
		require.Regexp(t, cardNumberRe, card.CardNumber)
		require.Regexp(t, cvvRe, card.CVV)
		require.Equal(t, models.StatusActive, card.Status)
		require.Equal(t, f.holder.ID, card.CardHolderID)
		require.Contains(t, card.CardFace, "/")
	})

	t.Run("get card by id", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/cards/"+card.ID.String(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, card, decodeBody[models.CardView](t, w))
	})

	t.Run("get card by number", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/cards/number/"+url.PathEscape(card.CardNumber), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, card.ID, decodeBody[models.CardView](t, w).ID)
	})

	t.Run("list by holder name", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/cards?holder_name="+url.QueryEscape("Jane Doe"), nil)
		require.Equal(t, http.StatusOK, w.Code)
		cards := decodeBody[[]models.CardView](t, w)
		require.Len(t, cards, 1)
	})

	t.Run("block card", func(t *testing.T) {
		w := f.do(t, http.MethodPut, "/cards/"+card.ID.String()+"/status", models.UpdateStatus{Status: models.StatusBlocked})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, models.StatusBlocked, decodeBody[models.CardView](t, w).Status)

		w = f.do(t, http.MethodGet, "/holders/"+f.holder.ID.String()+"/cards/status/BLOCKED", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, decodeBody[[]models.CardView](t, w), 1)
	})

	t.Run("unblock card by number", func(t *testing.T) {
		path := "/cards/number/" + url.PathEscape(card.CardNumber) + "/status"
		w := f.do(t, http.MethodPut, path, models.UpdateStatus{Status: models.StatusActive})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Equal(t, models.StatusActive, decodeBody[models.CardView](t, w).Status)
	})

	t.Run("holder lists", func(t *testing.T) {
		base := "/holders/" + f.holder.ID.String() + "/cards"

		w := f.do(t, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, decodeBody[[]models.CardView](t, w), 1)

		w = f.do(t, http.MethodGet, base+"/active", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, decodeBody[[]models.CardView](t, w), 1)

		w = f.do(t, http.MethodGet, base+"/expired", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("delete card", func(t *testing.T) {
		w := f.do(t, http.MethodDelete, "/cards/"+card.ID.String(), nil)
		require.Equal(t, http.StatusAccepted, w.Code)
		require.Equal(t, int64(1), decodeBody[models.DeleteResult](t, w).Deleted)

		w = f.do(t, http.MethodGet, "/cards/"+card.ID.String(), nil)
		require.Equal(t, http.StatusNotFound, w.Code)

		w = f.do(t, http.MethodDelete, "/cards/"+card.ID.String(), nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAPI_IssueForHolderID(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPost, "/cards", models.IssueCard{
		AccountID:    f.account.ID,
		CardHolderID: &f.holder.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "Jane Doe", decodeBody[models.CardView](t, w).CardHolderFullName)
}

func TestAPI_StatusIsStoredAsGiven(t *testing.T) {
	f := newAPIFixture(t, nil)

	w := f.do(t, http.MethodPost, "/cards", models.IssueCard{AccountID: f.account.ID, CardHolderFullName: "Jane Doe"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	card := decodeBody[models.CardView](t, w)

	status := " Pending review by fraud team, ticket 4471 "
	w = f.do(t, http.MethodPut, "/cards/"+card.ID.String()+"/status", models.UpdateStatus{Status: status})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, status, decodeBody[models.CardView](t, w).Status)

	w = f.do(t, http.MethodGet, "/cards/"+card.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, status, decodeBody[models.CardView](t, w).Status)
}

func TestAPI_BulkDelete(t *testing.T) {
	f := newAPIFixture(t, nil)

	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/cards", models.IssueCard{AccountID: f.account.ID, CardHolderFullName: "Jane Doe"})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.do(t, http.MethodGet, "/accounts/"+f.account.ID.String()+"/cards", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeBody[[]models.CardView](t, w), 3)

	w = f.do(t, http.MethodDelete, "/accounts/"+f.account.ID.String()+"/cards", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, int64(3), decodeBody[models.DeleteResult](t, w).Deleted)

	w = f.do(t, http.MethodDelete, "/holders/"+f.holder.ID.String()+"/cards", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, int64(0), decodeBody[models.DeleteResult](t, w).Deleted)

	w = f.do(t, http.MethodGet, "/accounts/"+f.account.ID.String()+"/cards", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, w.Body.String())
}

func TestAPI_ErrorStatuses(t *testing.T) {
	f := newAPIFixture(t, nil)
	twin := &models.User{ID: uuid.New(), FullName: "Sam Twin"}
	require.NoError(t, f.repo.AddUser(context.Background(), twin))
	require.NoError(t, f.repo.AddUser(context.Background(), &models.User{ID: uuid.New(), FullName: "Sam Twin"}))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed json", http.MethodPost, "/cards", `{"account_id":`, http.StatusBadRequest},
		{"missing holder", http.MethodPost, "/cards", models.IssueCard{AccountID: f.account.ID}, http.StatusBadRequest},
		{"name and holder id", http.MethodPost, "/cards", models.IssueCard{AccountID: f.account.ID, CardHolderFullName: "Jane Doe", CardHolderID: &f.holder.ID}, http.StatusBadRequest},
		{"unknown account", http.MethodPost, "/cards", models.IssueCard{AccountID: uuid.New(), CardHolderFullName: "Jane Doe"}, http.StatusNotFound},
		{"unknown holder", http.MethodPost, "/cards", models.IssueCard{AccountID: f.account.ID, CardHolderFullName: "Nobody"}, http.StatusNotFound},
		{"ambiguous holder", http.MethodPost, "/cards", models.IssueCard{AccountID: f.account.ID, CardHolderFullName: "Sam Twin"}, http.StatusConflict},
		{"bad card id", http.MethodGet, "/cards/not-a-uuid", nil, http.StatusBadRequest},
		{"unknown card", http.MethodGet, "/cards/" + uuid.NewString(), nil, http.StatusNotFound},
		{"bad card number", http.MethodGet, "/cards/number/1234", nil, http.StatusBadRequest},
		{"missing holder name", http.MethodGet, "/cards", nil, http.StatusBadRequest},
		{"empty status", http.MethodPut, "/cards/" + uuid.NewString() + "/status", models.UpdateStatus{}, http.StatusBadRequest},
		{"unknown account cards", http.MethodGet, "/accounts/" + uuid.NewString() + "/cards", nil, http.StatusNotFound},
		{"unknown holder cards", http.MethodDelete, "/holders/" + uuid.NewString() + "/cards", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.want, w.Code, w.Body.String())
			require.NotEmpty(t, decodeBody[map[string]string](t, w)["error"])
		})
	}
}

type brokenStore struct {
	issuer.CardStore
}

func (brokenStore) FindByID(context.Context, uuid.UUID) (*models.Card, error) {
	return nil, errors.New("connection reset by peer")
}

func TestAPI_InternalErrorsAreNotLeaked(t *testing.T) {
	f := newAPIFixture(t, func(cs issuer.CardStore) issuer.CardStore { return brokenStore{cs} })

	w := f.do(t, http.MethodGet, "/cards/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "connection reset")
}
