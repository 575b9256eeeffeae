package issuer_test

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/coolbank/cardflow/internal/issuerdev"
	"github.com/coolbank/cardflow/issuer"
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func startMemApp(t *testing.T) *issuer.App {
	t.Helper()

	config := issuer.DefaultConfig()
	config.HTTPAddr = "127.0.0.1:0"
	config.RepoBackend = "mem"
	config.AllowMemBackend = true

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app := issuer.NewApp(logger, config)
	require.NoError(t, app.Start())
	t.Cleanup(app.Shutdown)
	return app
}

func TestApp_RefusesMemBackendByDefault(t *testing.T) {
	config := issuer.DefaultConfig()
	config.HTTPAddr = "127.0.0.1:0"
	config.RepoBackend = "mem"

	app := issuer.NewApp(slog.New(slog.NewTextHandler(io.Discard, nil)), config)
	require.Error(t, app.Start())
}

func TestApp_Probes(t *testing.T) {
	app := startMemApp(t)

	for _, path := range []string{"/-/live", "/-/ready", "/metrics"} {
		resp, err := http.Get("http://" + app.Addr + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestApp_CardLifecycleOverHTTP(t *testing.T) {
	app := startMemApp(t)
	ctx := context.Background()

	account := &models.Account{ID: uuid.New(), Currency: "USD", Status: "ACTIVE"}
	holder := &models.User{ID: uuid.New(), FullName: "Jane Doe", Status: "ACTIVE"}
	require.NoError(t, app.Repository().AddAccount(ctx, account))
	require.NoError(t, app.Repository().AddUser(ctx, holder))

	cli := issuerdev.New("http://"+app.Addr, nil)

	card, err := cli.Issue(ctx, account.ID, "Jane Doe")
	require.NoError(t, err)
	require.Equal(t, holder.ID, card.CardHolderID)

	byNumber, err := cli.GetByCardNumber(ctx, card.CardNumber)
	require.NoError(t, err)
	require.Equal(t, card.ID, byNumber.ID)

	blocked, err := cli.UpdateStatus(ctx, card.ID, models.StatusBlocked)
	require.NoError(t, err)
	require.Equal(t, models.StatusBlocked, blocked.Status)

	cards, err := cli.ListByHolder(ctx, holder.ID, "status/"+models.StatusBlocked)
	require.NoError(t, err)
	require.Len(t, cards, 1)

	second, err := cli.IssueForHolder(ctx, account.ID, holder.ID)
	require.NoError(t, err)

	cards, err = cli.ListByHolderName(ctx, "Jane Doe")
	require.NoError(t, err)
	require.Len(t, cards, 2)

	require.NoError(t, cli.Delete(ctx, second.ID))
	_, err = cli.GetByID(ctx, second.ID)
	require.True(t, issuerdev.IsStatus(err, http.StatusNotFound), err)

	n, err := cli.DeleteByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	cards, err = cli.ListByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Empty(t, cards)

	_, err = cli.Issue(ctx, uuid.New(), "Jane Doe")
	require.True(t, issuerdev.IsStatus(err, http.StatusNotFound), err)
}
