//go:build integration

package issuer_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/coolbank/cardflow/internal/expiry"
	"github.com/coolbank/cardflow/issuer"
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/exp/slog"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// startPostgres returns a DSN for a fresh, migrated database.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("cards"),
		tcpostgres.WithUsername("cards"),
		tcpostgres.WithPassword("cards"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, issuer.Migrate(ctx, db, discardLogger))

	return dsn
}

func openDB(t *testing.T, driver, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open(driver, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())
	return db
}

func TestPGRepository(t *testing.T) {
	dsn := startPostgres(t)

	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			repo := issuer.NewPGRepository(openDB(t, driver, dsn))

			account := &models.Account{ID: uuid.New(), Currency: "USD", Status: "ACTIVE"}
			holder := &models.User{ID: uuid.New(), FullName: "Jane Doe " + driver, Email: "jane@example.com", Status: "ACTIVE"}
			require.NoError(t, repo.AddAccount(ctx, account))
			require.NoError(t, repo.AddUser(ctx, holder))

			users, err := repo.FindUsersByFullName(ctx, holder.FullName)
			require.NoError(t, err)
			require.Len(t, users, 1)

			number := "4000 0000 0000 000" + map[string]string{"postgres": "1", "pgx": "2"}[driver]
			card := newTestCard(number, holder.ID, account.ID)
			require.NoError(t, repo.Save(ctx, card))

			found, err := repo.FindByCardNumber(ctx, number)
			require.NoError(t, err)
			require.Equal(t, card.ID, found.ID)
			require.Equal(t, expiry.FormatDate(card.ExpirationDate), expiry.FormatDate(found.ExpirationDate))
			require.Equal(t, card.CVV, found.CVV)

			dup := newTestCard(number, holder.ID, account.ID)
			require.ErrorIs(t, repo.Save(ctx, dup), issuer.ErrConflict)

			card.Status = models.StatusBlocked
			require.NoError(t, repo.Save(ctx, card))
			blocked, err := repo.FindAllByCardHolderIDAndStatus(ctx, holder.ID, models.StatusBlocked)
			require.NoError(t, err)
			require.Len(t, blocked, 1)

			deleted, err := repo.DeleteAllByAccountID(ctx, account.ID)
			require.NoError(t, err)
			require.Len(t, deleted, 1)
			require.Equal(t, card.ID, deleted[0].ID)

			_, err = repo.FindByID(ctx, card.ID)
			require.ErrorIs(t, err, issuer.ErrCardNotFound)
			require.ErrorIs(t, repo.DeleteByID(ctx, card.ID), issuer.ErrCardNotFound)

			_, err = repo.FindAccountByID(ctx, uuid.New())
			require.ErrorIs(t, err, issuer.ErrAccountNotFound)
		})
	}
}

func TestPGService(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	repo := issuer.NewPGRepository(openDB(t, "postgres", dsn))

	account := &models.Account{ID: uuid.New(), Currency: "USD", Status: "ACTIVE"}
	holder := &models.User{ID: uuid.New(), FullName: "Jane Doe", Status: "ACTIVE"}
	require.NoError(t, repo.AddAccount(ctx, account))
	require.NoError(t, repo.AddUser(ctx, holder))

	svc := issuer.NewService(repo, repo, repo, issuer.DefaultConfig(), issuer.WithLogger(discardLogger))

	card, err := svc.Issue(ctx, account.ID, "Jane Doe")
	require.NoError(t, err)

	stored, err := svc.GetByCardNumber(ctx, card.CardNumber)
	require.NoError(t, err)
	require.Equal(t, card.ExpirationDate, stored.ExpirationDate)
	require.Equal(t, card.CardFace, stored.CardFace)

	active, err := svc.ListActive(ctx, holder.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	n, err := svc.DeleteAllByCardHolder(ctx, holder.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	metrics := issuer.NewMetrics(prometheus.NewRegistry())
	repo := issuer.NewRepository()
	cache := issuer.NewCachedStore(repo, client, time.Minute, []byte("test-key"), discardLogger, metrics)
	require.NoError(t, cache.Ping(ctx))

	card := newTestCard("1234 5678 9012 3456", uuid.New(), uuid.New())
	require.NoError(t, cache.Save(ctx, card))

	first, err := cache.FindByID(ctx, card.ID)
	require.NoError(t, err)
	second, err := cache.FindByID(ctx, card.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("hit")))

	keys, err := client.Keys(ctx, "cardflow:card:pan:*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotContains(t, keys[0], "1234")

	card.Status = models.StatusBlocked
	require.NoError(t, cache.Save(ctx, card))
	byNumber, err := cache.FindByCardNumber(ctx, card.CardNumber)
	require.NoError(t, err)
	require.Equal(t, models.StatusBlocked, byNumber.Status)

	deleted, err := cache.DeleteAllByAccountID(ctx, card.AccountID)
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	_, err = cache.FindByID(ctx, card.ID)
	require.ErrorIs(t, err, issuer.ErrCardNotFound)
	_, err = cache.FindByCardNumber(ctx, card.CardNumber)
	require.ErrorIs(t, err, issuer.ErrCardNotFound)

	t.Run("delete during load is not cached", func(t *testing.T) {
		inner := &hookedStore{CardStore: repo}
		metrics := issuer.NewMetrics(prometheus.NewRegistry())
		racy := issuer.NewCachedStore(inner, client, time.Minute, []byte("test-key"), discardLogger, metrics)

		card := newTestCard("4000 0000 0000 0002", uuid.New(), uuid.New())
		require.NoError(t, racy.Save(ctx, card))

		inner.afterLoad = func() { require.NoError(t, racy.DeleteByID(ctx, card.ID)) }
		_, err := racy.FindByID(ctx, card.ID)
		require.NoError(t, err)

		n, err := client.Exists(ctx, "cardflow:card:id:"+card.ID.String()).Result()
		require.NoError(t, err)
		require.Zero(t, n)
		require.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheRequests.WithLabelValues("stale")))

		_, err = racy.FindByID(ctx, card.ID)
		require.ErrorIs(t, err, issuer.ErrCardNotFound)
		_, err = racy.FindByCardNumber(ctx, card.CardNumber)
		require.ErrorIs(t, err, issuer.ErrCardNotFound)
	})

	t.Run("status update during load is not cached", func(t *testing.T) {
		inner := &hookedStore{CardStore: repo}
		racy := issuer.NewCachedStore(inner, client, time.Minute, []byte("test-key"), discardLogger, nil)

		card := newTestCard("4000 0000 0000 0010", uuid.New(), uuid.New())
		require.NoError(t, racy.Save(ctx, card))

		inner.afterLoad = func() {
			blocked := *card
			blocked.Status = models.StatusBlocked
			require.NoError(t, racy.Save(ctx, &blocked))
		}
		_, err := racy.FindByID(ctx, card.ID)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			got, err := racy.FindByID(ctx, card.ID)
			require.NoError(t, err)
			require.Equal(t, models.StatusBlocked, got.Status)
		}
	})
}

// hookedStore runs afterLoad once, between reading a card and returning it.
type hookedStore struct {
	issuer.CardStore
	afterLoad func()
}

func (s *hookedStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	card, err := s.CardStore.FindByID(ctx, id)
	if hook := s.afterLoad; hook != nil {
		s.afterLoad = nil
		hook()
	}
	return card, err
}

func TestKafkaPublisher(t *testing.T) {
	ctx := context.Background()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v23.3.3",
		redpanda.WithAutoCreateTopics(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	pub, err := issuer.NewKafkaPublisher([]string{broker}, "card-events")
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	card := newTestCard("1234 5678 9012 3456", uuid.New(), uuid.New())
	event := issuer.CardEvent{
		Type:         issuer.EventCardIssued,
		CardID:       card.ID,
		AccountID:    card.AccountID,
		CardHolderID: card.CardHolderID,
		MaskedNumber: "123456******3456",
		Status:       card.Status,
		OccurredAt:   time.Now().UTC(),
	}
	require.NoError(t, pub.Publish(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics("card-events"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollFetches(pollCtx)
	require.Empty(t, fetches.Errors())

	records := fetches.Records()
	require.Len(t, records, 1)
	require.Equal(t, card.ID.String(), string(records[0].Key))

	var got issuer.CardEvent
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	require.Equal(t, issuer.EventCardIssued, got.Type)
	require.NotContains(t, string(records[0].Value), "1234 5678")
}
