package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"saledrop-pipeline/internal/db/dbtest"
	"saledrop-pipeline/internal/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seedMessages(t *testing.T, r *Repository, n int) []models.RawMessage {
	t.Helper()
	var out []models.RawMessage
	for i := 0; i < n; i++ {
		msg := models.RawMessage{
			Sender:     "Shop <news@shop.nl>",
			Inbox:      "general@example.com",
			Subject:    fmt.Sprintf("Sale %d", i),
			Body:       "<p>sale</p>",
			ReceivedAt: base.Add(time.Duration(i) * time.Hour),
		}
		created, err := r.InsertRawMessage(context.Background(), &msg)
		require.NoError(t, err)
		require.True(t, created)
		out = append(out, msg)
	}
	return out
}

func TestInsertRawMessageDedup(t *testing.T) {
	r := New(dbtest.New(t))
	ctx := context.Background()

	msg := models.RawMessage{Sender: "a@shop.nl", Inbox: "general@example.com", Subject: "Hi", ReceivedAt: base}
	created, err := r.InsertRawMessage(ctx, &msg)
	require.NoError(t, err)
	assert.True(t, created)

	dup := models.RawMessage{Sender: "a@shop.nl", Inbox: "general@example.com", Subject: "Hi", ReceivedAt: base, Body: "other"}
	created, err = r.InsertRawMessage(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	other := models.RawMessage{Sender: "a@shop.nl", Inbox: "female@example.com", Subject: "Hi", ReceivedAt: base}
	created, err = r.InsertRawMessage(ctx, &other)
	require.NoError(t, err)
	assert.True(t, created)
}

// sqlite runs on one connection here, so the two claims serialize;
// TestClaimSQLLocksRows pins the locking clause for the server dialects.
func TestClaimBatchExclusive(t *testing.T) {
	r := New(dbtest.New(t))
	seedMessages(t, r, 5)

	opts := ClaimOptions{Limit: 5, Lease: time.Hour, MaxAttempts: 5}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed [][]models.RawMessage
		errs    []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msgs, _, err := r.ClaimBatch(context.Background(), opts)
			mu.Lock()
			defer mu.Unlock()
			claimed = append(claimed, msgs)
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	seen := map[uint]int{}
	for _, batch := range claimed {
		for _, m := range batch {
			seen[m.ID]++
		}
	}
	assert.Len(t, seen, 5)
	for id, n := range seen {
		assert.Equal(t, 1, n, "message %d claimed twice", id)
	}
}

func TestClaimBatchNewestFirstAndLimit(t *testing.T) {
	r := New(dbtest.New(t))
	msgs := seedMessages(t, r, 4)

	got, token, err := r.ClaimBatch(context.Background(), ClaimOptions{Limit: 2, Lease: time.Hour})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEmpty(t, token)
	assert.Equal(t, msgs[3].ID, got[0].ID)
	assert.Equal(t, msgs[2].ID, got[1].ID)
	assert.True(t, got[0].InAnalysis)
}

func TestReleaseClaimMakesMessageClaimableAgain(t *testing.T) {
	r := New(dbtest.New(t))
	ctx := context.Background()
	seedMessages(t, r, 1)

	got, token, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 5, Lease: time.Hour})
	require.NoError(t, err)
	require.Len(t, got, 1)

	again, _, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 5, Lease: time.Hour})
	require.NoError(t, err)
	assert.Empty(t, again)

	// a foreign token does not release the claim
	require.NoError(t, r.ReleaseClaim(ctx, got[0].ID, "someone-else"))
	again, _, err = r.ClaimBatch(ctx, ClaimOptions{Limit: 5, Lease: time.Hour})
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, r.ReleaseClaim(ctx, got[0].ID, token))
	again, _, err = r.ClaimBatch(ctx, ClaimOptions{Limit: 5, Lease: time.Hour})
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestClaimBatchTakesOverExpiredLease(t *testing.T) {
	r := New(dbtest.New(t))
	ctx := context.Background()
	seedMessages(t, r, 1)

	r.now = func() time.Time { return base }
	first, firstToken, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 1, Lease: 10 * time.Minute})
	require.NoError(t, err)
	require.Len(t, first, 1)

	r.now = func() time.Time { return base.Add(5 * time.Minute) }
	none, _, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 1, Lease: 10 * time.Minute})
	require.NoError(t, err)
	assert.Empty(t, none)

	r.now = func() time.Time { return base.Add(11 * time.Minute) }
	second, secondToken, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 1, Lease: 10 * time.Minute})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, firstToken, secondToken)

	// the crashed worker's late release must not clear the new claim
	require.NoError(t, r.ReleaseClaim(ctx, first[0].ID, firstToken))
	msg, err := r.GetRawMessage(ctx, first[0].ID)
	require.NoError(t, err)
	assert.True(t, msg.InAnalysis)
}

func TestRenewClaim(t *testing.T) {
	r := New(dbtest.New(t))
	ctx := context.Background()
	seedMessages(t, r, 1)

	r.now = func() time.Time { return base }
	first, firstToken, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 1, Lease: 10 * time.Minute})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// a renewed lease is not taken over when the original one would have expired
	r.now = func() time.Time { return base.Add(8 * time.Minute) }
	held, err := r.RenewClaim(ctx, first[0].ID, firstToken)
	require.NoError(t, err)
	assert.True(t, held)

	r.now = func() time.Time { return base.Add(12 * time.Minute) }
	none, _, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 1, Lease: 10 * time.Minute})
	require.NoError(t, err)
	assert.Empty(t, none)

	r.now = func() time.Time { return base.Add(20 * time.Minute) }
	second, secondToken, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 1, Lease: 10 * time.Minute})
	require.NoError(t, err)
	require.Len(t, second, 1)

	held, err = r.RenewClaim(ctx, first[0].ID, firstToken)
	require.NoError(t, err)
	assert.False(t, held)

	held, err = r.RenewClaim(ctx, first[0].ID, secondToken)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, r.ReleaseClaim(ctx, first[0].ID, secondToken))
	held, err = r.RenewClaim(ctx, first[0].ID, secondToken)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestClaimSQLLocksRows(t *testing.T) {
	dialects := map[string]gorm.Dialector{
		"mysql":    mysql.New(mysql.Config{DSN: "u:p@tcp(localhost:3306)/saledrop", SkipInitializeWithVersion: true}),
		"postgres": postgres.New(postgres.Config{DSN: "host=localhost user=u dbname=saledrop sslmode=disable"}),
	}
	for name, dialector := range dialects {
		t.Run(name, func(t *testing.T) {
			conn, err := gorm.Open(dialector, &gorm.Config{DryRun: true, DisableAutomaticPing: true})
			require.NoError(t, err)

			var ids []uint
			sel := claimable(conn, ClaimOptions{Limit: 10, MaxAttempts: 5}, base).Pluck("id", &ids).Statement.SQL.String()
			assert.Contains(t, sel, "FOR UPDATE SKIP LOCKED")
			assert.Contains(t, sel, "failed_attempts <")

			upd := markClaimed(conn, []uint{1, 2}, base, base, "token").Statement.SQL.String()
			assert.Contains(t, upd, "in_analysis = ")
			assert.Contains(t, upd, "claimed_at < ")
		})
	}
}

func TestClaimBatchSkipsAnalyzedAndExhausted(t *testing.T) {
	r := New(dbtest.New(t))
	ctx := context.Background()
	msgs := seedMessages(t, r, 3)

	require.NoError(t, r.CreateAnalysis(ctx, &models.Analysis{RawMessageID: msgs[0].ID, Title: "x"}))
	require.NoError(t, r.RecordFailedAttempt(ctx, msgs[1].ID))
	require.NoError(t, r.RecordFailedAttempt(ctx, msgs[1].ID))

	got, _, err := r.ClaimBatch(ctx, ClaimOptions{Limit: 10, Lease: time.Hour, MaxAttempts: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msgs[2].ID, got[0].ID)
}

func TestCreateAnalysisOncePerMessage(t *testing.T) {
	r := New(dbtest.New(t))
	ctx := context.Background()
	msgs := seedMessages(t, r, 1)

	require.NoError(t, r.CreateAnalysis(ctx, &models.Analysis{RawMessageID: msgs[0].ID, Title: "a"}))
	err := r.CreateAnalysis(ctx, &models.Analysis{RawMessageID: msgs[0].ID, Title: "b"})
	assert.ErrorIs(t, err, ErrAlreadyAnalyzed)
}

func TestRecentQualifyingAnalyses(t *testing.T) {
	conn := dbtest.New(t)
	r := New(conn)
	ctx := context.Background()

	store := models.Store{Name: "Shop", Domains: []string{"shop.nl"}}
	require.NoError(t, conn.Create(&store).Error)

	add := func(hour int, inbox string, prob float64, personal bool) {
		msg := models.RawMessage{
			Sender: "news@shop.nl", Inbox: inbox, Subject: fmt.Sprintf("m%d-%s", hour, inbox),
			ReceivedAt: base.Add(time.Duration(hour) * time.Hour), StoreID: &store.ID,
		}
		_, err := r.InsertRawMessage(ctx, &msg)
		require.NoError(t, err)
		require.NoError(t, r.CreateAnalysis(ctx, &models.Analysis{
			RawMessageID: msg.ID, IsSale: true, IsPersonal: personal,
			Title: fmt.Sprintf("deal %d", hour), DealProbability: prob,
		}))
	}
	add(1, "general@example.com", 0.95, false)
	add(2, "general@example.com", 0.50, false)
	add(3, "general@example.com", 0.99, true)
	add(4, "general@example.com", 0.96, false)
	add(5, "female@example.com", 0.99, false)
	add(6, "general@example.com", 0.97, false)
	add(9, "general@example.com", 0.98, false)

	got, err := r.RecentQualifyingAnalyses(ctx, store.ID, "general@example.com", base.Add(8*time.Hour), 0.925, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "deal 6", got[0].Title)
	assert.Equal(t, "deal 4", got[1].Title)
}

func TestSubscribersWithDevices(t *testing.T) {
	conn := dbtest.New(t)
	r := New(conn)
	ctx := context.Background()

	store := models.Store{Name: "Shop"}
	require.NoError(t, conn.Create(&store).Error)
	other := models.Store{Name: "Other"}
	require.NoError(t, conn.Create(&other).Error)

	a := models.User{Email: "a@x.nl", Gender: models.GenderMale, Devices: []models.Device{{PushToken: "ExponentPushToken[a]"}}}
	b := models.User{Email: "b@x.nl", Gender: models.GenderFemale}
	require.NoError(t, conn.Create(&a).Error)
	require.NoError(t, conn.Create(&b).Error)
	require.NoError(t, conn.Model(&store).Association("Subscribers").Append(&a))
	require.NoError(t, conn.Model(&other).Association("Subscribers").Append(&b))

	users, err := r.Subscribers(ctx, store.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a@x.nl", users[0].Email)
	require.Len(t, users[0].Devices, 1)
	assert.Equal(t, "ExponentPushToken[a]", users[0].Devices[0].PushToken)
}

func TestLinksAndVisits(t *testing.T) {
	conn := dbtest.New(t)
	r := New(conn)
	ctx := context.Background()

	link := models.ResolvedLink{TrackedURL: "https://t.co/x?a=1", RedirectURL: "https://shop.nl/sale?utm=1", CanonicalURL: "https://shop.nl/sale", ResolvedAt: base}
	created, err := r.CreateLink(ctx, &link)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.CreateLink(ctx, &models.ResolvedLink{TrackedURL: "https://t.co/x?a=1"})
	require.NoError(t, err)
	assert.False(t, created)

	found, err := r.FindLink(ctx, "https://t.co/x?a=1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "https://shop.nl/sale", found.CanonicalURL)

	missing, err := r.FindLink(ctx, "https://t.co/x?a=2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	user := models.User{Email: "v@x.nl", Gender: models.GenderBoth}
	require.NoError(t, conn.Create(&user).Error)
	require.NoError(t, r.AddLinkVisit(ctx, found.ID, user.ID))
	require.NoError(t, r.AddLinkVisit(ctx, found.ID, user.ID))
	n, err := r.CountLinkVisits(ctx, found.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPromotionDatesAndStates(t *testing.T) {
	conn := dbtest.New(t)
	r := New(conn)
	ctx := context.Background()

	store := models.Store{Name: "Shop"}
	require.NoError(t, conn.Create(&store).Error)

	scheduled := base.Add(72 * time.Hour)
	p1 := models.PromotionalMessage{StoreID: store.ID, AuthorID: 1, Title: "a", State: models.StateUnreviewed}
	p2 := models.PromotionalMessage{StoreID: store.ID, AuthorID: 1, Title: "b", ScheduledAt: &scheduled, State: models.StateAutoApproved}
	require.NoError(t, r.CreatePromotion(ctx, &p1))
	require.NoError(t, r.CreatePromotion(ctx, &p2))

	dates, err := r.PromotionDates(ctx, store.ID, 0)
	require.NoError(t, err)
	require.Len(t, dates, 2)

	dates, err = r.PromotionDates(ctx, store.ID, p1.ID)
	require.NoError(t, err)
	require.Len(t, dates, 1)
	assert.True(t, dates[0].Equal(scheduled))

	unreviewed, err := r.PromotionsInState(ctx, 10, models.StateUnreviewed)
	require.NoError(t, err)
	require.Len(t, unreviewed, 1)
	assert.Equal(t, p1.ID, unreviewed[0].ID)
	require.NotNil(t, unreviewed[0].Store)

	require.NoError(t, r.MarkPromotionSent(ctx, p2.ID, base))
	approved, err := r.PromotionsInState(ctx, 10, models.StateAutoApproved)
	require.NoError(t, err)
	assert.Empty(t, approved)

	_, err = r.GetPromotion(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
