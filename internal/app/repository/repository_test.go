package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PowerPush/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Push{}, &model.PushFile{}, &model.AuditLog{}))
	return db
}

func newPush(token string, userID *uint) *model.Push {
	return &model.Push{
		URLToken:         token,
		Kind:             model.PushKindText,
		Payload:          []byte("ciphertext"),
		Passphrase:       []byte("digest"),
		ExpireAfterDays:  1,
		ExpireAfterViews: 1,
		UserID:           userID,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func addAudit(t *testing.T, repo AuditLogRepository, pushID uint, kind model.AuditKind) {
	t.Helper()
	require.NoError(t, repo.Create(context.Background(), &model.AuditLog{
		EventID:   uuid.NewString(),
		PushID:    pushID,
		Kind:      kind,
		CreatedAt: t0,
	}))
}

func TestPushRepository_GetByToken(t *testing.T) {
	db := openTestDB(t)
	repo := NewPushRepository(db)
	ctx := context.Background()

	p := newPush("tok-a", nil)
	p.Files = []model.PushFile{{Filename: "a.txt", Size: 1, BlobKey: uuid.NewString()}}
	require.NoError(t, repo.Create(ctx, p))

	got, err := repo.GetByToken(ctx, "tok-a")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "a.txt", got.Files[0].Filename)

	_, err = repo.GetByToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrPushNotFound)

	_, err = repo.GetFile(ctx, p.ID, got.Files[0].ID+1)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestPushRepository_ExpireAtMostOnce(t *testing.T) {
	db := openTestDB(t)
	repo := NewPushRepository(db)
	ctx := context.Background()

	p := newPush("tok-b", nil)
	require.NoError(t, repo.Create(ctx, p))

	ok, err := repo.Expire(ctx, p.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Expire(ctx, p.ID, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByToken(ctx, "tok-b")
	require.NoError(t, err)
	assert.True(t, got.Expired)
	assert.Nil(t, got.Payload)
	assert.Nil(t, got.Passphrase)
	require.NotNil(t, got.ExpiredOn)
	assert.True(t, got.ExpiredOn.Equal(t0.Add(time.Hour)))
}

func TestAuditLogRepository_CountByKinds(t *testing.T) {
	db := openTestDB(t)
	pushes := NewPushRepository(db)
	audits := NewAuditLogRepository(db)
	ctx := context.Background()

	p := newPush("tok-c", nil)
	require.NoError(t, pushes.Create(ctx, p))
	for _, k := range []model.AuditKind{
		model.AuditCreation, model.AuditView, model.AuditOwnerView,
		model.AuditFailedPassphrase, model.AuditFailedView, model.AuditView,
	} {
		addAudit(t, audits, p.ID, k)
	}

	n, err := audits.CountByKinds(ctx, p.ID, model.ViewKinds...)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	logs, err := audits.ListByPush(ctx, p.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditView, logs[0].Kind)
	assert.Equal(t, model.AuditFailedView, logs[1].Kind)
}

func TestPushRepository_ListUnexpiredPaginates(t *testing.T) {
	db := openTestDB(t)
	repo := NewPushRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newPush(fmt.Sprintf("tok-%d", i), nil)))
	}
	young := newPush("tok-young", nil)
	young.CreatedAt = t0.Add(48 * time.Hour)
	require.NoError(t, repo.Create(ctx, young))

	before := t0.Add(time.Hour)
	page, err := repo.ListUnexpired(ctx, before, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := repo.ListUnexpired(ctx, before, page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "tok-2", rest[0].URLToken)

	tokens, err := repo.ListTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, 4)
}

func TestPushRepository_FilePurge(t *testing.T) {
	db := openTestDB(t)
	repo := NewPushRepository(db)
	ctx := context.Background()

	p := newPush("tok-f", nil)
	p.Kind = model.PushKindFile
	p.Files = []model.PushFile{{Filename: "a", Size: 1, BlobKey: uuid.NewString()}}
	require.NoError(t, repo.Create(ctx, p))

	due, err := repo.ListFilesDueForPurge(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "files are only purged after their push expires")

	require.NoError(t, repo.ScheduleFilePurge(ctx, p.ID, t0.Add(30*time.Minute)))
	due, err = repo.ListFilesDueForPurge(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, repo.MarkFilePurged(ctx, due[0].ID))
	due, err = repo.ListFilesDueForPurge(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPushRepository_DeleteAnonymousExpired(t *testing.T) {
	db := openTestDB(t)
	repo := NewPushRepository(db)
	audits := NewAuditLogRepository(db)
	ctx := context.Background()

	owner := uint(9)
	anon := newPush("tok-anon", nil)
	owned := newPush("tok-owned", &owner)
	withFile := newPush("tok-file", nil)
	withFile.Files = []model.PushFile{{Filename: "a", Size: 1, BlobKey: uuid.NewString()}}
	for _, p := range []*model.Push{anon, owned, withFile} {
		require.NoError(t, repo.Create(ctx, p))
		addAudit(t, audits, p.ID, model.AuditCreation)
		_, err := repo.Expire(ctx, p.ID, t0)
		require.NoError(t, err)
	}

	n, err := repo.DeleteAnonymousExpired(ctx, t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.GetByToken(ctx, "tok-anon")
	assert.ErrorIs(t, err, ErrPushNotFound)
	remaining, err := audits.CountByKinds(ctx, anon.ID, model.AuditCreation)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	for _, token := range []string{"tok-owned", "tok-file"} {
		_, err = repo.GetByToken(ctx, token)
		assert.NoError(t, err, token)
	}
}

func TestTransactor_RollsBack(t *testing.T) {
	db := openTestDB(t)
	tx := NewTransactor(db)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := tx.Transact(ctx, func(r Repositories) error {
		if err := r.Pushes.Create(ctx, newPush("tok-tx", nil)); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, err = NewPushRepository(db).GetByToken(ctx, "tok-tx")
	assert.ErrorIs(t, err, ErrPushNotFound)
}

func TestUserRepository_GetByCredentials(t *testing.T) {
	db := openTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.User{Email: "a@example.com", APIToken: "digest"}))

	u, err := repo.GetByCredentials(ctx, "a@example.com", "digest")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)

	_, err = repo.GetByCredentials(ctx, "a@example.com", "other")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
