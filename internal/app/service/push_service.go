package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PowerPush/config"
	"github.com/sifan077/PowerPush/internal/app/model"
	"github.com/sifan077/PowerPush/internal/app/repository"
	"go.uber.org/zap"
)

var (
	ErrPushExpired        = errors.New("push has expired")
	ErrRetrievalStep      = errors.New("retrieval step required")
	ErrPassphraseRequired = errors.New("passphrase required")
	ErrPassphraseMismatch = errors.New("passphrase incorrect")
	ErrForbidden          = errors.New("not permitted for this push")
	ErrInvalidKind        = errors.New("unknown push kind")
	ErrKindDisabled       = errors.New("push kind is disabled")
	ErrInvalidExpiration  = errors.New("expiration settings out of range")
	ErrInvalidPayload     = errors.New("payload invalid for push kind")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrInvalidPassphrase  = errors.New("passphrase too long")
	ErrTooManyFiles       = errors.New("file count out of range")
	ErrFileTooLarge       = errors.New("file too large")
)

const (
	maxNameLength = 255
	maxQRBytes    = 2048
)

// PushService defines the push lifecycle operations.
type PushService interface {
	CreatePush(ctx context.Context, input CreatePushInput) (*PushView, error)
	// PushStatus returns metadata only and records nothing.
	PushStatus(ctx context.Context, token string) (*PushView, error)
	// RetrievePush is the access gate. Besides an error it may return a
	// metadata-only view (for ErrRetrievalStep, ErrPushExpired and the
	// passphrase errors).
	RetrievePush(ctx context.Context, input AccessInput) (*PushView, error)
	PreviewPush(ctx context.Context, token string, viewer *model.User) (*PushView, error)
	ExpirePush(ctx context.Context, input AccessInput) (*PushView, error)
	ListAudit(ctx context.Context, token string, viewer *model.User, limit, offset int) ([]model.AuditLog, error)
	ListPushes(ctx context.Context, viewer *model.User, expired bool, limit, offset int) ([]PushView, error)
	OpenFile(ctx context.Context, token string, fileID uint) (*model.PushFile, io.ReadCloser, error)
}

// BlobStore holds attachment bytes for file pushes.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// RequestMeta is what the audit log records about the caller.
type RequestMeta struct {
	IP        string
	UserAgent string
	Referrer  string
}

// FileUpload is one attachment of a file push.
type FileUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// CreatePushInput captures data required to create a push. Nil settings
// take the configured defaults.
type CreatePushInput struct {
	Kind              model.PushKind
	Payload           string
	Note              string
	Name              string
	Passphrase        string
	ExpireAfterDays   *int
	ExpireAfterViews  *int
	DeletableByViewer *bool
	RetrievalStep     *bool
	Files             []FileUpload
	Owner             *model.User
	Meta              RequestMeta
}

// AccessInput identifies a push and the caller acting on it.
type AccessInput struct {
	Token      string
	Passphrase string
	Viewer     *model.User
	Meta       RequestMeta
	// StepConfirmed is set once the caller passed the retrieval step.
	StepConfirmed bool
}

// PushView is a push with its derived counters and, when revealed, the
// decrypted payload and note.
type PushView struct {
	Push           *model.Push
	Payload        string
	Note           string
	ViewCount      int64
	DaysRemaining  int
	ViewsRemaining int
}

// Deps groups dependencies required by the push service.
type Deps struct {
	Pushes     repository.PushRepository
	Audits     repository.AuditLogRepository
	Transactor repository.Transactor
	Blobs      BlobStore
	Cipher     *Cipher
	Publisher  AuditPublisher
	Filter     *TokenFilter
	Metrics    *Metrics
	Clock      Clock
	Logger     *zap.Logger
	Limits     config.PushConfig
	// PassphraseCost is the bcrypt cost; zero selects bcrypt.DefaultCost.
	PassphraseCost int
}

// PushManager implements PushService and the sweeper maintenance operations.
type PushManager struct {
	pushes         repository.PushRepository
	audits         repository.AuditLogRepository
	tx             repository.Transactor
	blobs          BlobStore
	cipher         *Cipher
	publisher      AuditPublisher
	filter         *TokenFilter
	metrics        *Metrics
	clock          Clock
	logger         *zap.Logger
	limits         config.PushConfig
	passphraseCost int
}

var _ PushService = (*PushManager)(nil)

// NewPushService returns a service backed by the given repositories.
func NewPushService(deps Deps) *PushManager {
	s := &PushManager{
		pushes:         deps.Pushes,
		audits:         deps.Audits,
		tx:             deps.Transactor,
		blobs:          deps.Blobs,
		cipher:         deps.Cipher,
		publisher:      deps.Publisher,
		filter:         deps.Filter,
		metrics:        deps.Metrics,
		clock:          deps.Clock,
		logger:         deps.Logger,
		limits:         deps.Limits,
		passphraseCost: deps.PassphraseCost,
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// WarmTokenFilter loads every stored token into the token filter.
func (s *PushManager) WarmTokenFilter(ctx context.Context) (int, error) {
	if s.filter == nil {
		return 0, nil
	}
	tokens, err := s.pushes.ListTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm token filter: %w", err)
	}
	for _, t := range tokens {
		s.filter.Add(t)
	}
	return len(tokens), nil
}

func (s *PushManager) CreatePush(ctx context.Context, input CreatePushInput) (*PushView, error) {
	kind := input.Kind
	if kind == "" {
		kind = model.PushKindText
	}
	if err := s.validateKind(kind); err != nil {
		return nil, err
	}
	days, views, err := s.resolveExpiration(input.ExpireAfterDays, input.ExpireAfterViews)
	if err != nil {
		return nil, err
	}
	if err := s.validateContent(kind, input); err != nil {
		return nil, err
	}

	token, err := NewURLToken()
	if err != nil {
		return nil, err
	}
	payload, err := s.cipher.Seal([]byte(input.Payload), token)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}
	note, err := s.cipher.Seal([]byte(input.Note), token)
	if err != nil {
		return nil, fmt.Errorf("seal note: %w", err)
	}
	passphrase, err := digestPassphrase(input.Passphrase, s.passphraseCost)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	push := &model.Push{
		URLToken:          token,
		Kind:              kind,
		Name:              input.Name,
		Payload:           payload,
		Note:              note,
		Passphrase:        passphrase,
		ExpireAfterDays:   days,
		ExpireAfterViews:  views,
		DeletableByViewer: boolOr(input.DeletableByViewer, s.limits.DeletableByViewer),
		RetrievalStep:     boolOr(input.RetrievalStep, s.limits.RetrievalStep),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if input.Owner != nil {
		ownerID := input.Owner.ID
		push.UserID = &ownerID
	}

	if kind == model.PushKindFile {
		if err := s.storeFiles(ctx, push, input.Files); err != nil {
			return nil, err
		}
	}

	var event model.AuditEvent
	err = s.tx.Transact(ctx, func(tx repository.Repositories) error {
		if err := tx.Pushes.Create(ctx, push); err != nil {
			return err
		}
		event, err = s.record(ctx, tx, push, model.AuditCreation, input.Owner, input.Meta, now)
		return err
	})
	if err != nil {
		s.discardFiles(push.Files)
		return nil, fmt.Errorf("create push: %w", err)
	}

	if s.filter != nil {
		s.filter.Add(token)
	}
	s.metrics.pushCreated(kind)
	s.publish(event)

	return s.view(push, 0, now), nil
}

func (s *PushManager) RetrievePush(ctx context.Context, input AccessInput) (*PushView, error) {
	if !s.mayExist(input.Token) {
		return nil, fmt.Errorf("retrieve push: %w", repository.ErrPushNotFound)
	}

	var (
		view    *PushView
		outcome error
		result  txResult
	)
	now := s.clock.Now()
	err := s.tx.Transact(ctx, func(tx repository.Repositories) error {
		result = txResult{}
		push, err := tx.Pushes.GetByTokenForUpdate(ctx, input.Token)
		if err != nil {
			return err
		}
		owner := input.Viewer != nil && push.OwnedBy(input.Viewer.ID)
		views, err := tx.Audits.CountByKinds(ctx, push.ID, model.ViewKinds...)
		if err != nil {
			return err
		}

		if push.RetrievalStep && !input.StepConfirmed && !owner && !ShouldExpire(push, views, now) {
			view = s.view(push, views, now)
			outcome = ErrRetrievalStep
			return nil
		}

		if ShouldExpire(push, views, now) {
			if !push.Expired {
				reason := ExpiryReason(push, views, now)
				if err := s.expireLocked(ctx, tx, push, nil, input.Meta, now, reason, &result); err != nil {
					return err
				}
			}
			if err := result.add(s.record(ctx, tx, push, model.AuditFailedView, input.Viewer, input.Meta, now)); err != nil {
				return err
			}
			view = s.view(push, views+1, now)
			outcome = ErrPushExpired
			return nil
		}

		if push.HasPassphrase() && !owner {
			if input.Passphrase == "" {
				view = s.view(push, views, now)
				outcome = ErrPassphraseRequired
				return nil
			}
			if !passphraseMatches(push.Passphrase, input.Passphrase) {
				if err := result.add(s.record(ctx, tx, push, model.AuditFailedPassphrase, input.Viewer, input.Meta, now)); err != nil {
					return err
				}
				view = s.view(push, views, now)
				outcome = ErrPassphraseMismatch
				return nil
			}
		}

		payload, err := s.cipher.Open(push.Payload, push.URLToken)
		if err != nil {
			return err
		}
		var note []byte
		if owner {
			if note, err = s.cipher.Open(push.Note, push.URLToken); err != nil {
				return err
			}
		}

		kind := model.AuditView
		switch {
		case owner:
			kind = model.AuditOwnerView
		case input.Viewer != nil && input.Viewer.Admin:
			kind = model.AuditAdminView
		}
		if err := result.add(s.record(ctx, tx, push, kind, input.Viewer, input.Meta, now)); err != nil {
			return err
		}

		counted := views
		if kind == model.AuditView {
			counted = views + 1
			if IsLastView(push, views) {
				if err := s.expireLocked(ctx, tx, push, nil, input.Meta, now, "views", &result); err != nil {
					return err
				}
			}
		}

		view = s.view(push, counted, now)
		view.Payload = string(payload)
		view.Note = string(note)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve push: %w", err)
	}

	s.commit(result)
	return view, outcome
}

func (s *PushManager) PushStatus(ctx context.Context, token string) (*PushView, error) {
	if !s.mayExist(token) {
		return nil, fmt.Errorf("push status: %w", repository.ErrPushNotFound)
	}
	push, err := s.pushes.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("push status: %w", err)
	}
	views, err := s.audits.CountByKinds(ctx, push.ID, model.ViewKinds...)
	if err != nil {
		return nil, fmt.Errorf("push status: %w", err)
	}
	now := s.clock.Now()
	view := s.view(push, views, now)
	if ShouldExpire(push, views, now) {
		return view, ErrPushExpired
	}
	return view, nil
}

func (s *PushManager) PreviewPush(ctx context.Context, token string, viewer *model.User) (*PushView, error) {
	push, err := s.loadPrivileged(ctx, token, viewer)
	if err != nil {
		return nil, fmt.Errorf("preview push: %w", err)
	}
	views, err := s.audits.CountByKinds(ctx, push.ID, model.ViewKinds...)
	if err != nil {
		return nil, fmt.Errorf("preview push: %w", err)
	}
	return s.ownerView(push, views)
}

// ExpirePush expires a push on request. Owners and admins skip the passphrase
// since expiring reveals nothing; anyone else needs deletable_by_viewer and
// the passphrase.
func (s *PushManager) ExpirePush(ctx context.Context, input AccessInput) (*PushView, error) {
	if !s.mayExist(input.Token) {
		return nil, fmt.Errorf("expire push: %w", repository.ErrPushNotFound)
	}

	var (
		view    *PushView
		outcome error
		result  txResult
	)
	now := s.clock.Now()
	err := s.tx.Transact(ctx, func(tx repository.Repositories) error {
		result = txResult{}
		push, err := tx.Pushes.GetByTokenForUpdate(ctx, input.Token)
		if err != nil {
			return err
		}
		views, err := tx.Audits.CountByKinds(ctx, push.ID, model.ViewKinds...)
		if err != nil {
			return err
		}
		view = s.view(push, views, now)
		if push.Expired {
			outcome = ErrPushExpired
			return nil
		}

		if !privileged(push, input.Viewer) {
			if !push.DeletableByViewer {
				outcome = ErrForbidden
				return nil
			}
			if push.HasPassphrase() {
				if input.Passphrase == "" {
					outcome = ErrPassphraseRequired
					return nil
				}
				if !passphraseMatches(push.Passphrase, input.Passphrase) {
					outcome = ErrPassphraseMismatch
					return result.add(s.record(ctx, tx, push, model.AuditFailedPassphrase, input.Viewer, input.Meta, now))
				}
			}
		}

		if err := s.expireLocked(ctx, tx, push, input.Viewer, input.Meta, now, "manual", &result); err != nil {
			return err
		}
		view = s.view(push, views, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expire push: %w", err)
	}

	s.commit(result)
	return view, outcome
}

func (s *PushManager) ListAudit(ctx context.Context, token string, viewer *model.User, limit, offset int) ([]model.AuditLog, error) {
	push, err := s.loadPrivileged(ctx, token, viewer)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	logs, err := s.audits.ListByPush(ctx, push.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return logs, nil
}

func (s *PushManager) ListPushes(ctx context.Context, viewer *model.User, expired bool, limit, offset int) ([]PushView, error) {
	if viewer == nil {
		return nil, ErrForbidden
	}
	pushes, err := s.pushes.ListByUser(ctx, viewer.ID, expired, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list pushes: %w", err)
	}

	result := make([]PushView, 0, len(pushes))
	for i := range pushes {
		push := &pushes[i]
		views, err := s.audits.CountByKinds(ctx, push.ID, model.ViewKinds...)
		if err != nil {
			return nil, fmt.Errorf("list pushes: %w", err)
		}
		v, err := s.ownerView(push, views)
		if err != nil {
			return nil, fmt.Errorf("list pushes: %w", err)
		}
		result = append(result, *v)
	}
	return result, nil
}

func (s *PushManager) OpenFile(ctx context.Context, token string, fileID uint) (*model.PushFile, io.ReadCloser, error) {
	if !s.mayExist(token) {
		return nil, nil, fmt.Errorf("open file: %w", repository.ErrPushNotFound)
	}
	push, err := s.pushes.GetByToken(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	file, err := s.pushes.GetFile(ctx, push.ID, fileID)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	if file.Purged {
		return nil, nil, ErrPushExpired
	}
	rc, err := s.blobs.Open(ctx, file.BlobKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	return file, rc, nil
}

// ExpireDue expires every push whose day limit has elapsed and returns how
// many were expired.
func (s *PushManager) ExpireDue(ctx context.Context, batch int) (int, error) {
	now := s.clock.Now()
	// A push younger than a day always has at least one day remaining.
	cutoff := now.Add(-24 * time.Hour)

	var (
		afterID uint
		expired int
	)
	for {
		pushes, err := s.pushes.ListUnexpired(ctx, cutoff, afterID, batch)
		if err != nil {
			return expired, fmt.Errorf("expire due: %w", err)
		}
		for i := range pushes {
			afterID = pushes[i].ID
			if DaysRemaining(&pushes[i], now) > 0 {
				continue
			}
			ok, err := s.expireByAge(ctx, pushes[i].URLToken, now)
			if err != nil {
				return expired, fmt.Errorf("expire due: %w", err)
			}
			if ok {
				expired++
			}
		}
		if batch <= 0 || len(pushes) < batch {
			return expired, nil
		}
	}
}

func (s *PushManager) expireByAge(ctx context.Context, token string, now time.Time) (bool, error) {
	var result txResult
	err := s.tx.Transact(ctx, func(tx repository.Repositories) error {
		result = txResult{}
		push, err := tx.Pushes.GetByTokenForUpdate(ctx, token)
		if err != nil {
			return err
		}
		if push.Expired || DaysRemaining(push, now) > 0 {
			return nil
		}
		return s.expireLocked(ctx, tx, push, nil, RequestMeta{}, now, "days", &result)
	})
	if err != nil {
		return false, err
	}
	s.commit(result)
	return len(result.reasons) > 0, nil
}

// PurgeFiles deletes attachment blobs whose grace period after expiry has
// passed and returns how many were removed.
func (s *PushManager) PurgeFiles(ctx context.Context, batch int) (int, error) {
	files, err := s.pushes.ListFilesDueForPurge(ctx, s.clock.Now(), batch)
	if err != nil {
		return 0, fmt.Errorf("purge files: %w", err)
	}

	purged := 0
	for _, f := range files {
		if err := s.blobs.Delete(ctx, f.BlobKey); err != nil {
			s.logger.Warn("failed to delete blob", zap.Uint("file_id", f.ID), zap.Error(err))
			continue
		}
		if err := s.pushes.MarkFilePurged(ctx, f.ID); err != nil {
			return purged, fmt.Errorf("purge files: %w", err)
		}
		purged++
	}
	s.metrics.purged(purged, 0)
	return purged, nil
}

// PurgeAnonymous deletes anonymous pushes that expired more than olderThan
// ago, together with their audit trail. A non-positive olderThan disables it.
func (s *PushManager) PurgeAnonymous(ctx context.Context, olderThan time.Duration, batch int) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	n, err := s.pushes.DeleteAnonymousExpired(ctx, s.clock.Now().Add(-olderThan), batch)
	if err != nil {
		return n, fmt.Errorf("purge anonymous: %w", err)
	}
	s.metrics.purged(0, n)
	return n, nil
}

// txResult collects what a transaction produced so it can be published
// only after commit.
type txResult struct {
	events  []model.AuditEvent
	reasons []string
}

func (r *txResult) add(event model.AuditEvent, err error) error {
	if err != nil {
		return err
	}
	r.events = append(r.events, event)
	return nil
}

func (s *PushManager) commit(result txResult) {
	for _, reason := range result.reasons {
		s.metrics.expired(reason)
	}
	s.publish(result.events...)
}

// expireLocked expires a push whose row the caller holds locked. It is a
// no-op when the push is already expired.
func (s *PushManager) expireLocked(ctx context.Context, tx repository.Repositories, push *model.Push, by *model.User, meta RequestMeta, now time.Time, reason string, result *txResult) error {
	ok, err := tx.Pushes.Expire(ctx, push.ID, now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if push.Kind == model.PushKindFile {
		if err := tx.Pushes.ScheduleFilePurge(ctx, push.ID, now.Add(s.limits.FileLinkTTL)); err != nil {
			return err
		}
	}

	expiredOn := now
	push.Expired = true
	push.ExpiredOn = &expiredOn
	push.Payload = nil
	push.Passphrase = nil

	if err := result.add(s.record(ctx, tx, push, model.AuditExpire, by, meta, now)); err != nil {
		return err
	}
	result.reasons = append(result.reasons, reason)
	return nil
}

func (s *PushManager) record(ctx context.Context, tx repository.Repositories, push *model.Push, kind model.AuditKind, user *model.User, meta RequestMeta, now time.Time) (model.AuditEvent, error) {
	entry := &model.AuditLog{
		EventID:   uuid.NewString(),
		PushID:    push.ID,
		Kind:      kind,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Referrer:  meta.Referrer,
		CreatedAt: now,
	}
	if user != nil {
		userID := user.ID
		entry.UserID = &userID
	}
	if err := tx.Audits.Create(ctx, entry); err != nil {
		return model.AuditEvent{}, fmt.Errorf("record %s: %w", kind, err)
	}
	return model.AuditEvent{
		ID:        entry.EventID,
		PushID:    push.ID,
		PushKind:  push.Kind,
		Kind:      kind,
		UserID:    entry.UserID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Timestamp: now,
	}, nil
}

func (s *PushManager) publish(events ...model.AuditEvent) {
	for _, event := range events {
		s.metrics.audit(event.Kind)
		if err := s.publisher.Publish(event); err != nil {
			s.logger.Warn("failed to publish audit event",
				zap.String("id", event.ID),
				zap.String("kind", string(event.Kind)),
				zap.Error(err))
		}
	}
}

func (s *PushManager) mayExist(token string) bool {
	if !ValidURLToken(token) {
		return false
	}
	return s.filter == nil || s.filter.MayContain(token)
}

func (s *PushManager) loadPrivileged(ctx context.Context, token string, viewer *model.User) (*model.Push, error) {
	if !s.mayExist(token) {
		return nil, repository.ErrPushNotFound
	}
	push, err := s.pushes.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !privileged(push, viewer) {
		return nil, ErrForbidden
	}
	return push, nil
}

func privileged(push *model.Push, viewer *model.User) bool {
	return viewer != nil && (push.OwnedBy(viewer.ID) || viewer.Admin)
}

func (s *PushManager) view(push *model.Push, views int64, now time.Time) *PushView {
	return &PushView{
		Push:           push,
		ViewCount:      views,
		DaysRemaining:  DaysRemaining(push, now),
		ViewsRemaining: ViewsRemaining(push, views),
	}
}

func (s *PushManager) ownerView(push *model.Push, views int64) (*PushView, error) {
	v := s.view(push, views, s.clock.Now())
	note, err := s.cipher.Open(push.Note, push.URLToken)
	if err != nil {
		return nil, err
	}
	v.Note = string(note)
	return v, nil
}

func (s *PushManager) validateKind(kind model.PushKind) error {
	if !kind.Valid() {
		return ErrInvalidKind
	}
	switch {
	case kind == model.PushKindFile && !s.limits.EnableFiles,
		kind == model.PushKindURL && !s.limits.EnableURLs,
		kind == model.PushKindQR && !s.limits.EnableQR:
		return ErrKindDisabled
	}
	return nil
}

func (s *PushManager) resolveExpiration(days, views *int) (int, int, error) {
	d := s.limits.ExpireAfterDaysDefault
	if days != nil {
		d = *days
	}
	v := s.limits.ExpireAfterViewsDefault
	if views != nil {
		v = *views
	}
	if d < 1 || d > s.limits.ExpireAfterDaysMax || v < 1 || v > s.limits.ExpireAfterViewsMax {
		return 0, 0, ErrInvalidExpiration
	}
	return d, v, nil
}

func (s *PushManager) validateContent(kind model.PushKind, input CreatePushInput) error {
	if len(input.Payload) > s.limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	if s.limits.MaxNoteBytes > 0 && len(input.Note) > s.limits.MaxNoteBytes {
		return ErrPayloadTooLarge
	}
	if len(input.Name) > maxNameLength {
		return ErrInvalidPayload
	}
	if len(input.Passphrase) > maxPassphraseBytes {
		return ErrInvalidPassphrase
	}

	switch kind {
	case model.PushKindText:
		if input.Payload == "" {
			return ErrInvalidPayload
		}
	case model.PushKindQR:
		if input.Payload == "" {
			return ErrInvalidPayload
		}
		if len(input.Payload) > maxQRBytes {
			return ErrPayloadTooLarge
		}
	case model.PushKindURL:
		u, err := url.Parse(input.Payload)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidPayload
		}
	case model.PushKindFile:
		if len(input.Files) == 0 || len(input.Files) > s.limits.MaxFiles {
			return ErrTooManyFiles
		}
		for _, f := range input.Files {
			if f.Size <= 0 || f.Content == nil || f.Filename == "" {
				return ErrInvalidPayload
			}
			if f.Size > s.limits.MaxFileBytes {
				return ErrFileTooLarge
			}
		}
	}
	return nil
}

func (s *PushManager) storeFiles(ctx context.Context, push *model.Push, uploads []FileUpload) error {
	for _, up := range uploads {
		contentType := up.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		key := uuid.NewString()
		if err := s.blobs.Put(ctx, key, up.Content, up.Size); err != nil {
			s.discardFiles(push.Files)
			return fmt.Errorf("store file: %w", err)
		}
		push.Files = append(push.Files, model.PushFile{
			Filename:    up.Filename,
			ContentType: contentType,
			Size:        up.Size,
			BlobKey:     key,
		})
	}
	return nil
}

// discardFiles removes blobs written for a push that was never committed.
func (s *PushManager) discardFiles(files []model.PushFile) {
	for _, f := range files {
		if err := s.blobs.Delete(context.Background(), f.BlobKey); err != nil {
			s.logger.Warn("failed to discard blob", zap.String("blob_key", f.BlobKey), zap.Error(err))
		}
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
