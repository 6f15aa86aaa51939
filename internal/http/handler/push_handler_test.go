package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerPush/internal/app/model"
	"github.com/sifan077/PowerPush/internal/app/repository"
	"github.com/sifan077/PowerPush/internal/app/service"
	"github.com/sifan077/PowerPush/internal/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "q2Xo0hV3m8Jf7aKZtL1p9w"

type mockPushService struct {
	createFn   func(ctx context.Context, input service.CreatePushInput) (*service.PushView, error)
	statusFn   func(ctx context.Context, token string) (*service.PushView, error)
	retrieveFn func(ctx context.Context, input service.AccessInput) (*service.PushView, error)
	previewFn  func(ctx context.Context, token string, viewer *model.User) (*service.PushView, error)
	expireFn   func(ctx context.Context, input service.AccessInput) (*service.PushView, error)
	auditFn    func(ctx context.Context, token string, viewer *model.User, limit, offset int) ([]model.AuditLog, error)
	listFn     func(ctx context.Context, viewer *model.User, expired bool, limit, offset int) ([]service.PushView, error)
	openFileFn func(ctx context.Context, token string, fileID uint) (*model.PushFile, io.ReadCloser, error)
}

func (m *mockPushService) CreatePush(ctx context.Context, input service.CreatePushInput) (*service.PushView, error) {
	return m.createFn(ctx, input)
}

func (m *mockPushService) PushStatus(ctx context.Context, token string) (*service.PushView, error) {
	return m.statusFn(ctx, token)
}

func (m *mockPushService) RetrievePush(ctx context.Context, input service.AccessInput) (*service.PushView, error) {
	return m.retrieveFn(ctx, input)
}

func (m *mockPushService) PreviewPush(ctx context.Context, token string, viewer *model.User) (*service.PushView, error) {
	return m.previewFn(ctx, token, viewer)
}

func (m *mockPushService) ExpirePush(ctx context.Context, input service.AccessInput) (*service.PushView, error) {
	return m.expireFn(ctx, input)
}

func (m *mockPushService) ListAudit(ctx context.Context, token string, viewer *model.User, limit, offset int) ([]model.AuditLog, error) {
	return m.auditFn(ctx, token, viewer, limit, offset)
}

func (m *mockPushService) ListPushes(ctx context.Context, viewer *model.User, expired bool, limit, offset int) ([]service.PushView, error) {
	return m.listFn(ctx, viewer, expired, limit, offset)
}

func (m *mockPushService) OpenFile(ctx context.Context, token string, fileID uint) (*model.PushFile, io.ReadCloser, error) {
	return m.openFileFn(ctx, token, fileID)
}

type stubUsers struct{}

func (stubUsers) Create(context.Context, *model.User) error { return nil }

func (stubUsers) GetByCredentials(_ context.Context, email, digest string) (*model.User, error) {
	if email == "owner@example.com" && digest == middleware.DigestAPIToken("secret") {
		return &model.User{ID: 1, Email: email}, nil
	}
	return nil, repository.ErrUserNotFound
}

func newTestApp(svc service.PushService) (*fiber.App, *PushHandler) {
	app := fiber.New()
	app.Use(middleware.Authenticate(stubUsers{}, zap.NewNop()))
	h := NewPushHandler(PushDeps{
		Pushes:       svc,
		BaseURL:      "https://pw.example.com/",
		Secret:       []byte("0123456789abcdef"),
		RetrievalTTL: time.Minute,
		FileLinkTTL:  time.Minute,
	})
	h.Register(app)
	return app, h
}

func textView(payload string) *service.PushView {
	return &service.PushView{
		Push: &model.Push{
			URLToken:         testToken,
			Kind:             model.PushKindText,
			ExpireAfterDays:  7,
			ExpireAfterViews: 5,
		},
		Payload:        payload,
		DaysRemaining:  7,
		ViewsRemaining: 4,
		ViewCount:      1,
	}
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestPushHandler_CreatePush(t *testing.T) {
	var got service.CreatePushInput
	svc := &mockPushService{
		createFn: func(ctx context.Context, input service.CreatePushInput) (*service.PushView, error) {
			got = input
			return textView(""), nil
		},
	}
	app, _ := newTestApp(svc)

	req := httptest.NewRequest(fiber.MethodPost, "/p.json", strings.NewReader(`{"payload":"hunter2","expire_after_views":2,"deletable_by_viewer":false}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(middleware.UserEmailHeader, "owner@example.com")
	req.Header.Set(middleware.UserTokenHeader, "secret")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "https://pw.example.com/p/"+testToken+".json", body["url"])
	assert.NotContains(t, body, "payload")

	assert.Equal(t, "hunter2", got.Payload)
	require.NotNil(t, got.ExpireAfterViews)
	assert.Equal(t, 2, *got.ExpireAfterViews)
	require.NotNil(t, got.DeletableByViewer)
	assert.False(t, *got.DeletableByViewer)
	assert.Nil(t, got.ExpireAfterDays)
	require.NotNil(t, got.Owner)
	assert.EqualValues(t, 1, got.Owner.ID)
}

func TestPushHandler_CreatePush_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "bad json", body: `{`, status: fiber.StatusBadRequest},
		{name: "bad kind", body: `{"kind":"audio","payload":"x"}`, status: fiber.StatusBadRequest},
		{name: "range", body: `{"payload":"x"}`, err: service.ErrInvalidExpiration, status: fiber.StatusBadRequest},
		{name: "too large", body: `{"payload":"x"}`, err: service.ErrPayloadTooLarge, status: fiber.StatusRequestEntityTooLarge},
		{name: "internal", body: `{"payload":"x"}`, err: errors.New("db down"), status: fiber.StatusInternalServerError},
		{name: "file as json", body: `{"kind":"file"}`, status: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPushService{
				createFn: func(ctx context.Context, input service.CreatePushInput) (*service.PushView, error) {
					return nil, tt.err
				},
			}
			app, _ := newTestApp(svc)

			req := httptest.NewRequest(fiber.MethodPost, "/p.json", strings.NewReader(tt.body))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decode(t, resp)["error"])
		})
	}
}

func TestPushHandler_CreateFilePush(t *testing.T) {
	var got service.CreatePushInput
	var content []byte
	svc := &mockPushService{
		createFn: func(ctx context.Context, input service.CreatePushInput) (*service.PushView, error) {
			got = input
			var err error
			content, err = io.ReadAll(input.Files[0].Content)
			if err != nil {
				return nil, err
			}
			return textView(""), nil
		},
	}
	app, _ := newTestApp(svc)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("kind", "file"))
	require.NoError(t, w.WriteField("expire_after_days", "2"))
	fw, err := w.CreateFormFile("files", "id_rsa")
	require.NoError(t, err)
	_, err = fw.Write([]byte("PRIVATE"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(fiber.MethodPost, "/p.json", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	assert.Equal(t, model.PushKindFile, got.Kind)
	require.NotNil(t, got.ExpireAfterDays)
	assert.Equal(t, 2, *got.ExpireAfterDays)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "id_rsa", got.Files[0].Filename)
	assert.EqualValues(t, 7, got.Files[0].Size)
	assert.Equal(t, "PRIVATE", string(content))
}

func TestPushHandler_RetrievePush(t *testing.T) {
	var got service.AccessInput
	svc := &mockPushService{
		retrieveFn: func(ctx context.Context, input service.AccessInput) (*service.PushView, error) {
			got = input
			return textView("hunter2"), nil
		},
	}
	app, _ := newTestApp(svc)

	req := httptest.NewRequest(fiber.MethodGet, "/p/"+testToken+".json", nil)
	req.Header.Set(middleware.PassphraseHeader, "pw")
	req.Header.Set(fiber.HeaderUserAgent, "curl/8")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	assert.Equal(t, "hunter2", body["payload"])
	assert.EqualValues(t, 4, body["views_remaining"])

	assert.Equal(t, testToken, got.Token)
	assert.Equal(t, "pw", got.Passphrase)
	assert.Equal(t, "curl/8", got.Meta.UserAgent)
	assert.Nil(t, got.Viewer)
	assert.False(t, got.StepConfirmed)
}

func TestPushHandler_RetrievePush_Errors(t *testing.T) {
	expiredOn := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expired := textView("")
	expired.Push.Expired = true
	expired.Push.ExpiredOn = &expiredOn

	tests := []struct {
		name   string
		view   *service.PushView
		err    error
		status int
		key    string
	}{
		{name: "not found", err: repository.ErrPushNotFound, status: fiber.StatusNotFound},
		{name: "expired", view: expired, err: service.ErrPushExpired, status: fiber.StatusGone, key: "expired_on"},
		{name: "passphrase required", view: textView(""), err: service.ErrPassphraseRequired, status: fiber.StatusUnauthorized, key: "passphrase_required"},
		{name: "passphrase mismatch", view: textView(""), err: service.ErrPassphraseMismatch, status: fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockPushService{
				retrieveFn: func(ctx context.Context, input service.AccessInput) (*service.PushView, error) {
					return tt.view, tt.err
				},
			}
			app, _ := newTestApp(svc)

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/p/"+testToken+".json", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode(t, resp)
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body, "payload")
			if tt.key != "" {
				assert.Contains(t, body, tt.key)
			}
		})
	}
}

func TestPushHandler_RetrievalStep(t *testing.T) {
	var confirmed []bool
	svc := &mockPushService{
		retrieveFn: func(ctx context.Context, input service.AccessInput) (*service.PushView, error) {
			confirmed = append(confirmed, input.StepConfirmed)
			if !input.StepConfirmed {
				return textView(""), service.ErrRetrievalStep
			}
			return textView("hunter2"), nil
		},
	}
	app, _ := newTestApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/p/"+testToken+".json?rt=forged", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, true, body["retrieval_step"])

	continueURL, err := url.Parse(body["continue_url"].(string))
	require.NoError(t, err)
	assert.Equal(t, "/p/"+testToken+".json", continueURL.Path)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, continueURL.RequestURI(), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "hunter2", decode(t, resp)["payload"])

	assert.Equal(t, []bool{false, true}, confirmed)
}

func TestPushHandler_RetrievalStepEndpoint(t *testing.T) {
	svc := &mockPushService{
		statusFn: func(ctx context.Context, token string) (*service.PushView, error) {
			if token != testToken {
				return nil, repository.ErrPushNotFound
			}
			return textView(""), nil
		},
	}
	app, _ := newTestApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/p/"+testToken+"/r.json", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["continue_url"], "rt=")

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/p/AAAAAAAAAAAAAAAAAAAAAA/r.json", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPushHandler_OwnerRoutesRequireUser(t *testing.T) {
	app, _ := newTestApp(&mockPushService{})

	for _, path := range []string{
		"/p/active.json",
		"/p/expired.json",
		"/p/" + testToken + "/preview.json",
		"/p/" + testToken + "/audit.json",
	} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestPushHandler_ListActive(t *testing.T) {
	var expiredArg *bool
	var gotLimit, gotOffset int
	svc := &mockPushService{
		listFn: func(ctx context.Context, viewer *model.User, expired bool, limit, offset int) ([]service.PushView, error) {
			expiredArg = &expired
			gotLimit, gotOffset = limit, offset
			return []service.PushView{*textView("")}, nil
		},
	}
	app, _ := newTestApp(svc)

	req := httptest.NewRequest(fiber.MethodGet, "/p/active.json?limit=5&offset=10", nil)
	req.Header.Set(middleware.UserEmailHeader, "owner@example.com")
	req.Header.Set(middleware.UserTokenHeader, "secret")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decode(t, resp)["count"])
	require.NotNil(t, expiredArg)
	assert.False(t, *expiredArg)
	assert.Equal(t, 5, gotLimit)
	assert.Equal(t, 10, gotOffset)
}

func TestPushHandler_ExpirePush(t *testing.T) {
	svc := &mockPushService{
		expireFn: func(ctx context.Context, input service.AccessInput) (*service.PushView, error) {
			if input.Passphrase != "pw" {
				return textView(""), service.ErrForbidden
			}
			v := textView("")
			v.Push.Expired = true
			return v, nil
		},
	}
	app, _ := newTestApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodDelete, "/p/"+testToken+".json", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodDelete, "/p/"+testToken+".json?passphrase=pw", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["expired"])
}

func TestPushHandler_DownloadFile(t *testing.T) {
	file := model.PushFile{ID: 4, Filename: "id_rsa", ContentType: "text/plain", Size: 7}
	svc := &mockPushService{
		retrieveFn: func(ctx context.Context, input service.AccessInput) (*service.PushView, error) {
			v := textView("")
			v.Push.Kind = model.PushKindFile
			v.Push.Files = []model.PushFile{file}
			return v, nil
		},
		openFileFn: func(ctx context.Context, token string, fileID uint) (*model.PushFile, io.ReadCloser, error) {
			if fileID != file.ID {
				return nil, nil, repository.ErrFileNotFound
			}
			return &file, io.NopCloser(strings.NewReader("PRIVATE")), nil
		},
	}
	app, _ := newTestApp(svc)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/p/"+testToken+".json", nil))
	require.NoError(t, err)
	var body struct {
		Files []FileResponse `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Files, 1)
	require.NotEmpty(t, body.Files[0].URL)

	link, err := url.Parse(body.Files[0].URL)
	require.NoError(t, err)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, link.RequestURI(), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "PRIVATE", string(data))
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), "id_rsa")

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/p/"+testToken+"/files/4?sig=forged", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
