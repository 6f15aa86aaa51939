package handler

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerPush/internal/app/model"
	"github.com/sifan077/PowerPush/internal/app/repository"
	"github.com/sifan077/PowerPush/internal/app/service"
	"github.com/sifan077/PowerPush/internal/http/middleware"
	httpUtil "github.com/sifan077/PowerPush/internal/http/util"
	"github.com/sifan077/PowerPush/internal/infra/blob"
	"go.uber.org/zap"
)

const (
	retrievalPurpose = "retrieve"
	filePurpose      = "file"
)

// PushDeps groups dependencies required by push handlers.
type PushDeps struct {
	Logger       *zap.Logger
	Pushes       service.PushService
	BaseURL      string
	Secret       []byte
	RetrievalTTL time.Duration
	FileLinkTTL  time.Duration
}

// PushHandler implements the push JSON API.
type PushHandler struct {
	logger     *zap.Logger
	pushes     service.PushService
	baseURL    string
	retrievals *httpUtil.TokenSigner
	fileLinks  *httpUtil.TokenSigner
	validate   *validator.Validate
}

// NewPushHandler creates a push handler with the provided dependencies.
func NewPushHandler(deps PushDeps) *PushHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushHandler{
		logger:     logger,
		pushes:     deps.Pushes,
		baseURL:    strings.TrimRight(deps.BaseURL, "/"),
		retrievals: httpUtil.NewTokenSigner(deps.Secret, retrievalPurpose, deps.RetrievalTTL),
		fileLinks:  httpUtil.NewTokenSigner(deps.Secret, filePurpose, deps.FileLinkTTL),
		validate:   validator.New(),
	}
}

// Register wires push routes onto the provided router. Static routes are
// registered ahead of the token routes they would otherwise collide with.
func (h *PushHandler) Register(router fiber.Router) {
	p := router.Group("/p")
	{
		router.Post("/p.json", h.CreatePush)
		p.Get("/active.json", middleware.RequireUser(), h.ListActive)
		p.Get("/expired.json", middleware.RequireUser(), h.ListExpired)
		p.Get("/:token.json", h.RetrievePush)
		p.Delete("/:token.json", h.ExpirePush)
		p.Get("/:token/r.json", h.RetrievalStep)
		p.Get("/:token/preview.json", middleware.RequireUser(), h.PreviewPush)
		p.Get("/:token/audit.json", middleware.RequireUser(), h.ListAudit)
		p.Get("/:token/files/:id", h.DownloadFile)
	}
}

// CreatePushRequest represents the request body for creating a push. It is
// accepted as JSON or, for file pushes, as multipart form fields.
type CreatePushRequest struct {
	Kind              string `json:"kind" form:"kind" validate:"omitempty,oneof=text file url qr"`
	Payload           string `json:"payload" form:"payload"`
	Note              string `json:"note" form:"note"`
	Name              string `json:"name" form:"name" validate:"max=255"`
	Passphrase        string `json:"passphrase" form:"passphrase" validate:"max=72"`
	ExpireAfterDays   *int   `json:"expire_after_days" form:"expire_after_days" validate:"omitempty,min=1"`
	ExpireAfterViews  *int   `json:"expire_after_views" form:"expire_after_views" validate:"omitempty,min=1"`
	DeletableByViewer *bool  `json:"deletable_by_viewer" form:"deletable_by_viewer"`
	RetrievalStep     *bool  `json:"retrieval_step" form:"retrieval_step"`
}

// PushResponse is the JSON shape of a push.
type PushResponse struct {
	URLToken          string         `json:"url_token"`
	Kind              model.PushKind `json:"kind"`
	Name              string         `json:"name,omitempty"`
	Payload           *string        `json:"payload,omitempty"`
	Note              string         `json:"note,omitempty"`
	Passphrase        bool           `json:"passphrase_protected"`
	ExpireAfterDays   int            `json:"expire_after_days"`
	ExpireAfterViews  int            `json:"expire_after_views"`
	DaysRemaining     int            `json:"days_remaining"`
	ViewsRemaining    int            `json:"views_remaining"`
	Views             int64          `json:"views"`
	Expired           bool           `json:"expired"`
	ExpiredOn         *time.Time     `json:"expired_on"`
	DeletableByViewer bool           `json:"deletable_by_viewer"`
	RetrievalStep     bool           `json:"retrieval_step"`
	URL               string         `json:"url,omitempty"`
	Files             []FileResponse `json:"files,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// FileResponse describes one attachment. URL is only set on a successful view.
type FileResponse struct {
	ID          uint       `json:"id"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	Size        int64      `json:"size"`
	URL         string     `json:"url,omitempty"`
	ExpiresAt   *time.Time `json:"url_expires_at,omitempty"`
}

// CreatePush handles POST /p.json
func (h *PushHandler) CreatePush(c *fiber.Ctx) error {
	var req CreatePushRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validationMessage(err),
		})
	}

	input := service.CreatePushInput{
		Kind:              model.PushKind(req.Kind),
		Payload:           req.Payload,
		Note:              req.Note,
		Name:              req.Name,
		Passphrase:        req.Passphrase,
		ExpireAfterDays:   req.ExpireAfterDays,
		ExpireAfterViews:  req.ExpireAfterViews,
		DeletableByViewer: req.DeletableByViewer,
		RetrievalStep:     req.RetrievalStep,
		Owner:             middleware.CurrentUser(c),
		Meta:              requestMeta(c),
	}

	if input.Kind == model.PushKindFile {
		files, err := openUploads(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "files must be sent as multipart form data",
			})
		}
		defer files.Close()
		input.Files = files.uploads
	}

	view, err := h.pushes.CreatePush(userContext(c), input)
	if err != nil {
		return h.writeError(c, err, "create push")
	}

	resp := h.pushResponse(view)
	resp.URL = h.secretURL(view.Push)
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// RetrievePush handles GET /p/:token.json
func (h *PushHandler) RetrievePush(c *fiber.Ctx) error {
	token := c.Params("token")
	input := service.AccessInput{
		Token:         token,
		Passphrase:    passphrase(c),
		Viewer:        middleware.CurrentUser(c),
		Meta:          requestMeta(c),
		StepConfirmed: h.stepConfirmed(token, c.Query("rt")),
	}

	view, err := h.pushes.RetrievePush(userContext(c), input)
	if errors.Is(err, service.ErrRetrievalStep) {
		return h.retrievalStep(c, token)
	}
	if err != nil {
		return h.writeViewError(c, view, err, "retrieve push")
	}

	resp := h.pushResponse(view)
	resp.Payload = &view.Payload
	resp.Files = h.signedFiles(view.Push)
	return c.JSON(resp)
}

// RetrievalStep handles GET /p/:token/r.json
func (h *PushHandler) RetrievalStep(c *fiber.Ctx) error {
	token := c.Params("token")
	view, err := h.pushes.PushStatus(userContext(c), token)
	if err != nil {
		return h.writeViewError(c, view, err, "push status")
	}
	return h.retrievalStep(c, token)
}

func (h *PushHandler) retrievalStep(c *fiber.Ctx, token string) error {
	rt, expires, err := h.retrievals.Issue(token)
	if err != nil {
		h.logger.Error("failed to issue retrieval token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to prepare retrieval",
		})
	}
	return c.JSON(fiber.Map{
		"retrieval_step": true,
		"continue_url":   fmt.Sprintf("%s/p/%s.json?rt=%s", h.baseURL, token, rt),
		"expires_at":     expires,
	})
}

// PreviewPush handles GET /p/:token/preview.json
func (h *PushHandler) PreviewPush(c *fiber.Ctx) error {
	view, err := h.pushes.PreviewPush(userContext(c), c.Params("token"), middleware.CurrentUser(c))
	if err != nil {
		return h.writeError(c, err, "preview push")
	}

	resp := h.pushResponse(view)
	resp.URL = h.secretURL(view.Push)
	return c.JSON(resp)
}

// ExpirePush handles DELETE /p/:token.json
func (h *PushHandler) ExpirePush(c *fiber.Ctx) error {
	view, err := h.pushes.ExpirePush(userContext(c), service.AccessInput{
		Token:      c.Params("token"),
		Passphrase: passphrase(c),
		Viewer:     middleware.CurrentUser(c),
		Meta:       requestMeta(c),
	})
	if err != nil {
		return h.writeViewError(c, view, err, "expire push")
	}
	return c.JSON(h.pushResponse(view))
}

// ListAudit handles GET /p/:token/audit.json
func (h *PushHandler) ListAudit(c *fiber.Ctx) error {
	limit, offset := pagination(c, 50)
	logs, err := h.pushes.ListAudit(userContext(c), c.Params("token"), middleware.CurrentUser(c), limit, offset)
	if err != nil {
		return h.writeError(c, err, "list audit")
	}
	return c.JSON(fiber.Map{
		"audit_logs": logs,
		"limit":      limit,
		"offset":     offset,
		"count":      len(logs),
	})
}

// ListActive handles GET /p/active.json
func (h *PushHandler) ListActive(c *fiber.Ctx) error {
	return h.listPushes(c, false)
}

// ListExpired handles GET /p/expired.json
func (h *PushHandler) ListExpired(c *fiber.Ctx) error {
	return h.listPushes(c, true)
}

func (h *PushHandler) listPushes(c *fiber.Ctx, expired bool) error {
	limit, offset := pagination(c, 20)
	views, err := h.pushes.ListPushes(userContext(c), middleware.CurrentUser(c), expired, limit, offset)
	if err != nil {
		return h.writeError(c, err, "list pushes")
	}

	response := make([]PushResponse, len(views))
	for i := range views {
		response[i] = h.pushResponse(&views[i])
		response[i].URL = h.secretURL(views[i].Push)
	}
	return c.JSON(fiber.Map{
		"pushes": response,
		"limit":  limit,
		"offset": offset,
		"count":  len(response),
	})
}

// DownloadFile handles GET /p/:token/files/:id
func (h *PushHandler) DownloadFile(c *fiber.Ctx) error {
	token := c.Params("token")
	fileID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "file not found",
		})
	}

	if err := h.fileLinks.Validate(fileSubject(token, uint(fileID)), c.Query("sig")); err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "download link is invalid or has expired",
		})
	}

	file, rc, err := h.pushes.OpenFile(userContext(c), token, uint(fileID))
	if err != nil {
		return h.writeError(c, err, "open file")
	}

	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.SendStream(rc, int(file.Size))
}

func (h *PushHandler) stepConfirmed(token, rt string) bool {
	return rt != "" && h.retrievals.Validate(token, rt) == nil
}

func (h *PushHandler) secretURL(push *model.Push) string {
	if push.RetrievalStep {
		return fmt.Sprintf("%s/p/%s/r.json", h.baseURL, push.URLToken)
	}
	return fmt.Sprintf("%s/p/%s.json", h.baseURL, push.URLToken)
}

func (h *PushHandler) signedFiles(push *model.Push) []FileResponse {
	files := make([]FileResponse, 0, len(push.Files))
	for _, f := range push.Files {
		resp := fileResponse(f)
		if !f.Purged {
			sig, expires, err := h.fileLinks.Issue(fileSubject(push.URLToken, f.ID))
			if err != nil {
				h.logger.Error("failed to sign file link", zap.Uint("file_id", f.ID), zap.Error(err))
			} else {
				resp.URL = fmt.Sprintf("%s/p/%s/files/%d?sig=%s", h.baseURL, push.URLToken, f.ID, sig)
				resp.ExpiresAt = &expires
			}
		}
		files = append(files, resp)
	}
	return files
}

func (h *PushHandler) pushResponse(view *service.PushView) PushResponse {
	p := view.Push
	resp := PushResponse{
		URLToken:          p.URLToken,
		Kind:              p.Kind,
		Name:              p.Name,
		Note:              view.Note,
		Passphrase:        p.HasPassphrase(),
		ExpireAfterDays:   p.ExpireAfterDays,
		ExpireAfterViews:  p.ExpireAfterViews,
		DaysRemaining:     view.DaysRemaining,
		ViewsRemaining:    view.ViewsRemaining,
		Views:             view.ViewCount,
		Expired:           p.Expired,
		ExpiredOn:         p.ExpiredOn,
		DeletableByViewer: p.DeletableByViewer,
		RetrievalStep:     p.RetrievalStep,
		CreatedAt:         p.CreatedAt,
	}
	for _, f := range p.Files {
		resp.Files = append(resp.Files, fileResponse(f))
	}
	return resp
}

func fileResponse(f model.PushFile) FileResponse {
	return FileResponse{
		ID:          f.ID,
		Filename:    f.Filename,
		ContentType: f.ContentType,
		Size:        f.Size,
	}
}

func fileSubject(token string, fileID uint) string {
	return token + "/" + strconv.FormatUint(uint64(fileID), 10)
}

// writeViewError is writeError for the gate operations, which return push
// metadata alongside expiry.
func (h *PushHandler) writeViewError(c *fiber.Ctx, view *service.PushView, err error, action string) error {
	if errors.Is(err, service.ErrPushExpired) && view != nil {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error":      err.Error(),
			"expired":    true,
			"expired_on": view.Push.ExpiredOn,
		})
	}
	return h.writeError(c, err, action)
}

func (h *PushHandler) writeError(c *fiber.Ctx, err error, action string) error {
	status := fiber.StatusInternalServerError
	message := "internal server error"
	body := fiber.Map{}

	switch {
	case errors.Is(err, repository.ErrPushNotFound),
		errors.Is(err, repository.ErrFileNotFound),
		errors.Is(err, blob.ErrBlobNotFound):
		status, message = fiber.StatusNotFound, "push not found"
	case errors.Is(err, service.ErrPushExpired):
		status, message = fiber.StatusGone, err.Error()
	case errors.Is(err, service.ErrPassphraseRequired):
		status, message = fiber.StatusUnauthorized, err.Error()
		body["passphrase_required"] = true
	case errors.Is(err, service.ErrPassphraseMismatch),
		errors.Is(err, service.ErrForbidden):
		status, message = fiber.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrPayloadTooLarge),
		errors.Is(err, service.ErrFileTooLarge):
		status, message = fiber.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, service.ErrInvalidKind),
		errors.Is(err, service.ErrKindDisabled),
		errors.Is(err, service.ErrInvalidExpiration),
		errors.Is(err, service.ErrInvalidPayload),
		errors.Is(err, service.ErrInvalidPassphrase),
		errors.Is(err, service.ErrTooManyFiles):
		status, message = fiber.StatusBadRequest, err.Error()
	default:
		h.logger.Error("failed to "+action, zap.Error(err))
	}

	body["error"] = message
	return c.Status(status).JSON(body)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
	}
	return "invalid request body"
}

func passphrase(c *fiber.Ctx) string {
	if v := c.Get(middleware.PassphraseHeader); v != "" {
		return v
	}
	return c.Query("passphrase")
}

func requestMeta(c *fiber.Ctx) service.RequestMeta {
	return service.RequestMeta{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Referrer:  c.Get(fiber.HeaderReferer),
	}
}

func pagination(c *fiber.Ctx, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0

	if parsed := c.QueryInt("limit"); parsed > 0 && parsed <= 100 {
		limit = parsed
	}
	if parsed := c.QueryInt("offset"); parsed >= 0 {
		offset = parsed
	}
	return limit, offset
}

func userContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

type uploadSet struct {
	uploads []service.FileUpload
	files   []multipart.File
}

func (u *uploadSet) Close() {
	for _, f := range u.files {
		_ = f.Close()
	}
}

func openUploads(c *fiber.Ctx) (*uploadSet, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}

	set := &uploadSet{}
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			set.Close()
			return nil, err
		}
		set.files = append(set.files, f)
		set.uploads = append(set.uploads, service.FileUpload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Size:        fh.Size,
			Content:     f,
		})
	}
	return set, nil
}
