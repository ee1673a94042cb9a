package dataservice

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	walletHeader         = "X-Wallet-Address"
	backupPasswordHeader = "X-Backup-Password"
)

// Handler exposes the data service over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs a data service handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch Code(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeQuotaExceeded:
		return http.StatusConflict
	case CodeMediaTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case CodeContentRejected, CodeIntegrity:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeStorageQuota:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.service.logger.Error("request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	return c.Status(status).JSON(Fail(err))
}

func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(OK(data))
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(http.StatusBadRequest).JSON(Fail(&ValidationError{Messages: []string{msg}}))
}

// RegisterUser handles POST /users.
func (h *Handler) RegisterUser(c *fiber.Ctx) error {
	var req RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	u, err := h.service.RegisterUser(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, u)
}

// GetUser handles GET /users/:id.
func (h *Handler) GetUser(c *fiber.Ctx) error {
	u, err := h.service.GetUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, u)
}

// ClearUser handles DELETE /users/:id.
func (h *Handler) ClearUser(c *fiber.Ctx) error {
	if err := h.service.ClearUserData(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, fiber.Map{"userId": c.Params("id")})
}

// ActivateUser handles POST /users/:id/activate.
func (h *Handler) ActivateUser(c *fiber.Ctx) error {
	var req ActivateInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.WalletAddress == "" {
		req.WalletAddress = c.Get(walletHeader)
	}
	u, err := h.service.ActivateUser(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, u)
}

// CheckLimit handles GET /users/:id/limit.
func (h *Handler) CheckLimit(c *fiber.Ctx) error {
	info, err := h.service.CheckUserLimit(c.UserContext(), c.Params("id"), c.Get(walletHeader))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, info)
}

// UserCards handles GET /users/:id/cards.
func (h *Handler) UserCards(c *fiber.Ctx) error {
	cards, err := h.service.GetUserCards(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, cards)
}

// Referrals handles GET /users/:id/referrals.
func (h *Handler) Referrals(c *fiber.Ctx) error {
	summary, err := h.service.GetUserReferrals(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, summary)
}

// Contacts handles GET /users/:id/contacts.
func (h *Handler) Contacts(c *fiber.Ctx) error {
	contacts, err := h.service.GetUserContacts(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, contacts)
}

// Backup handles GET /users/:id/backup. With X-Backup-Password set the
// backup is returned sealed.
func (h *Handler) Backup(c *fiber.Ctx) error {
	b, err := h.service.BackupUserData(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	password := c.Get(backupPasswordHeader)
	if password == "" {
		return ok(c, http.StatusOK, fiber.Map{"backup": b})
	}
	sealed, err := h.service.SealBackup(b, password)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, fiber.Map{"sealed": sealed})
}

type restoreRequest struct {
	Backup *Backup `json:"backup"`
	Sealed string  `json:"sealed"`
}

// Restore handles POST /users/:id/restore.
func (h *Handler) Restore(c *fiber.Ctx) error {
	var req restoreRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	var b Backup
	switch {
	case req.Sealed != "":
		opened, err := h.service.OpenBackup(req.Sealed, c.Get(backupPasswordHeader))
		if err != nil {
			return h.fail(c, err)
		}
		b = opened
	case req.Backup != nil:
		b = *req.Backup
	default:
		return badRequest(c, "backup or sealed is required")
	}

	if err := h.service.RestoreUserData(c.UserContext(), b, c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, fiber.Map{"userId": c.Params("id"), "cards": len(b.Cards)})
}

// CreateCard handles POST /cards as JSON or multipart with an optional media file.
func (h *Handler) CreateCard(c *fiber.Ctx) error {
	var req CardInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.ActingAddress = c.Get(walletHeader)

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		media, err := readMedia(c)
		if err != nil {
			return badRequest(c, "invalid media upload")
		}
		req.Media = media
	}

	created, err := h.service.CreateCard(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, created)
}

func readMedia(c *fiber.Ctx) (*Media, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	files := form.File["media"]
	if len(files) == 0 {
		return nil, nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &Media{ContentType: fh.Header.Get(fiber.HeaderContentType), Data: data}, nil
}

// GetCard handles GET /cards/:id.
func (h *Handler) GetCard(c *fiber.Ctx) error {
	card, err := h.service.GetCard(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, card)
}

// ViewCard handles POST /cards/:id/view.
func (h *Handler) ViewCard(c *fiber.Ctx) error {
	card, err := h.service.RecordCardView(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, fiber.Map{"cardId": card.CardID, "viewCount": card.ViewCount})
}

// DeleteCard handles DELETE /cards/:id. The owner comes from the userId query
// parameter.
func (h *Handler) DeleteCard(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return badRequest(c, "field userId is required")
	}
	if err := h.service.DeleteCard(c.UserContext(), c.Params("id"), userID); err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, fiber.Map{"cardId": c.Params("id"), "archived": true})
}

// SecurityStats handles GET /security/stats.
func (h *Handler) SecurityStats(c *fiber.Ctx) error {
	stats, err := h.service.SecurityStats(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, stats)
}

// SecurityLogs handles GET /security/logs.
func (h *Handler) SecurityLogs(c *fiber.Ctx) error {
	export, err := h.service.ExportSecurityLogs(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="security-logs.json"`)
	return ok(c, http.StatusOK, export)
}
