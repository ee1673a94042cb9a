package preview

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultTitle       = "CardGift"
	defaultDescription = "Someone sent you a greeting card"
	maxDescription     = 160
)

// Request is the body of POST /api/generate-preview.
type Request struct {
	CardID       string          `json:"cardId"`
	CardData     json.RawMessage `json:"cardData"`
	PreviewImage string          `json:"previewImage"`
}

// Metadata describes the card for link unfurling.
type Metadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Response is returned on success.
type Response struct {
	Success     bool     `json:"success"`
	ImageURL    string   `json:"imageUrl"`
	ShareURL    string   `json:"shareUrl"`
	CardViewURL string   `json:"cardViewUrl"`
	CardID      string   `json:"cardId"`
	Metadata    Metadata `json:"metadata"`
}

type cardFields struct {
	Greeting        string    `json:"greeting"`
	PersonalMessage string    `json:"personalMessage"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Handler builds share metadata for a card. It keeps no state.
type Handler struct {
	baseURL string
	dev     bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler constructs the preview handler. An empty baseURL derives the
// origin from the request.
func NewHandler(baseURL string, dev bool, logger *slog.Logger) *Handler {
	return &Handler{baseURL: strings.TrimRight(baseURL, "/"), dev: dev, logger: logger, now: time.Now}
}

// Handle serves every method on the endpoint so preflight and 405 responses
// carry the CORS headers.
func (h *Handler) Handle(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowMethods, "POST, OPTIONS")
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type")

	switch c.Method() {
	case fiber.MethodOptions:
		c.Status(http.StatusOK)
		return nil
	case fiber.MethodPost:
	default:
		return c.Status(http.StatusMethodNotAllowed).JSON(fiber.Map{"error": "Method not allowed"})
	}

	var req Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	req.CardID = strings.TrimSpace(req.CardID)
	if req.CardID == "" || len(req.CardData) == 0 || string(req.CardData) == "null" {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "cardId and cardData are required"})
	}

	var card cardFields
	if err := json.Unmarshal(req.CardData, &card); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "cardData must be an object"})
	}

	resp, err := h.build(req.CardID, req.PreviewImage, card, h.origin(c))
	if err != nil {
		h.logger.Error("preview generation failed", slog.String("card_id", req.CardID), slog.Any("error", err))
		body := fiber.Map{"error": "Internal server error"}
		if h.dev {
			body["message"] = err.Error()
		}
		return c.Status(http.StatusInternalServerError).JSON(body)
	}
	h.logger.Info("preview generated", slog.String("card_id", req.CardID))
	return c.Status(http.StatusOK).JSON(resp)
}

func (h *Handler) origin(c *fiber.Ctx) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	return c.Protocol() + "://" + c.Hostname()
}

func (h *Handler) build(cardID, image string, card cardFields, origin string) (Response, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return Response{}, err
	}
	if base.Scheme == "" || base.Host == "" {
		return Response{}, errors.New("public base url must be absolute")
	}
	query := url.Values{"id": {cardID}}.Encode()
	share := base.JoinPath("preview.html")
	share.RawQuery = query
	view := base.JoinPath("card-viewer.html")
	view.RawQuery = query

	meta := Metadata{
		Title:       defaultTitle,
		Description: defaultDescription,
		CreatedAt:   card.CreatedAt,
	}
	if g := strings.TrimSpace(card.Greeting); g != "" {
		meta.Title = g
	}
	if m := strings.TrimSpace(card.PersonalMessage); m != "" {
		meta.Description = truncate(m, maxDescription)
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = h.now().UTC()
	}

	return Response{
		Success:     true,
		ImageURL:    image,
		ShareURL:    share.String(),
		CardViewURL: view.String(),
		CardID:      cardID,
		Metadata:    meta,
	}, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
