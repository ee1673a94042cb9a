package dataservice

import (
	"time"
)

// Level is a user's privilege class.
type Level int

const (
	LevelFree Level = iota
	LevelActivated
	LevelMiniAdmin
	LevelSuperAdmin
)

// String returns the tier name used in quota reports.
func (l Level) String() string {
	switch l {
	case LevelActivated:
		return "ACTIVATED"
	case LevelMiniAdmin:
		return "MINI_ADMIN"
	case LevelSuperAdmin:
		return "SUPER_ADMIN"
	default:
		return "FREE"
	}
}

// Supported messengers.
const (
	MessengerEmail     = "email"
	MessengerTelegram  = "telegram"
	MessengerWhatsApp  = "whatsapp"
	MessengerViber     = "viber"
	MessengerInstagram = "instagram"
	MessengerFacebook  = "facebook"
	MessengerTikTok    = "tiktok"
	MessengerTwitter   = "twitter"
)

// Card defaults.
const (
	DefaultStyle        = "classic"
	DefaultTextPosition = "bottom"
	DefaultQRPosition   = "bottomRight"
	DefaultQRSize       = 100
	DefaultCTAPosition  = "bottom"
	DefaultTimers       = `{"message":0,"button":3,"banner":5}`
)

// Security log events.
const (
	EventUserRegistered     = "user_registered"
	EventRegistrationFailed = "registration_failed"
	EventUserActivated      = "user_activated"
	EventCardCreated        = "card_created"
	EventCardDeleted        = "card_deleted"
	EventDataRestored       = "data_restored"
	EventUserDataCleared    = "user_data_cleared"
	EventLedgerDrift        = "ledger_drift"
)

const (
	// BackupVersion tags backups and security log exports.
	BackupVersion = "1.0.0"
	// MaxSecurityLogs caps the persisted security log.
	MaxSecurityLogs = 100
)

// User is the locally persisted user record.
type User struct {
	UserID           string     `json:"userId"`
	Name             string     `json:"name"`
	Messenger        string     `json:"messenger"`
	Contact          string     `json:"contact"`
	ReferrerID       string     `json:"referrerId"`
	WalletAddress    string     `json:"walletAddress"`
	Level            Level      `json:"level"`
	IsActive         bool       `json:"isActive"`
	CardCount        int        `json:"cardCount"`
	RegistrationDate time.Time  `json:"registrationDate"`
	DataHash         string     `json:"dataHash"`
	ActivationDate   *time.Time `json:"activationDate,omitempty"`
	ActivationTxHash string     `json:"activationTxHash,omitempty"`
}

// Card is a greeting card.
type Card struct {
	CardID          string     `json:"cardId"`
	UserID          string     `json:"userId"`
	Greeting        string     `json:"greeting"`
	PersonalMessage string     `json:"personalMessage"`
	VideoURL        string     `json:"videoUrl"`
	Style           string     `json:"style"`
	TextPosition    string     `json:"textPosition"`
	QREnabled       bool       `json:"qrEnabled"`
	QRURL           string     `json:"qrUrl"`
	QRPosition      string     `json:"qrPosition"`
	QRSize          int        `json:"qrSize"`
	CTAEnabled      bool       `json:"ctaEnabled"`
	CTATitle        string     `json:"ctaTitle"`
	CTAButton       string     `json:"ctaButton"`
	CTAURL          string     `json:"ctaUrl"`
	CTAPosition     string     `json:"ctaPosition"`
	BannerEnabled   bool       `json:"bannerEnabled"`
	BannerHTML      string     `json:"bannerHtml"`
	BannerURL       string     `json:"bannerUrl"`
	Timers          string     `json:"timers"`
	MediaType       string     `json:"mediaType,omitempty"`
	MediaURL        string     `json:"mediaUrl,omitempty"`
	ContentHash     string     `json:"contentHash"`
	CreatedAt       time.Time  `json:"createdAt"`
	ViewCount       int        `json:"viewCount"`
	IsArchived      bool       `json:"isArchived"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
}

// Referral is one entry of a referrer's stats.
type Referral struct {
	UserID string    `json:"userId"`
	Date   time.Time `json:"date"`
}

// ReferralStats is persisted per referrer under the referralStats key.
type ReferralStats struct {
	Total     int        `json:"total"`
	ThisMonth int        `json:"thisMonth"`
	Referrals []Referral `json:"referrals"`
}

// ReferralSummary is the merged local and ledger view of a user's referrals.
type ReferralSummary struct {
	Total           int    `json:"total"`
	ActiveThisMonth int    `json:"activeThisMonth"`
	DirectReferrals []User `json:"directReferrals"`
	Earnings        string `json:"earnings"`
}

// SecurityLogEntry is one audit record.
type SecurityLogEntry struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// SecurityStats summarises the security log.
type SecurityStats struct {
	TotalEvents         int        `json:"totalEvents"`
	Registrations       int        `json:"registrations"`
	Activations         int        `json:"activations"`
	CardsCreated        int        `json:"cardsCreated"`
	FailedRegistrations int        `json:"failedRegistrations"`
	LastActivity        *time.Time `json:"lastActivity"`
}

// SecurityLogExport is the downloadable form of the security log.
type SecurityLogExport struct {
	Version    string             `json:"version"`
	ExportedAt time.Time          `json:"exportedAt"`
	Logs       []SecurityLogEntry `json:"logs"`
}

// LimitInfo reports a user's card quota.
type LimitInfo struct {
	CanCreate    bool   `json:"canCreate"`
	CurrentCount int    `json:"currentCount"`
	Limit        int    `json:"limit"`
	UserLevel    string `json:"userLevel"`
	Remaining    int    `json:"remaining"`
}

// Backup bundles a user's data with an integrity checksum.
type Backup struct {
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	User      User            `json:"user"`
	Referrals ReferralSummary `json:"referrals"`
	Cards     []Card          `json:"cards"`
	Checksum  string          `json:"checksum"`
}

// Contact is a referral as shown to admins.
type Contact struct {
	UserID           string    `json:"userId"`
	Name             string    `json:"name"`
	Contact          string    `json:"contact"`
	RegistrationDate time.Time `json:"registrationDate"`
	Level            Level     `json:"level"`
	ReferrerID       string    `json:"referrerId"`
	DataHash         string    `json:"dataHash"`
}

// RegisterInput is untrusted registration data.
type RegisterInput struct {
	Name          string `json:"name"`
	Messenger     string `json:"messenger"`
	Contact       string `json:"contact"`
	ReferrerID    string `json:"referrerId"`
	ReferralID    string `json:"referralId"`
	WalletAddress string `json:"walletAddress"`
}

// Media is an uploaded file attached to a card.
type Media struct {
	ContentType string
	Data        []byte
}

// CardInput is untrusted card data. ActingAddress is the wallet issuing the request.
type CardInput struct {
	UserID          string `json:"userId" form:"userId"`
	Greeting        string `json:"greeting" form:"greeting"`
	PersonalMessage string `json:"personalMessage" form:"personalMessage"`
	VideoURL        string `json:"videoUrl" form:"videoUrl"`
	Style           string `json:"style" form:"style"`
	TextPosition    string `json:"textPosition" form:"textPosition"`
	QREnabled       bool   `json:"qrEnabled" form:"qrEnabled"`
	QRURL           string `json:"qrUrl" form:"qrUrl"`
	QRPosition      string `json:"qrPosition" form:"qrPosition"`
	QRSize          int    `json:"qrSize" form:"qrSize"`
	CTAEnabled      bool   `json:"ctaEnabled" form:"ctaEnabled"`
	CTATitle        string `json:"ctaTitle" form:"ctaTitle"`
	CTAButton       string `json:"ctaButton" form:"ctaButton"`
	CTAURL          string `json:"ctaUrl" form:"ctaUrl"`
	CTAPosition     string `json:"ctaPosition" form:"ctaPosition"`
	BannerEnabled   bool   `json:"bannerEnabled" form:"bannerEnabled"`
	BannerHTML      string `json:"bannerHtml" form:"bannerHtml"`
	BannerURL       string `json:"bannerUrl" form:"bannerUrl"`
	Timers          string `json:"timers" form:"timers"`

	Media         *Media `json:"-" form:"-"`
	ActingAddress string `json:"-" form:"-"`
}

// ActivateInput records a paid activation.
type ActivateInput struct {
	Level         Level  `json:"level"`
	WalletAddress string `json:"walletAddress"`
	TxHash        string `json:"txHash"`
}

// CreatedCard is returned by CreateCard.
type CreatedCard struct {
	CardID  string `json:"cardId"`
	ViewURL string `json:"viewUrl"`
}
