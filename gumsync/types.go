package gumsync

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/sinanisler/gumroad-api/gumroad"
)

// ProductPolicy decides what a sale of one product provisions.
type ProductPolicy struct {
	AutoProvision bool     `json:"autoProvision"`
	Roles         []string `json:"roles"`
}

// Settings is the operator configuration stored on the connection record.
type Settings struct {
	SalesLimit       int                      `json:"salesLimit" validate:"min=1,max=200"`
	SyncInterval     int                      `json:"syncInterval" validate:"min=60"`
	DefaultRoles     []string                 `json:"defaultRoles"`
	ProductRoles     map[string]ProductPolicy `json:"productRoles"`
	SendWelcomeEmail bool                     `json:"sendWelcomeEmail"`
	EmailSubject     string                   `json:"emailSubject"`
	EmailTemplate    string                   `json:"emailTemplate"`

	HandleRefunds                  bool   `json:"handleRefunds"`
	RefundAction                   string `json:"refundAction" validate:"oneof=remove_roles delete_account"`
	HandleSubscriptions            bool   `json:"handleSubscriptions"`
	SubscriptionCancellationAction string `json:"subscriptionCancellationAction" validate:"oneof=remove_roles delete_account"`

	LogLimit        int `json:"logLimit" validate:"min=1,max=5000"`
	LogRotationDays int `json:"logRotationDays" validate:"min=1"`
}

const (
	ActionRemoveRoles   = "remove_roles"
	ActionDeleteAccount = "delete_account"
)

const defaultEmailTemplate = `Welcome to {{site_name}}!

Thank you for purchasing {{product_name}}. An account has been created for you.

Username: {{username}}
Password: {{password}}

Login here: {{login_url}}

If you prefer to set your own password, use this link: {{password_reset_url}}

{{site_name}}
{{site_url}}`

func DefaultSettings() Settings {
	return Settings{
		SalesLimit:                     50,
		SyncInterval:                   120,
		DefaultRoles:                   []string{"subscriber"},
		ProductRoles:                   map[string]ProductPolicy{},
		SendWelcomeEmail:               true,
		EmailSubject:                   "Welcome to {{site_name}}!",
		EmailTemplate:                  defaultEmailTemplate,
		HandleRefunds:                  true,
		RefundAction:                   ActionRemoveRoles,
		HandleSubscriptions:            true,
		SubscriptionCancellationAction: ActionRemoveRoles,
		LogLimit:                       500,
		LogRotationDays:                30,
	}
}

// NormalizeSettings clamps out-of-range values back to safe defaults rather
// than rejecting an otherwise usable configuration.
func NormalizeSettings(s Settings) Settings {
	def := DefaultSettings()
	if s.SalesLimit < 1 || s.SalesLimit > 200 {
		s.SalesLimit = def.SalesLimit
	}
	if s.SyncInterval < 60 {
		s.SyncInterval = def.SyncInterval
	}
	if s.ProductRoles == nil {
		s.ProductRoles = map[string]ProductPolicy{}
	}
	if s.EmailSubject == "" {
		s.EmailSubject = def.EmailSubject
	}
	if s.EmailTemplate == "" {
		s.EmailTemplate = def.EmailTemplate
	}
	if s.RefundAction != ActionRemoveRoles && s.RefundAction != ActionDeleteAccount {
		s.RefundAction = def.RefundAction
	}
	if s.SubscriptionCancellationAction != ActionRemoveRoles && s.SubscriptionCancellationAction != ActionDeleteAccount {
		s.SubscriptionCancellationAction = def.SubscriptionCancellationAction
	}
	if s.LogLimit < 1 {
		s.LogLimit = def.LogLimit
	}
	if s.LogRotationDays < 1 {
		s.LogRotationDays = def.LogRotationDays
	}
	return s
}

func DecodeSettings(raw []byte) Settings {
	if len(raw) == 0 {
		return DefaultSettings()
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return DefaultSettings()
	}
	return NormalizeSettings(s)
}

func EncodeSettings(s Settings) []byte {
	b, _ := json.Marshal(NormalizeSettings(s))
	return b
}

var validate = validator.New()

// ValidateSettings is the strict check used when an operator submits new
// settings. Decoding stored settings stays lenient via NormalizeSettings.
func ValidateSettings(s Settings) error {
	return validate.Struct(s)
}

// WelcomeMail carries everything the notifier needs to greet a new account.
type WelcomeMail struct {
	To          string
	Username    string
	Password    string
	ProductName string
	Subject     string
	Template    string
}

// EventSource yields recent sale events, oldest first.
type EventSource interface {
	FetchRecentSales(ctx context.Context, limit int) ([]gumroad.Sale, error)
}

// Notifier delivers the welcome mail and reports whether it was accepted.
type Notifier interface {
	SendWelcome(ctx context.Context, mail WelcomeMail) bool
}

// IdentityStore is the local account system the service provisions into.
type IdentityStore interface {
	LookupByEmail(ctx context.Context, email string) (*Account, error)
	LookupByUsername(ctx context.Context, username string) (*Account, error)
	CreateAccount(ctx context.Context, input NewAccount) (*Account, error)
	SetPrimaryRole(ctx context.Context, accountId uint, role string) error
	AddRole(ctx context.Context, accountId uint, role string) error
	RemoveRole(ctx context.Context, accountId uint, role string) error
	DeleteAccount(ctx context.Context, accountId uint) error
}

// Account is the identity-store view of a local account.
type Account struct {
	ID       uint
	Username string
	Email    string
	Roles    []string
}

type NewAccount struct {
	Username string
	Email    string
	Name     string
	Password string // bcrypt hash
	Roles    []string
}

type ConnectRequest struct {
	AccessToken string `json:"accessToken"`
}

type PurgeRequest struct {
	Confirm string `json:"confirm"`
}

type StatusResponse struct {
	Status            string   `json:"status"`
	AccountLabel      string   `json:"accountLabel"`
	LastPassAt        *string  `json:"lastPassAt"`
	LastSuccessPassAt *string  `json:"lastSuccessPassAt"`
	Settings          Settings `json:"settings"`
}
