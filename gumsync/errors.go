package gumsync

import "errors"

var (
	ErrInvalidEmail      = errors.New("sale has no valid email")
	ErrPolicyDisabled    = errors.New("product not configured for provisioning")
	ErrNoRolesConfigured = errors.New("no roles configured for product")
	ErrAccountNotFound   = errors.New("account not found")
)
