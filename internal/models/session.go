package models

import "time"

// Credentials are the portal login inputs.
type Credentials struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	SecurityCode     string `json:"securityCode"`
	VerificationCode string `json:"verificationCode,omitempty"`
	IsSecondStep     bool   `json:"isSecondStep,omitempty"`
	// CaseID is the case the operator intends to open after login.
	CaseID string `json:"caseId,omitempty"`
}

// Complete reports whether the first-step fields are all present.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != "" && c.SecurityCode != ""
}

// Cookie is a browser cookie captured after login. It is opaque to
// everything except the browser package.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	HTTPOnly bool      `json:"httpOnly,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	SameSite string    `json:"sameSite,omitempty"`
}

// AuthResult is the outcome of a login attempt.
type AuthResult struct {
	Success              bool     `json:"success"`
	Message              string   `json:"message"`
	RequiresSecondFactor bool     `json:"requiresSecondFactor,omitempty"`
	Reason               string   `json:"reason,omitempty"`
	Cookies              []Cookie `json:"-"`
}

// Login failure reasons.
const (
	ReasonBadCredentials = "bad_credentials"
	ReasonSecondFactor   = "second_factor_required"
	ReasonCaptcha        = "captcha_blocked"
	ReasonNavigation     = "navigation_failed"
	ReasonInvalidInput   = "invalid_input"
)
