package auth

import (
	"fmt"
	"net/url"

	"github.com/pquerna/otp/totp"
)

const (
	totpIssuer = "PKI-Server"
)

// GenerateTOTPSecret generates a new TOTP secret for the admin account
func GenerateTOTPSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return key.Secret(), nil
}

// GenerateQRCodeURL generates an otpauth URL for TOTP setup
func GenerateQRCodeURL(secret, account string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.QueryEscape(totpIssuer),
		url.QueryEscape(account),
		secret,
		url.QueryEscape(totpIssuer))
}

// ValidateTOTP validates a TOTP code against a secret
func ValidateTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}
