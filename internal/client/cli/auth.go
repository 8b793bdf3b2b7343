package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/keyfold/keyfold/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for a username and master password and creates a new
// account. The password byte slice is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	if err := a.api.Register(ctx, userName, password); err != nil {
		fmt.Println("Registration failed:", err)
		return err
	}

	fmt.Println("Account created. You can now log in.")
	return nil
}

// Login prompts for credentials and runs the SRP exchange. When the account
// has two-factor enabled it follows up with a code prompt. On success the
// derived vault key is held in memory for the rest of the session.
func (a *App) Login(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter username", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	remember := a.rememberMe()

	result, err := a.api.Login(ctx, userName, password, remember)
	if err != nil {
		fmt.Println("Login failed:", err)
		return err
	}

	if result.TwoFactorRequired {
		code, err := getSimpleText(a.reader, "Enter two-factor code", os.Stdout)
		if err != nil {
			common.WipeByteArray(result.Key)
			return err
		}
		if err := a.api.ValidateTwoFactor(ctx, userName, code, remember); err != nil {
			common.WipeByteArray(result.Key)
			fmt.Println("Two-factor validation failed:", err)
			return err
		}
	}

	a.userName = userName
	a.masterKey = result.Key
	fmt.Println("Logged in.")
	return nil
}

// Enable2FA enrolls the account in TOTP and prints the provisioning URI to
// scan into an authenticator app.
func (a *App) Enable2FA(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Println("Log in first.")
		return nil
	}

	uri, err := a.api.Enable2FA(ctx)
	if err != nil {
		fmt.Println("Enabling two-factor failed:", err)
		return err
	}

	fmt.Println("Two-factor enabled. Add this URI to your authenticator app:")
	fmt.Println(uri)
	return nil
}

// Disable2FA clears the TOTP enrollment.
func (a *App) Disable2FA(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Println("Log in first.")
		return nil
	}

	if err := a.api.Disable2FA(ctx); err != nil {
		fmt.Println("Disabling two-factor failed:", err)
		return err
	}

	fmt.Println("Two-factor disabled.")
	return nil
}

// Logout drops the in-memory key and session state. Nothing is kept on disk,
// so there is nothing else to clear.
func (a *App) Logout(ctx context.Context) error {
	a.forgetSession()
	fmt.Println("Logged out.")
	return nil
}

// rememberMe asks once per login whether to keep the session past the short
// validity window.
func (a *App) rememberMe() bool {
	answer, err := getSimpleText(a.reader, "Stay logged in on this device? (y/N)", os.Stdout)
	if err != nil {
		return false
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}
