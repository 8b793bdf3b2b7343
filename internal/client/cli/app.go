// Package cli implements the interactive keyfold client. It drives a small
// REPL over the API client: authentication, then encrypted vault reads and
// writes. All cryptography happens on this side of the wire; the server only
// ever sees ciphertext and SRP public values.
package cli

import (
	"bufio"
	"context"
	"os"

	"github.com/keyfold/keyfold/internal/client/client"
	"github.com/keyfold/keyfold/internal/client/config"
	"github.com/keyfold/keyfold/internal/common"
)

// apiClient is the surface of client.Client the commands use. Tests provide
// a stub.
type apiClient interface {
	Register(ctx context.Context, username string, password []byte) error
	Login(ctx context.Context, username string, password []byte, rememberMe bool) (*client.LoginResult, error)
	ValidateTwoFactor(ctx context.Context, username, code string, rememberMe bool) error
	Enable2FA(ctx context.Context) (string, error)
	Disable2FA(ctx context.Context) error
	GetVault(ctx context.Context) (*client.GetResult, error)
	UploadVault(ctx context.Context, blob []byte, version string, currentRevisionNumber int64) (*client.UploadResult, error)
	Status(ctx context.Context) (*client.Status, error)
}

// App holds the interactive session state: the API client, the logged-in
// user, the in-memory vault key, and the last revision seen from the server.
type App struct {
	config *config.Config
	api    apiClient
	reader *bufio.Reader

	userName     string
	masterKey    []byte
	lastRevision int64
}

// NewApp wires an App to a real API client.
func NewApp(c *config.Config) *App {
	return &App{
		config: c,
		api:    client.NewClient(c),
		reader: bufio.NewReader(os.Stdin),
	}
}

func (a *App) isLoggedIn() bool {
	return a.masterKey != nil
}

func (a *App) showLogin() string {
	if a.isLoggedIn() {
		return a.userName
	}
	return "not logged in"
}

// Run starts the REPL and blocks until the user exits or stdin closes. The
// vault key is wiped on the way out.
func (a *App) Run(ctx context.Context) {
	defer a.forgetSession()
	runREPL(ctx, a, a.showLogin, bufio.NewScanner(os.Stdin))
}

// forgetSession drops the in-memory credentials.
func (a *App) forgetSession() {
	common.WipeByteArray(a.masterKey)
	a.masterKey = nil
	a.userName = ""
	a.lastRevision = 0
}
