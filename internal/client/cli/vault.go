package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/keyfold/keyfold/internal/vaultcipher"
)

// vaultVersion is the payload format version stamped on uploads.
const vaultVersion = "1.0.0"

// Get fetches the current vault, decrypts it locally, and prints the
// contents. When the server reports a revision conflict the candidate
// revisions are decrypted and shown so the user can pick what to keep.
func (a *App) Get(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Println("Log in first.")
		return nil
	}

	result, err := a.api.GetVault(ctx)
	if err != nil {
		fmt.Println("Fetch failed:", err)
		return err
	}

	if result.Status == "MergeRequired" {
		fmt.Printf("Server holds %d conflicting revisions. Resolve by choosing one and running put:\n", len(result.Vaults))
		for _, v := range result.Vaults {
			a.printVault(v.Blob, v.CurrentRevisionNumber, v.UpdatedAt.String())
		}
		if len(result.Vaults) > 0 {
			a.lastRevision = result.Vaults[0].CurrentRevisionNumber
		}
		return nil
	}

	if result.Vault == nil {
		fmt.Println("Vault is empty.")
		return nil
	}
	a.lastRevision = result.Vault.CurrentRevisionNumber
	if len(result.Vault.Blob) == 0 {
		fmt.Println("Vault is empty.")
		return nil
	}
	a.printVault(result.Vault.Blob, result.Vault.CurrentRevisionNumber, result.Vault.UpdatedAt.String())
	return nil
}

// Put reads new vault contents from the terminal, encrypts them, and uploads
// a revision on top of the last one seen. On a merge conflict nothing was
// stored; the user is told to get first.
func (a *App) Put(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Println("Log in first.")
		return nil
	}

	text, err := GetMultiline(a.reader, "Enter vault contents", os.Stdout)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Println("Nothing to store.")
		return nil
	}

	blob, err := vaultcipher.Encrypt([]byte(text), a.masterKey)
	if err != nil {
		fmt.Println("Encryption failed:", err)
		return err
	}

	result, err := a.api.UploadVault(ctx, blob, vaultVersion, a.lastRevision)
	if err != nil {
		fmt.Println("Upload failed:", err)
		return err
	}

	if result.Status == "MergeRequired" {
		fmt.Println("The server has newer revisions. Run get, merge your changes, then put again.")
		return nil
	}

	a.lastRevision = result.NewRevisionNumber
	fmt.Printf("Stored as revision %d.\n", result.NewRevisionNumber)
	return nil
}

// Status shows the account and sync state as the server sees it.
func (a *App) Status(ctx context.Context) error {
	if !a.isLoggedIn() {
		fmt.Println("Log in first.")
		return nil
	}

	status, err := a.api.Status(ctx)
	if err != nil {
		fmt.Println("Status failed:", err)
		return err
	}

	fmt.Printf("User: %s\nServer revision: %d\nLocal revision: %d\n",
		status.Username, status.RevisionNumber, a.lastRevision)
	return nil
}

func (a *App) printVault(blob []byte, revision int64, updated string) {
	plaintext, err := vaultcipher.Decrypt(blob, a.masterKey)
	if err != nil {
		fmt.Printf("--- revision %d (%s): cannot decrypt: %v\n", revision, updated, err)
		return
	}
	fmt.Printf("--- revision %d (%s):\n%s\n", revision, updated, plaintext)
}
