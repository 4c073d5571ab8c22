package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	accessTokenKey  = "SAFEVOICE_ACCESS_TOKEN"
	refreshTokenKey = "SAFEVOICE_REFRESH_TOKEN"
)

// Tokens is the persisted credential pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

func (t Tokens) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// Keystore is durable client-side storage for the token pair. Save and
// Clear write both keys or neither.
type Keystore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context) error
}

// FileKeystore keeps the pair in a dotenv-format file readable only by the
// current user.
type FileKeystore struct {
	path string
}

func NewFileKeystore(path string) *FileKeystore {
	return &FileKeystore{path: path}
}

func (k *FileKeystore) Load(context.Context) (Tokens, error) {
	values, err := godotenv.Read(k.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Tokens{}, nil
		}
		return Tokens{}, fmt.Errorf("read keystore: %w", err)
	}
	return Tokens{AccessToken: values[accessTokenKey], RefreshToken: values[refreshTokenKey]}, nil
}

// Save writes a temporary file and renames it over the old one.
func (k *FileKeystore) Save(_ context.Context, tokens Tokens) error {
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	tmp := k.path + ".tmp"
	if err := godotenv.Write(map[string]string{
		accessTokenKey:  tokens.AccessToken,
		refreshTokenKey: tokens.RefreshToken,
	}, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write keystore: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod keystore: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace keystore: %w", err)
	}
	return nil
}

func (k *FileKeystore) Clear(context.Context) error {
	if err := os.Remove(k.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear keystore: %w", err)
	}
	return nil
}
