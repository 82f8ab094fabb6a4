package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/routecodex/routecodex/pkg/types"
)

// tokenFile is the on-disk shape for an OAuth credential file under
// <home>/.routecodex/auth/*.json (spec.md §6).
type tokenFile struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Scope        string    `json:"scope,omitempty"`
}

// FileLoader loads and persists credentials under a directory of JSON
// files, grounded on examples/qwen-oauth-flow's saveToConfig atomic
// temp-file-then-rename pattern, generalized from YAML to the spec's JSON
// per-credential layout.
type FileLoader struct {
	Dir string
}

// NewFileLoader builds a loader rooted at dir (typically
// <home>/.routecodex/auth).
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{Dir: dir}
}

func (l *FileLoader) path(id string) string {
	return filepath.Join(l.Dir, id+".json")
}

// Load resolves a CredentialDef into an initial Credential. For apiKey
// credentials, SecretRef is the literal key or a path to a file containing
// it; for OAuth credentials, SecretRef is ignored and the per-credential
// token file is read instead. A missing or unparsable token file makes Load
// return an error; Store's New treats any Load error as fatal for the whole
// store, not only for that credential.
func (l *FileLoader) Load(def types.CredentialDef) (*types.Credential, error) {
	cred := &types.Credential{ID: def.ID, ProviderID: def.ProviderID, AliasIndex: def.AliasIndex, State: types.CredentialReady}

	switch def.AuthKind {
	case types.AuthKindAPIKey:
		secret := def.SecretRef
		if data, err := os.ReadFile(def.SecretRef); err == nil {
			secret = string(trimNewline(data))
		}
		cred.StaticSecret = secret
		return cred, nil

	case types.AuthKindOAuthDevice, types.AuthKindOAuthPKCE:
		data, err := os.ReadFile(l.path(def.ID))
		if err != nil {
			return nil, fmt.Errorf("read token file for %s: %w", def.ID, err)
		}
		var tf tokenFile
		if err := json.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("parse token file for %s: %w", def.ID, err)
		}
		cred.Token = &types.Token{Value: tf.AccessToken, ExpiresAt: tf.ExpiresAt, RefreshToken: tf.RefreshToken, Scope: tf.Scope}
		return cred, nil

	case types.AuthKindNone:
		return cred, nil

	default:
		return nil, fmt.Errorf("unknown authKind %q for credential %s", def.AuthKind, def.ID)
	}
}

// Save atomically persists a refreshed OAuth credential: write to a temp
// file in the same directory, then rename, so a concurrent reader never
// observes a partially written file. File permissions are 0600 per spec.md
// §4.2/§6.
func (l *FileLoader) Save(id string, cred *types.Credential) error {
	if cred.Token == nil {
		return nil
	}
	if err := os.MkdirAll(l.Dir, 0700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	data, err := json.MarshalIndent(tokenFile{
		AccessToken:  cred.Token.Value,
		RefreshToken: cred.Token.RefreshToken,
		ExpiresAt:    cred.Token.ExpiresAt,
		Scope:        cred.Token.Scope,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token file: %w", err)
	}

	tmp := l.path(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := os.Rename(tmp, l.path(id)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename token file: %w", err)
	}
	return nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
