package credentials

import (
	"errors"

	"github.com/zalando/go-keyring"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

const DefaultKeyringService = "apiusage"

// KeyringVault reads secrets from the OS keychain (macOS Keychain, Secret
// Service, Windows Credential Manager). Entries are stored with the service
// kind as the user name.
type KeyringVault struct {
	Service string
}

func NewKeyringVault() KeyringVault {
	return KeyringVault{Service: DefaultKeyringService}
}

func (v KeyringVault) Get(kind core.ServiceKind) (string, error) {
	service := v.Service
	if service == "" {
		service = DefaultKeyringService
	}
	secret, err := keyring.Get(service, string(kind))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return secret, err
}

// Set stores secret for kind, replacing any existing entry.
func (v KeyringVault) Set(kind core.ServiceKind, secret string) error {
	service := v.Service
	if service == "" {
		service = DefaultKeyringService
	}
	return keyring.Set(service, string(kind), secret)
}
