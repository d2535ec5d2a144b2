package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "cosched"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/cosched/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("cosched-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// MailPassword resolves the mailbox password for username. An inline
// password (test setups) wins; otherwise the keyring entry
// "mail:<username>" is used.
func MailPassword(username, inline string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	pw, err := Get("mail:" + username)
	if err != nil {
		return "", fmt.Errorf("no mailbox password configured for %s: %w", username, err)
	}
	return pw, nil
}

// SetMailPassword stores the mailbox password for username in the keyring.
func SetMailPassword(username, password string) error {
	return Set("mail:"+username, password)
}
