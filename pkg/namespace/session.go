package namespace

import (
	"encoding/json"
	"fmt"
	"os"
)

// Session is the ephemeral descriptor handed to the namespace init process
// through a temporary file. It exists only for the duration of the
// provisioning handshake and is removed afterwards.
type Session struct {
	// Name of the namespace, for log attribution inside the init.
	Name string `json:"name"`
	// DNS is the resolver the init bind-mounts over /etc/resolv.conf in
	// its private mount namespace; empty skips the override.
	DNS string `json:"dns,omitempty"`
	// RendezvousPath is the unix socket the init reports readiness on.
	RendezvousPath string `json:"rendezvousPath"`
}

// WriteSession serializes the session descriptor to the given path,
// readable only by the owner.
func WriteSession(path string, session *Session) error {
	contents, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal the session descriptor: %v", err)
	}
	if err := os.WriteFile(path, contents, 0600); err != nil {
		return fmt.Errorf("failed to write the session descriptor: %w", err)
	}
	return nil
}

// LoadSession reads a session descriptor back from its file.
func LoadSession(path string) (*Session, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the session descriptor: %w", err)
	}
	session := &Session{}
	if err := json.Unmarshal(contents, session); err != nil {
		return nil, fmt.Errorf("failed to unmarshall the session descriptor: %w", err)
	}
	if session.RendezvousPath == "" {
		return nil, fmt.Errorf("session descriptor carries no rendezvous path")
	}
	return session, nil
}
