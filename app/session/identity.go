package session

import (
	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"
)

const clientIDKey = "comfyq_client_id"

// LoadClientID returns the stable per-installation client identifier,
// creating and persisting a fresh one on first call. An unreadable store
// yields a new identity, a returning user with broken storage is treated
// as new.
func LoadClientID(st Store) string {
	if id, ok, err := st.Get(clientIDKey); err == nil && ok && id != "" {
		return id
	} else if err != nil {
		log.Printf("[WARN] can't read client id, generating new one: %v", err)
	}

	id := newClientID()
	if err := st.Set(clientIDKey, id); err != nil {
		log.Printf("[WARN] can't persist client id: %v", err)
	}
	log.Printf("[INFO] generated client id %s", id)
	return id
}

func newClientID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
