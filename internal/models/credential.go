package models

import "time"

// Cookie is one captured browser cookie. A stable local shape is stored rather
// than a browser-specific type so the vault blob survives library upgrades.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only"`
	Secure   bool      `json:"secure"`
	SameSite string    `json:"same_site,omitempty"`
}

// Credential is the plaintext session artifact held inside the vault's
// ciphertext: the login identity plus everything needed to restore the
// authenticated browser state. It exists decrypted only for the scope of a
// single interaction and is never logged.
type Credential struct {
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Cookies    []Cookie          `json:"cookies"`
	Tokens     map[string]string `json:"tokens,omitempty"`
	UserAgent  string            `json:"user_agent"`
	CapturedAt time.Time         `json:"captured_at"`
}
