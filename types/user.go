package types

import (
	"github.com/mitchellh/hashstructure/v2"
)

// UserId is the opaque identity the transport attaches to every inbound event.
type UserId int64

// Endpoint identifies the chat session a notification is delivered to. One user maps to exactly one endpoint at
// a time.
type Endpoint string

type User struct {
	Id   UserId `json:"id"`
	Nick string `json:"nick"`
	Key  string `json:"-"` // e-mail (oidc) or guest nick, unique!
}

// NewUser derives the numeric user id from the stable key, so a reconnecting user keeps the same id.
func NewUser(key, nick string) (User, error) {
	h, err := hashstructure.Hash(key, hashstructure.FormatV2, nil)
	if err != nil {
		return User{}, err
	}
	if nick == "" {
		nick = key
	}
	return User{
		Id:   UserId(h & 0x7fffffffffffffff),
		Nick: nick,
		Key:  key,
	}, nil
}
