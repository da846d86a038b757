package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleSystem    Role = "sys"
	RoleUser      Role = "usr"
	RoleAssistant Role = "ast"
	RoleFunction  Role = "func"
)

var openAIRoles = map[Role]string{
	RoleSystem:    "system",
	RoleUser:      "user",
	RoleAssistant: "assistant",
	RoleFunction:  "function",
}

// Roles lists every valid role.
func Roles() []Role { return []Role{RoleSystem, RoleUser, RoleAssistant, RoleFunction} }

// ParseRole accepts the short form ("usr") in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// RoleFromOpenAI maps a chat-completion role ("assistant") to a Role.
func RoleFromOpenAI(s string) (Role, error) {
	for r, name := range openAIRoles {
		if name == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: openai role %q", ErrInvalidRole, s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := openAIRoles[r]
	return ok
}

// OpenAI returns the chat-completion name of r.
func (r Role) OpenAI() string { return openAIRoles[r] }

// Upper is the message ID prefix for r.
func (r Role) Upper() string { return strings.ToUpper(string(r)) }

func (r Role) String() string { return string(r) }

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRole, string(b))
	}
	v, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}
