package push

import (
	"bytes"
	"encoding/hex"
)

// Token is the opaque address a backend uses to target a push at one app
// instance on one channel. Holders never share the underlying array.
type Token []byte

// ParseHexToken decodes the conventional hex text form of a device token.
func ParseHexToken(s string) (Token, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return Token(b), nil
}

// Clone returns an independent copy, or nil for an empty token.
func (t Token) Clone() Token {
	if len(t) == 0 {
		return nil
	}
	out := make(Token, len(t))
	copy(out, t)
	return out
}

func (t Token) Equal(o Token) bool { return bytes.Equal(t, o) }

func (t Token) IsEmpty() bool { return len(t) == 0 }

// Hex is the lowercase hex encoding used on the wire and in storage.
func (t Token) Hex() string { return hex.EncodeToString(t) }

// Redacted is safe to log: the first four bytes only.
func (t Token) Redacted() string {
	if len(t) <= 4 {
		return t.Hex()
	}
	return hex.EncodeToString(t[:4]) + "..."
}

// TokenChangeKind tells subscribers whether a token arrived or was lost.
type TokenChangeKind int

const (
	TokenUpdated TokenChangeKind = iota + 1
	TokenLost
)

func (k TokenChangeKind) String() string {
	switch k {
	case TokenUpdated:
		return "updated"
	case TokenLost:
		return "lost"
	default:
		return "unknown"
	}
}

// TokenChange describes one actual change of a channel's current token.
// Token is empty for TokenLost; Previous is the value that was replaced.
type TokenChange struct {
	Channel  Channel
	Kind     TokenChangeKind
	Token    Token
	Previous Token
	Reason   string
}
