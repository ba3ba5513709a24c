package gateway

import (
	"crypto/subtle"
	"os"

	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/protocol"
)

// Auth modes.
const (
	AuthToken    = "token"
	AuthPassword = "password"
	AuthNone     = "none"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the credentials the server accepts.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth resolves credentials from config, falling back to
// ENVIEII_GATEWAY_PASSWORD for the password.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Password == "" {
		auth.Password = os.Getenv("ENVIEII_GATEWAY_PASSWORD")
	}
	if auth.Mode == "" {
		if auth.Password != "" {
			auth.Mode = AuthPassword
		} else {
			auth.Mode = AuthToken
		}
	}
	return auth
}

// Authorize checks client credentials against the server's.
func Authorize(server ResolvedAuth, client *protocol.ConnectAuth) AuthResult {
	if server.Mode == AuthNone {
		return AuthResult{OK: true, Method: AuthNone}
	}
	if client == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	switch server.Mode {
	case AuthToken:
		if server.Token == "" {
			return AuthResult{Reason: "server token not configured"}
		}
		if client.Token == "" {
			return AuthResult{Reason: "token required"}
		}
		if !safeEqual(client.Token, server.Token) {
			return AuthResult{Reason: "token_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthToken}

	case AuthPassword:
		if server.Password == "" {
			return AuthResult{Reason: "server password not configured"}
		}
		if client.Password == "" {
			return AuthResult{Reason: "password required"}
		}
		if !safeEqual(client.Password, server.Password) {
			return AuthResult{Reason: "password_mismatch"}
		}
		return AuthResult{OK: true, Method: AuthPassword}

	default:
		return AuthResult{Reason: "unknown auth mode: " + server.Mode}
	}
}

// safeEqual compares in constant time without leaking the secret length.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
