// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// tokenCookie is the fallback credential location for browser clients,
// which cannot set an Authorization header on a websocket handshake.
const tokenCookie = "token"

var (
	errNoCredentials      = errors.New("no credentials supplied")
	errInvalidCredentials = errors.New("invalid credentials")
)

// wsClaims are the JWT claims Hubcast expects on a sync connection.
type wsClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// authenticate resolves the connecting user. With a configured JWT secret the
// bearer token (header or cookie) is validated with HS256. Without one the
// listener trusts the user_id query parameter, which is only suitable for
// local development.
func (s *Server) authenticate(r *http.Request) (int64, error) {
	if s.cfg.JWTSecret == "" {
		raw := r.URL.Query().Get("user_id")
		if raw == "" {
			return 0, errNoCredentials
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: malformed user_id", errInvalidCredentials)
		}
		return id, nil
	}

	tokenStr := extractToken(r)
	if tokenStr == "" {
		return 0, errNoCredentials
	}

	token, err := jwt.ParseWithClaims(tokenStr, &wsClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errInvalidCredentials, err)
	}

	claims, ok := token.Claims.(*wsClaims)
	if !ok || !token.Valid {
		return 0, errInvalidCredentials
	}
	if claims.UserID <= 0 {
		return 0, fmt.Errorf("%w: missing user_id claim", errInvalidCredentials)
	}
	return claims.UserID, nil
}

// extractToken pulls the bearer token from the Authorization header, falling
// back to the token cookie.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token := strings.TrimSpace(parts[1])
			if token != "" {
				return token
			}
		}
	}

	cookie, err := r.Cookie(tokenCookie)
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}
