package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingHash     = errors.New("missing hash")
	ErrInvalidHash     = errors.New("invalid hash")
	ErrAuthDateExpired = errors.New("auth_date expired")
	ErrMissingAuthDate = errors.New("missing auth_date")
)

type TelegramUser struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PhotoURL     string `json:"photo_url"`
	LanguageCode string `json:"language_code"`
}

// InitData is a verified Telegram WebApp launch payload.
type InitData struct {
	User     TelegramUser
	AuthDate time.Time
	QueryID  string
	Fields   map[string]string
}

// VerifyInitData checks the WebApp signature of initData. It has no side
// effects and returns the parsed fields only when the hash matches.
// A positive maxAge additionally rejects payloads whose auth_date is older
// than maxAge relative to now.
func VerifyInitData(initData, botToken string, maxAge time.Duration, now time.Time) (url.Values, error) {
	parsed, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("parse initData: %w", err)
	}

	hash := parsed.Get("hash")
	if hash == "" {
		return nil, ErrMissingHash
	}
	parsed.Del("hash")
	// signature is the Ed25519 third-party field, it is not part of the HMAC input
	parsed.Del("signature")

	expected := computeHMAC(buildSecretKey(botToken), buildDataCheckString(parsed))
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrInvalidHash
	}
	if !hmac.Equal(expected, hashBytes) {
		return nil, ErrInvalidHash
	}

	if maxAge > 0 {
		authDate, err := parseAuthDate(parsed.Get("auth_date"))
		if err != nil {
			return nil, err
		}
		if now.Sub(authDate) > maxAge {
			return nil, ErrAuthDateExpired
		}
	}
	return parsed, nil
}

// ValidateInitData verifies initData and decodes the embedded user.
func ValidateInitData(initData, botToken string, maxAge time.Duration) (InitData, error) {
	parsed, err := VerifyInitData(initData, botToken, maxAge, time.Now())
	if err != nil {
		return InitData{}, err
	}

	user, err := parseUser(parsed.Get("user"))
	if err != nil {
		return InitData{}, fmt.Errorf("parse user: %w", err)
	}

	out := InitData{
		User:    user,
		QueryID: parsed.Get("query_id"),
		Fields:  make(map[string]string, len(parsed)),
	}
	if authDate, err := parseAuthDate(parsed.Get("auth_date")); err == nil {
		out.AuthDate = authDate
	}
	for key, values := range parsed {
		if len(values) > 0 {
			out.Fields[key] = values[0]
		}
	}
	return out, nil
}

// SignInitData produces the hash Telegram would attach to values. Used by
// tests and local tooling to mint launch payloads.
func SignInitData(values url.Values, botToken string) string {
	clean := url.Values{}
	for k, v := range values {
		if k == "hash" || k == "signature" {
			continue
		}
		clean[k] = v
	}
	return hex.EncodeToString(computeHMAC(buildSecretKey(botToken), buildDataCheckString(clean)))
}

func buildDataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+values.Get(key))
	}
	return strings.Join(parts, "\n")
}

func buildSecretKey(botToken string) []byte {
	h := hmac.New(sha256.New, []byte("WebAppData"))
	h.Write([]byte(botToken))
	return h.Sum(nil)
}

func computeHMAC(secret []byte, data string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func parseAuthDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, ErrMissingAuthDate
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: not a unix timestamp", ErrMissingAuthDate)
	}
	return time.Unix(sec, 0), nil
}

func parseUser(raw string) (TelegramUser, error) {
	if raw == "" {
		return TelegramUser{}, errors.New("missing user")
	}
	var user TelegramUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return TelegramUser{}, err
	}
	if user.ID == 0 {
		return TelegramUser{}, errors.New("invalid user")
	}
	return user, nil
}
