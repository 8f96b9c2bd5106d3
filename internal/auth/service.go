// Package auth signs clip download links and checks the operator API key.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")
)

const issuer = "vclip-server"

// DownloadClaims bind a download link to one clip of one job.
type DownloadClaims struct {
	JobID  string `json:"jid"`
	ClipID string `json:"cid"`
	jwt.RegisteredClaims
}

type Service struct {
	secret      []byte
	downloadTTL time.Duration
	apiKeyHash  []byte
	now         func() time.Time

	mu       sync.Mutex
	verified map[string]bool
}

// NewService builds the auth service. An empty apiKeyHash disables API key checks.
func NewService(secret string, downloadTTL time.Duration, apiKeyHash string) *Service {
	if downloadTTL <= 0 {
		downloadTTL = 24 * time.Hour
	}
	return &Service{
		secret:      []byte(secret),
		downloadTTL: downloadTTL,
		apiKeyHash:  []byte(strings.TrimSpace(apiKeyHash)),
		now:         time.Now,
		verified:    map[string]bool{},
	}
}

func (s *Service) IssueDownloadToken(jobID, clipID string) (string, error) {
	now := s.now().UTC()
	claims := DownloadClaims{
		JobID:  jobID,
		ClipID: clipID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   jobID + "/" + clipID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.downloadTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return token, nil
}

func (s *Service) ParseDownloadToken(tokenString string) (DownloadClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DownloadClaims{}, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return DownloadClaims{}, ErrTokenExpired
		}
		return DownloadClaims{}, ErrUnauthorized
	}
	claims, ok := token.Claims.(*DownloadClaims)
	if !ok || !token.Valid || claims.JobID == "" || claims.ClipID == "" {
		return DownloadClaims{}, ErrUnauthorized
	}
	return *claims, nil
}

func (s *Service) APIKeyRequired() bool {
	return len(s.apiKeyHash) > 0
}

// CheckAPIKey compares key with the configured bcrypt hash. Keys that already
// matched are remembered by digest so bcrypt runs once per key.
func (s *Service) CheckAPIKey(key string) error {
	if !s.APIKeyRequired() {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrUnauthorized
	}
	digest := hashToken(key)
	s.mu.Lock()
	ok := s.verified[digest]
	s.mu.Unlock()
	if ok {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(key)); err != nil {
		return ErrUnauthorized
	}
	s.mu.Lock()
	s.verified[digest] = true
	s.mu.Unlock()
	return nil
}

// HashAPIKey returns the bcrypt hash to put in configuration.
func HashAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("api key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

func hashToken(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
