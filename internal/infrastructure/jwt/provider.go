package jwtinfra

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-verify-handoff/internal/config"
	"github.com/go-verify-handoff/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// RoleCustomer is the role granted to a phone-verified session.
const RoleCustomer = "customer"

// Claims holds the JWT payload fields. Subject is the verified phone number.
type Claims struct {
	PhoneNumber       string `json:"phone_number"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	VerificationToken string `json:"verification_token"`
	Role              string `json:"role"`
	jwt.RegisteredClaims
}

// Provider signs and verifies RS256 JWTs.
type Provider struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	expiry     time.Duration
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	privBytes, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return &Provider{privateKey: privKey, publicKey: pubKey, expiry: cfg.JWTExpiry}, nil
}

// Sign issues a customer token for a verified profile.
func (p *Provider) Sign(profile *domain.Profile, verificationToken string) (string, error) {
	if profile == nil || profile.PhoneNumber == "" {
		return "", errors.New("profile has no phone number")
	}
	now := time.Now()
	claims := Claims{
		PhoneNumber:       profile.PhoneNumber,
		Name:              profile.Name,
		Email:             profile.Email,
		VerificationToken: verificationToken,
		Role:              RoleCustomer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.PhoneNumber,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(p.privateKey)
}

func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.publicKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
