package security

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 12

	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Claims carries the subject and the role used for authorization decisions.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	JWTSecret         string
	TokenExpiry       time.Duration
	AdminUsername     string
	AdminPasswordHash string

	now func() time.Time
}

func NewAuthService(secret string, expiry time.Duration, adminUser, adminHash string) *AuthService {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &AuthService{
		JWTSecret:         secret,
		TokenExpiry:       expiry,
		AdminUsername:     adminUser,
		AdminPasswordHash: adminHash,
		now:               time.Now,
	}
}

func (a *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *AuthService) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// Authenticate checks the admin credential pair. An unset hash disables
// password login entirely.
func (a *AuthService) Authenticate(username, password string) (string, error) {
	if a.AdminPasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.AdminUsername)) != 1 {
		return "", ErrInvalidCredentials
	}
	if err := a.CompareHashAndPassword(a.AdminPasswordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}
	return RoleAdmin, nil
}

func (a *AuthService) GenerateToken(subject, role string) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.TokenExpiry)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (a *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.Role == "" {
		claims.Role = RoleOperator
	}
	return claims, nil
}
