package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/pdfstore/internal/domain"
)

// RoleAdmin: роль с доступом к управлению купонами.
const RoleAdmin = "admin"

const sessionKey = "session"

// Claims: содержимое токена сессии (HS256).
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Session: аутентифицированный пользователь запроса.
type Session struct {
	UserID string
	Email  string
	Role   string
}

// Authenticator проверяет bearer-токены.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator создаёт проверку токенов с общим секретом.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Issue выпускает токен. Используется в тестах и dev-окружении.
func (a *Authenticator) Issue(userID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse проверяет подпись, срок и издателя токена.
func (a *Authenticator) Parse(raw string) (Session, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
	}
	if claims.Subject == "" && claims.Email == "" {
		return Session{}, fmt.Errorf("%w: token has no subject", domain.ErrAuthentication)
	}
	return Session{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// optionalSession кладёт сессию в контекст, если передан валидный токен.
// Невалидный токен отклоняется: клиент явно пытался аутентифицироваться.
func (a *Authenticator) optionalSession() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c)
			if !ok {
				return next(c)
			}
			session, err := a.Parse(raw)
			if err != nil {
				return err
			}
			c.Set(sessionKey, session)
			return next(c)
		}
	}
}

// requireSession отклоняет запросы без сессии.
func requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := sessionFrom(c); !ok {
			return domain.ErrUnauthenticated
		}
		return next(c)
	}
}

// requireAdmin пропускает только роль admin.
func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, ok := sessionFrom(c)
		if !ok {
			return domain.ErrUnauthenticated
		}
		if session.Role != RoleAdmin {
			return fmt.Errorf("%w: admin role required", domain.ErrAuthorization)
		}
		return next(c)
	}
}

func sessionFrom(c echo.Context) (Session, bool) {
	session, ok := c.Get(sessionKey).(Session)
	return session, ok
}

func bearerToken(c echo.Context) (string, bool) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
