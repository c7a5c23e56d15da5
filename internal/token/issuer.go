// Пакет token — выпуск access-токенов сервисных аккаунтов (JWT RS256)
// и публикация открытого ключа подписи в формате JWKS.
package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/scope"
)

// TokenType — тип выдаваемого токена.
const TokenType = "Bearer"

// generatedKeyBits — размер эфемерного RSA-ключа.
const generatedKeyBits = 2048

// Claims — claims токена сервисного аккаунта.
type Claims struct {
	jwt.RegisteredClaims
	// ClientID — публичный идентификатор SA
	ClientID string `json:"client_id"`
	// OwnerID — владелец SA
	OwnerID string `json:"owner_id"`
	// Scopes — права в виде "<target>:<permission>"
	Scopes []string `json:"scopes"`
	// Scope — те же права через пробел
	Scope string `json:"scope"`
}

// Subject — данные, на которые выпускается токен.
type Subject struct {
	ClientID string
	OwnerID  string
	Scopes   []string
}

// Signed — выпущенный токен.
type Signed struct {
	// Token — подписанный JWT
	Token string
	// ExpiresIn — время жизни в секундах
	ExpiresIn int
	// ExpiresAt — момент истечения
	ExpiresAt time.Time
	// ID — jti токена
	ID string
}

// Options — параметры Issuer.
type Options struct {
	// Issuer — значение claim iss
	Issuer string
	// KeyID — kid ключа подписи
	KeyID string
	// TTL — время жизни токена
	TTL time.Duration
}

// Issuer подписывает токены закрытым RSA-ключом и отдаёт JWKS с открытым.
type Issuer struct {
	key    *rsa.PrivateKey
	opts   Options
	jwks   jwkset.Storage
	now    func() time.Time
	logger *slog.Logger
}

// NewIssuer создаёт Issuer и публикует открытый ключ в JWKS-хранилище.
func NewIssuer(ctx context.Context, key *rsa.PrivateKey, opts Options, logger *slog.Logger) (*Issuer, error) {
	if key == nil {
		return nil, fmt.Errorf("ключ подписи не задан")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("TTL токена должен быть положительным")
	}
	if opts.KeyID == "" {
		return nil, fmt.Errorf("kid ключа подписи не задан")
	}

	jwk, err := jwkset.NewJWKFromKey(&key.PublicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgRS256,
			KID: opts.KeyID,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания JWK: %w", err)
	}

	storage := jwkset.NewMemoryStorage()
	if err := storage.KeyWrite(ctx, jwk); err != nil {
		return nil, fmt.Errorf("ошибка записи JWK: %w", err)
	}

	return &Issuer{
		key:    key,
		opts:   opts,
		jwks:   storage,
		now:    time.Now,
		logger: logger.With(slog.String("component", "token_issuer")),
	}, nil
}

// TTL возвращает время жизни выпускаемых токенов.
func (i *Issuer) TTL() time.Duration {
	return i.opts.TTL
}

// Sign выпускает токен для subject.
func (i *Issuer) Sign(subject Subject) (*Signed, error) {
	now := i.now()
	expiresAt := now.Add(i.opts.TTL)
	jti := uuid.NewString()

	scopes := subject.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.opts.Issuer,
			Subject:   subject.ClientID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		ClientID: subject.ClientID,
		OwnerID:  subject.OwnerID,
		Scopes:   scopes,
		Scope:    scope.Join(scopes),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.opts.KeyID

	signed, err := tok.SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи JWT: %w", err)
	}

	i.logger.Debug("Токен подписан",
		slog.String("client_id", subject.ClientID),
		slog.String("jti", jti),
		slog.Time("expires_at", expiresAt),
	)

	return &Signed{
		Token:     signed,
		ExpiresIn: int(i.opts.TTL / time.Second),
		ExpiresAt: expiresAt,
		ID:        jti,
	}, nil
}

// JWKS возвращает JSON набора открытых ключей.
func (i *Issuer) JWKS(ctx context.Context) (json.RawMessage, error) {
	raw, err := i.jwks.JSONPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации JWKS: %w", err)
	}
	return raw, nil
}

// LoadSigningKey читает RSA-ключ из PEM-файла (PKCS#1 или PKCS#8).
// При пустом path генерирует эфемерный ключ: токены перестанут
// проверяться после перезапуска.
func LoadSigningKey(path string, logger *slog.Logger) (*rsa.PrivateKey, error) {
	if path == "" {
		logger.Warn("Ключ подписи не задан, сгенерирован эфемерный ключ",
			slog.Int("bits", generatedKeyBits),
		)
		key, err := rsa.GenerateKey(rand.Reader, generatedKeyBits)
		if err != nil {
			return nil, fmt.Errorf("ошибка генерации RSA-ключа: %w", err)
		}
		return key, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа подписи %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора ключа подписи %s: %w", path, err)
	}
	if key.N.BitLen() < generatedKeyBits {
		return nil, fmt.Errorf("ключ подписи %s слишком короткий: %d бит, минимум %d",
			path, key.N.BitLen(), generatedKeyBits)
	}

	logger.Info("Ключ подписи загружен",
		slog.String("path", path),
		slog.Int("bits", key.N.BitLen()),
	)
	return key, nil
}
