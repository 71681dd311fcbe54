package cursor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"accounts/internal/core/domain"
)

var (
	ErrInvalidFormat    = errors.New("invalid cursor format")
	ErrInvalidSignature = errors.New("invalid cursor signature")
)

type CursorData struct {
	Datetime string `json:"datetime"`
	ID       string `json:"id,omitempty"`
}

// Codec turns a page position into an opaque token signed with HMAC-SHA256 so
// clients cannot forge positions.
type Codec struct {
	secret []byte
}

func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret}
}

func (c *Codec) hmacSignature(encoded string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Codec) verifySignature(encoded string, signature string) bool {
	expectedSignature := c.hmacSignature(encoded)
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

func (c *Codec) Encode(position domain.PageCursor) string {
	data := CursorData{Datetime: position.CreatedAt.UTC().Format(time.RFC3339Nano), ID: position.ID}
	jsonData, _ := json.Marshal(data)
	encoded := base64.RawURLEncoding.EncodeToString(jsonData)

	return encoded + "." + c.hmacSignature(encoded)
}

func (c *Codec) Decode(token string) (domain.PageCursor, error) {
	parts := strings.Split(token, ".")

	if len(parts) != 2 {
		return domain.PageCursor{}, ErrInvalidFormat
	}

	if !c.verifySignature(parts[0], parts[1]) {
		return domain.PageCursor{}, ErrInvalidSignature
	}

	decoded, err := base64.RawURLEncoding.DecodeString(parts[0])

	if err != nil {
		return domain.PageCursor{}, ErrInvalidFormat
	}

	var data CursorData

	if err := json.Unmarshal(decoded, &data); err != nil {
		return domain.PageCursor{}, ErrInvalidFormat
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data.Datetime)

	if err != nil || data.ID == "" {
		return domain.PageCursor{}, ErrInvalidFormat
	}

	return domain.PageCursor{CreatedAt: createdAt, ID: data.ID}, nil
}
