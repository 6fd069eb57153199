package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
)

// sealPrefix marks a value produced by this middleware.
const sealPrefix = "enc:v1:"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte

	// AllowPlaintext lets reads return values written before encryption was
	// enabled. When false an unsealed message or name is an error.
	AllowPlaintext bool
}

// sealedBody is the plaintext of a sealed message.
type sealedBody struct {
	Content   string            `json:"c"`
	ToolCalls []domain.ToolCall `json:"t,omitempty"`
}

type encryptionMiddleware struct {
	ports.TranscriptStore // sessions pass through untouched
	config                EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals message bodies and
// patient names using AES-GCM. Message content also gets a SHA-256 hash of
// its plaintext, checked again after decryption.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	for _, k := range config.FallbackKeys {
		if len(k) != 32 {
			panic("fallback keys must be 32 bytes (AES-256)")
		}
	}
	return func(next ports.TranscriptStore) ports.TranscriptStore {
		return &encryptionMiddleware{TranscriptStore: next, config: config}
	}
}

// ContentHash returns the hex SHA-256 of a message's plaintext content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func (m *encryptionMiddleware) AppendMessage(ctx context.Context, msg domain.Message) error {
	plainText, err := json.Marshal(sealedBody{Content: msg.Content, ToolCalls: msg.ToolCalls})
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", msg.ID, err)
	}
	sealed, err := m.seal(plainText)
	if err != nil {
		return fmt.Errorf("failed to encrypt message %s: %w", msg.ID, err)
	}

	envelope := msg
	envelope.ContentHash = ContentHash(msg.Content)
	envelope.Content = sealed
	envelope.ToolCalls = nil
	return m.TranscriptStore.AppendMessage(ctx, envelope)
}

func (m *encryptionMiddleware) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	msgs, err := m.TranscriptStore.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, len(msgs))
	for i, msg := range msgs {
		open, err := m.openMessage(msg)
		if err != nil {
			return nil, err
		}
		out[i] = open
	}
	return out, nil
}

func (m *encryptionMiddleware) openMessage(msg domain.Message) (domain.Message, error) {
	if !strings.HasPrefix(msg.Content, sealPrefix) {
		if !m.config.AllowPlaintext {
			return msg, fmt.Errorf("message %s is missing encrypted data envelope", msg.ID)
		}
		return msg, nil
	}

	plainText, err := m.open(msg.Content)
	if err != nil {
		return msg, fmt.Errorf("failed to decrypt message %s: %w", msg.ID, err)
	}
	var body sealedBody
	if err := json.Unmarshal(plainText, &body); err != nil {
		return msg, fmt.Errorf("failed to unmarshal message %s: %w", msg.ID, err)
	}
	if msg.ContentHash != "" && ContentHash(body.Content) != msg.ContentHash {
		return msg, fmt.Errorf("message %s: %w", msg.ID, domain.ErrIntegrity)
	}

	msg.Content = body.Content
	msg.ToolCalls = body.ToolCalls
	return msg, nil
}

func (m *encryptionMiddleware) SaveDraft(ctx context.Context, sessionID string, d domain.OrderDraft) error {
	name, err := m.sealString(d.PatientName)
	if err != nil {
		return fmt.Errorf("failed to encrypt draft of %s: %w", sessionID, err)
	}
	d = d.Clone()
	d.PatientName = name
	return m.TranscriptStore.SaveDraft(ctx, sessionID, d)
}

func (m *encryptionMiddleware) LoadDraft(ctx context.Context, sessionID string) (*domain.OrderDraft, error) {
	d, err := m.TranscriptStore.LoadDraft(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	name, err := m.openString(d.PatientName)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt draft of %s: %w", sessionID, err)
	}
	d.PatientName = name
	return d, nil
}

func (m *encryptionMiddleware) UpsertOrder(ctx context.Context, o domain.Order) error {
	name, err := m.sealString(o.PatientName)
	if err != nil {
		return fmt.Errorf("failed to encrypt order %s: %w", o.Number, err)
	}
	o.ToothPositions = append([]string(nil), o.ToothPositions...)
	o.PatientName = name
	return m.TranscriptStore.UpsertOrder(ctx, o)
}

func (m *encryptionMiddleware) LoadOrder(ctx context.Context, number string) (*domain.Order, error) {
	o, err := m.TranscriptStore.LoadOrder(ctx, number)
	if err != nil {
		return nil, err
	}
	if o.PatientName, err = m.openString(o.PatientName); err != nil {
		return nil, fmt.Errorf("failed to decrypt order %s: %w", number, err)
	}
	return o, nil
}

func (m *encryptionMiddleware) ListOrders(ctx context.Context, ownerID string) ([]domain.Order, error) {
	orders, err := m.TranscriptStore.ListOrders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].PatientName, err = m.openString(orders[i].PatientName); err != nil {
			return nil, fmt.Errorf("failed to decrypt order %s: %w", orders[i].Number, err)
		}
	}
	return orders, nil
}

// sealString seals a single field. Empty values stay empty so that
// "not collected yet" is still visible to the store.
func (m *encryptionMiddleware) sealString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return m.seal([]byte(s))
}

func (m *encryptionMiddleware) openString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if !strings.HasPrefix(s, sealPrefix) {
		if !m.config.AllowPlaintext {
			return "", errors.New("value is missing encrypted data envelope")
		}
		return s, nil
	}
	plain, err := m.open(s)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (m *encryptionMiddleware) seal(plainText []byte) (string, error) {
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return sealPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(sealed string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	return decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
