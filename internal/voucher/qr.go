// Package voucher renders meal vouchers for paid bookings as QR codes. The QR
// payload is sealed so staff scanners can trust what they read.
package voucher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/skip2/go-qrcode"

	"hac-shop/internal/models"
)

var (
	ErrNotPaid       = errors.New("vouchers are only issued for paid bookings")
	ErrInvalidCode   = errors.New("voucher code is not valid")
	DefaultImageSize = 256
)

// Voucher is what the QR code carries.
type Voucher struct {
	BookingID    string `json:"booking_id"`
	Name         string `json:"name"`
	DrillNight   string `json:"drill_night"`
	Quantity     int    `json:"quantity"`
	DietaryNotes string `json:"dietary_notes,omitempty"`
}

type Generator struct {
	aead     cipher.AEAD
	location *time.Location
}

func NewGenerator(secret string, loc *time.Location) (*Generator, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{aead: aead, location: loc}, nil
}

// FromBooking builds the voucher for a paid booking.
func (g *Generator) FromBooking(b *models.Booking) (Voucher, error) {
	if b.Status != models.StatusPaid {
		return Voucher{}, ErrNotPaid
	}
	v := Voucher{
		BookingID:    b.ID.String(),
		Name:         b.Name,
		Quantity:     b.Quantity,
		DietaryNotes: b.DietaryNotes,
	}
	if b.DrillNight != nil {
		v.DrillNight = b.DrillNight.Label(g.location)
	}
	return v, nil
}

// Seal encrypts v into a URL safe token.
func (g *Generator) Seal(v Voucher) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal, rejecting tampered or foreign tokens.
func (g *Generator) Open(token string) (Voucher, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < g.aead.NonceSize() {
		return Voucher{}, ErrInvalidCode
	}
	nonce, ciphertext := raw[:g.aead.NonceSize()], raw[g.aead.NonceSize():]
	data, err := g.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Voucher{}, ErrInvalidCode
	}
	var v Voucher
	if err := json.Unmarshal(data, &v); err != nil {
		return Voucher{}, ErrInvalidCode
	}
	return v, nil
}

// PNG renders the QR image for a paid booking.
func (g *Generator) PNG(b *models.Booking) ([]byte, error) {
	v, err := g.FromBooking(b)
	if err != nil {
		return nil, err
	}
	token, err := g.Seal(v)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, DefaultImageSize)
}
