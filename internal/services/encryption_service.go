package services

import (
	"strings"

	"mindjournal/internal/crypto"
	"mindjournal/internal/models"
)

// EncryptionService applies the crypto box to domain values: user emails and
// remote record payloads.
type EncryptionService struct {
	box *crypto.Box
}

func NewEncryptionService(encryptionKey, blindIndexKey []byte) (*EncryptionService, error) {
	box, err := crypto.NewBox(encryptionKey, blindIndexKey)
	if err != nil {
		return nil, err
	}
	return &EncryptionService{box: box}, nil
}

// EncryptUser seals the email and sets its blind index before storing.
func (s *EncryptionService) EncryptUser(user *models.User) error {
	if user.Email == nil || *user.Email == "" {
		return nil
	}
	email := NormalizeEmail(*user.Email)
	sealed, err := s.box.Seal(email)
	if err != nil {
		return err
	}
	index := s.box.BlindIndex(email)
	user.Email = &sealed
	user.EmailBlindIndex = &index
	return nil
}

func (s *EncryptionService) DecryptUser(user *models.User) error {
	if user.Email == nil || *user.Email == "" {
		return nil
	}
	email, err := s.box.Open(*user.Email)
	if err != nil {
		return err
	}
	user.Email = &email
	return nil
}

func (s *EncryptionService) EmailBlindIndex(email string) string {
	return s.box.BlindIndex(NormalizeEmail(email))
}

// SealPayload and OpenPayload let remote.Tables keep record payloads sealed.
func (s *EncryptionService) SealPayload(plaintext string) (string, error) {
	return s.box.Seal(plaintext)
}

func (s *EncryptionService) OpenPayload(sealed string) (string, error) {
	return s.box.Open(sealed)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
