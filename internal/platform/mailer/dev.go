package mailer

import (
	"github.com/google/uuid"
	"github.com/quickcourier/qcs-api/internal/domain"
	"github.com/quickcourier/qcs-api/pkg/logger"
)

// DevMailer logs emails instead of sending them.
type DevMailer struct{}

func NewDevMailer() *DevMailer { return &DevMailer{} }

func (m *DevMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	id := uuid.NewString()
	logger.Info("DEV email",
		"id", id,
		"to", toEmail,
		"name", toName,
		"subject", subject,
		"text", text,
	)
	return id, nil
}

func (m *DevMailer) SendBookingConfirmation(email, name, trackingNumber string) error {
	_, err := m.Send(email, name, "Your QuickCourier shipment "+trackingNumber,
		"Shipment "+trackingNumber+" is booked.", "")
	return err
}

func (m *DevMailer) SendOnboardingWelcome(email, name string, portal domain.UserType) error {
	_, err := m.Send(email, name, "Welcome to QuickCourier",
		"Your "+string(portal)+" account is ready.", "")
	return err
}
