package mailer

import "github.com/quickcourier/qcs-api/internal/domain"

type Service interface {
	Send(toEmail, toName, subject, text, html string) (string, error)
	SendBookingConfirmation(email, name, trackingNumber string) error
	SendOnboardingWelcome(email, name string, portal domain.UserType) error
}
