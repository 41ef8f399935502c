package email

import (
	"fmt"
	"net/smtp"
)

// Service sends mail through one SMTP relay.
type Service struct {
	host string
	port string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service. user may be empty for relays that
// accept unauthenticated mail.
func NewService(host, port, from, user, pass string) *Service {
	s := &Service{host: host, port: port, from: from, send: smtp.SendMail}
	if user != "" {
		s.auth = smtp.PlainAuth("", user, pass, host)
	}
	return s
}

func (s *Service) SendShipmentBooked(to string, n ShipmentNotice) error {
	subject := fmt.Sprintf("Order %s shipped, waybill %s", shortID(n.OrderID), n.Waybill)
	return s.deliver(to, subject, "text/html", BuildShipmentBody(n))
}

func (s *Service) SendOpsAlert(to string, a OpsAlert) error {
	subject := fmt.Sprintf("[fulfillment] %s (order %s)", a.Subject, shortID(a.OrderID))
	return s.deliver(to, subject, "text/plain", BuildOpsAlertBody(a))
}

func (s *Service) deliver(to, subject, contentType, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: %s; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, contentType, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.send(addr, s.auth, s.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send %q to %s: %w", subject, to, err)
	}
	return nil
}
