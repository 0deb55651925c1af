package mail

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridSendPath = "/v3/mail/send"
)

// SendGridMailer sends emails through the SendGrid v3 API.
type SendGridMailer struct {
	apiKey   string
	fromName string
	from     string
	baseURL  string
}

func NewSendGridMailer(apiKey, fromName, from string) *SendGridMailer {
	return &SendGridMailer{apiKey: apiKey, fromName: fromName, from: from, baseURL: sendGridHost}
}

func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	request := sendgrid.GetRequest(m.apiKey, sendGridSendPath, m.baseURL)
	request.Method = http.MethodPost
	request.Body = sgmail.GetRequestBody(m.build(msg))

	resp, err := sendgrid.MakeRequestRetry(request)
	if err != nil {
		log.Errorf("[Mail] sendgrid send error: %v", err)
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid responded %d: %s", resp.StatusCode, resp.Body)
	}
	log.Infof("[Mail] email sent to %s via sendgrid", msg.To)
	return nil
}

func (m *SendGridMailer) build(msg Message) *sgmail.SGMailV3 {
	v3 := sgmail.NewV3Mail()
	v3.SetFrom(sgmail.NewEmail(m.fromName, m.from))
	v3.Subject = msg.Subject

	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.To))
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/html", msg.HTML))
	return v3
}
