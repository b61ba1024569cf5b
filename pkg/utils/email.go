package utils

import (
	"bytes"
	"fmt"
	"html/template"
)

const companyName = "VIP4DFW"

// EmailData feeds every email template. Unused fields stay empty.
type EmailData struct {
	CompanyName   string
	BookingID     string
	Pickup        string
	Dropoff       string
	PickupTime    string
	Passengers    int
	ServiceType   string
	Total         string
	ContactName   string
	ContactEmail  string
	ContactPhone  string
	CustomMessage string
	PaymentLabel  string
	Reason        string
	Amount        string
	Code          string
	Link          string
}

// Email is a rendered message ready for the mailer.
type Email struct {
	To      string
	Subject string
	HTML    string
}

const emailLayout = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif; line-height: 1.6; color: #525f7f; background-color: #f6f9fc; margin: 0; padding: 0;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px 0 48px; background-color: #ffffff;">
		<h1 style="color: #ff8c00; font-size: 24px; text-align: center; margin: 30px 0;">{{template "title" .}}</h1>
		<div style="padding: 0 30px;">
			{{template "content" .}}
			<p>Thank you,<br>The {{.CompanyName}} Team</p>
		</div>
		<hr style="border-color: #e6ebf1; margin: 20px 0;">
		<p style="text-align: center; font-size: 12px; color: #8898aa;">This is an automated message, please do not reply to this email.</p>
	</div>
</body>
</html>{{end}}
{{define "details"}}
			<p><strong>Booking ID:</strong> {{.BookingID}}</p>
			<p><strong>Pickup:</strong> {{.Pickup}}</p>
			<p><strong>Drop-off:</strong> {{.Dropoff}}</p>
			<p><strong>Pickup Time:</strong> {{.PickupTime}}</p>
			{{if .Passengers}}<p><strong>Passengers:</strong> {{.Passengers}}</p>{{end}}
			{{if .Total}}<p><strong>Total:</strong> {{.Total}}</p>{{end}}
{{end}}`

// Each entry defines "title" and "content" for one message kind.
var emailBodies = map[string]string{
	"admin_new_booking": `{{define "title"}}New {{.CompanyName}} Booking Alert!{{end}}
{{define "content"}}
			<p>A new booking has been placed on {{.CompanyName}}.</p>
			<h3 style="color: #333;">Booking Details:</h3>
			{{template "details" .}}
			<p><strong>Service:</strong> {{.ServiceType}}</p>
			<p><strong>Payment:</strong> {{.PaymentLabel}}</p>
			{{if .CustomMessage}}<p><strong>Notes:</strong> {{.CustomMessage}}</p>{{end}}
			<h3 style="color: #333;">Client Contact Info:</h3>
			<p><strong>Name:</strong> {{.ContactName}}</p>
			<p><strong>Email:</strong> {{.ContactEmail}}</p>
			<p><strong>Phone:</strong> {{.ContactPhone}}</p>
			<p>Please review this booking and take action in the admin dashboard:</p>
			{{if .Link}}<p style="text-align: center;"><a href="{{.Link}}" style="background-color: #ff8c00; border-radius: 5px; color: #000; font-weight: bold; text-decoration: none; padding: 14px 20px;">Go to Admin Dashboard</a></p>{{end}}
{{end}}`,

	"booking_received": `{{define "title"}}We Received Your Booking{{end}}
{{define "content"}}
			<p>Hello {{.ContactName}},</p>
			<p>Thank you for choosing {{.CompanyName}}. Your ride request is pending review, and we will email you as soon as it is confirmed.</p>
			{{template "details" .}}
			<p><strong>Payment:</strong> {{.PaymentLabel}}</p>
			{{if .Link}}<p style="text-align: center;"><a href="{{.Link}}" style="color: #ff8c00;">View your booking</a></p>{{end}}
{{end}}`,

	"booking_confirmed": `{{define "title"}}Your Ride Is Confirmed{{end}}
{{define "content"}}
			<p>Hello {{.ContactName}},</p>
			<p>Great news! Your booking has been confirmed. Your chauffeur will share their location as the pickup time approaches.</p>
			{{template "details" .}}
			{{if .Link}}<p style="text-align: center;"><a href="{{.Link}}" style="background-color: #ff8c00; border-radius: 5px; color: #000; font-weight: bold; text-decoration: none; padding: 14px 20px;">Track Your Ride</a></p>{{end}}
{{end}}`,

	"booking_declined": `{{define "title"}}Booking Update{{end}}
{{define "content"}}
			<p>Hello {{.ContactName}},</p>
			<p>Unfortunately we are unable to accommodate your booking at the requested time.</p>
			{{template "details" .}}
			<p>Please try another time or contact us directly and we will do our best to help.</p>
{{end}}`,

	"booking_cancelled": `{{define "title"}}Booking Cancelled{{end}}
{{define "content"}}
			<p>Booking <strong>{{.BookingID}}</strong> has been cancelled.</p>
			{{template "details" .}}
			{{if .Reason}}<p><strong>Cancellation Reason:</strong> {{.Reason}}</p>{{end}}
{{end}}`,

	"booking_completed": `{{define "title"}}Thank You for Riding With Us{{end}}
{{define "content"}}
			<p>Hello {{.ContactName}},</p>
			<p>Your trip is complete. We hope you enjoyed the ride!</p>
			{{template "details" .}}
			<p><strong>Payment:</strong> {{.PaymentLabel}}</p>
			{{if .Link}}<p>You can pay by card, add a tip and leave a review from your dashboard:</p>
			<p style="text-align: center;"><a href="{{.Link}}" style="background-color: #ff8c00; border-radius: 5px; color: #000; font-weight: bold; text-decoration: none; padding: 14px 20px;">Open Dashboard</a></p>{{end}}
{{end}}`,

	"payment_receipt": `{{define "title"}}Payment Received{{end}}
{{define "content"}}
			<p>Hello {{.ContactName}},</p>
			<p>We received your payment of <strong>{{.Amount}}</strong>.</p>
			{{template "details" .}}
{{end}}`,

	"tip_thank_you": `{{define "title"}}Thank You for Your Tip!{{end}}
{{define "content"}}
			<p>Hello {{.ContactName}},</p>
			<p>Your generous tip of <strong>{{.Amount}}</strong> has been processed successfully. Your driver really appreciates your kindness!</p>
			<p><strong>Booking ID:</strong> {{.BookingID}}</p>
{{end}}`,

	"password_reset": `{{define "title"}}Password Reset Code{{end}}
{{define "content"}}
			<p>Hello {{.ContactName}},</p>
			<p>Use the code below to reset your password. It expires in 15 minutes.</p>
			<p style="font-size: 32px; letter-spacing: 8px; text-align: center; color: #333;"><strong>{{.Code}}</strong></p>
			<p>If you did not request a password reset, you can ignore this email.</p>
{{end}}`,
}

var emailSubjects = map[string]string{
	"admin_new_booking": "New Booking Alert - %s",
	"booking_received":  "Booking Received - %s",
	"booking_confirmed": "Booking Confirmed - %s",
	"booking_declined":  "Booking Declined - %s",
	"booking_cancelled": "Booking Cancelled - %s",
	"booking_completed": "Trip Completed - %s",
	"payment_receipt":   "Payment Receipt - %s",
	"tip_thank_you":     "Thank You for Your Tip - %s",
	"password_reset":    "Password Reset Code - %s",
}

var emailTemplates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(emailBodies))
	for name, body := range emailBodies {
		t := template.Must(template.New(name).Parse(emailLayout))
		out[name] = template.Must(t.Parse(body))
	}
	return out
}()

// RenderEmail renders the named template for a single recipient.
func RenderEmail(name, to string, data EmailData) (Email, error) {
	tmpl, ok := emailTemplates[name]
	if !ok {
		return Email{}, fmt.Errorf("unknown email template %q", name)
	}
	if data.CompanyName == "" {
		data.CompanyName = companyName
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return Email{}, fmt.Errorf("render %s email: %w", name, err)
	}
	return Email{
		To:      to,
		Subject: fmt.Sprintf(emailSubjects[name], data.CompanyName),
		HTML:    buf.String(),
	}, nil
}
