package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/schedule"
)

const textLayout = `Hello {{.PatientName}},

{{.Headline}}

Clinic:  {{.ClinicName}}{{if .ClinicAddress}}, {{.ClinicAddress}}{{end}}
Service: {{.Service}}
Date:    {{.Date}}
Time:    {{.Time}}
Booking: #{{.AppointmentID}}
{{- if .Reason}}
Reason:  {{.Reason}}
{{- end}}
{{if .ClinicPhone}}
Questions? Call the clinic on {{.ClinicPhone}}.
{{end}}
Clinic Finder
`

const htmlLayout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <p>Hello {{.PatientName}},</p>
  <p><strong>{{.Headline}}</strong></p>
  <table cellpadding="4">
    <tr><td>Clinic</td><td>{{.ClinicName}}{{if .ClinicAddress}}, {{.ClinicAddress}}{{end}}</td></tr>
    <tr><td>Service</td><td>{{.Service}}</td></tr>
    <tr><td>Date</td><td>{{.Date}}</td></tr>
    <tr><td>Time</td><td>{{.Time}}</td></tr>
    <tr><td>Booking</td><td>#{{.AppointmentID}}</td></tr>
    {{- if .Reason}}
    <tr><td>Reason</td><td>{{.Reason}}</td></tr>
    {{- end}}
  </table>
  {{- if .ClinicPhone}}
  <p>Questions? Call the clinic on {{.ClinicPhone}}.</p>
  {{- end}}
  <p>Clinic Finder</p>
</body>
</html>
`

var (
	textTmpl = texttemplate.Must(texttemplate.New("notice.txt").Parse(textLayout))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("notice.html").Parse(htmlLayout))
)

type noticeView struct {
	PatientName   string
	Headline      string
	ClinicName    string
	ClinicAddress string
	ClinicPhone   string
	Service       string
	Date          string
	Time          string
	AppointmentID uint
	Reason        string
}

// BookingNotifier emails the patient about booking changes.
type BookingNotifier struct {
	sender EmailSender
	logger *logging.Logger
}

func NewBookingNotifier(sender EmailSender, logger *logging.Logger) *BookingNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingNotifier{sender: sender, logger: logger}
}

// Notify renders the notice and sends it to the patient's email address.
func (n *BookingNotifier) Notify(ctx context.Context, notice booking.Notice) error {
	if n.sender == nil {
		return fmt.Errorf("notify: no email sender configured")
	}
	msg, err := RenderNotice(notice)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

// RenderNotice builds the email for a booking notice.
func RenderNotice(notice booking.Notice) (EmailMessage, error) {
	appt := notice.Appointment
	if strings.TrimSpace(appt.PatientEmail) == "" {
		return EmailMessage{}, fmt.Errorf("notify: appointment %d has no patient email", appt.ID)
	}

	clinicName := strings.TrimSpace(notice.Clinic.Name)
	if clinicName == "" {
		clinicName = "the clinic"
	}

	view := noticeView{
		PatientName:   strings.TrimSpace(appt.PatientFirstName + " " + appt.PatientLastName),
		ClinicName:    clinicName,
		ClinicAddress: notice.Clinic.Address,
		ClinicPhone:   notice.Clinic.Phone,
		Service:       appt.Service,
		Date:          displayDate(appt.AppointmentDate),
		Time:          appt.AppointmentTime,
		AppointmentID: appt.ID,
	}

	var subject string
	switch notice.Event {
	case booking.EventBooked:
		subject = fmt.Sprintf("Your appointment at %s is confirmed", clinicName)
		view.Headline = "Your appointment is confirmed."
	case booking.EventCancelled:
		subject = fmt.Sprintf("Your appointment at %s has been cancelled", clinicName)
		view.Headline = "Your appointment has been cancelled."
		view.Reason = appt.CancellationReason
	case booking.EventRescheduled:
		subject = fmt.Sprintf("Your appointment at %s has been moved", clinicName)
		view.Headline = "Your appointment has a new date and time."
	default:
		return EmailMessage{}, fmt.Errorf("notify: unknown event %q", notice.Event)
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render text: %w", err)
	}
	if err := htmlTmpl.Execute(&html, view); err != nil {
		return EmailMessage{}, fmt.Errorf("notify: render html: %w", err)
	}

	return EmailMessage{
		To:      appt.PatientEmail,
		ToName:  view.PatientName,
		Subject: subject,
		Body:    text.String(),
		HTML:    html.String(),
	}, nil
}

func displayDate(date string) string {
	d, err := schedule.ParseDate(date)
	if err != nil {
		return date
	}
	return d.Format("Monday, 2 January 2006")
}

var _ booking.Notifier = (*BookingNotifier)(nil)
