package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/models"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return r.err
}

func sampleNotice(event booking.Event) booking.Notice {
	appt := models.Appointment{
		ClinicID:           3,
		PatientFirstName:   "Ana",
		PatientLastName:    "Hoxha",
		PatientEmail:       "ana@example.com",
		Service:            "Dental cleaning",
		AppointmentDate:    "2025-01-10",
		AppointmentTime:    "09:30",
		Status:             models.StatusConfirmed,
		CancellationReason: "feeling <better>",
	}
	appt.ID = 42
	clinic := models.Clinic{Name: "Smile & Co", Address: "Rruga Myslym Shyri 5", Phone: "+355 4 123 456"}
	return booking.Notice{Event: event, Appointment: appt, Clinic: clinic}
}

func TestRenderNoticeBooked(t *testing.T) {
	msg, err := RenderNotice(sampleNotice(booking.EventBooked))
	require.NoError(t, err)

	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, "Ana Hoxha", msg.ToName)
	assert.Equal(t, "Your appointment at Smile & Co is confirmed", msg.Subject)
	assert.Contains(t, msg.Body, "Friday, 10 January 2025")
	assert.Contains(t, msg.Body, "09:30")
	assert.Contains(t, msg.Body, "#42")
	assert.Contains(t, msg.Body, "Smile & Co, Rruga Myslym Shyri 5")
	assert.NotContains(t, msg.Body, "Reason:")

	assert.Contains(t, msg.HTML, "Smile &amp; Co")
	assert.Contains(t, msg.HTML, "4 123 456")
}

func TestRenderNoticeCancelledEscapesReason(t *testing.T) {
	msg, err := RenderNotice(sampleNotice(booking.EventCancelled))
	require.NoError(t, err)

	assert.Contains(t, msg.Subject, "has been cancelled")
	assert.Contains(t, msg.Body, "Reason:  feeling <better>")
	assert.Contains(t, msg.HTML, "feeling &lt;better&gt;")
}

func TestRenderNoticeRescheduled(t *testing.T) {
	msg, err := RenderNotice(sampleNotice(booking.EventRescheduled))
	require.NoError(t, err)
	assert.Equal(t, "Your appointment at Smile & Co has been moved", msg.Subject)
}

func TestRenderNoticeFallbacks(t *testing.T) {
	notice := sampleNotice(booking.EventBooked)
	notice.Clinic = models.Clinic{}
	msg, err := RenderNotice(notice)
	require.NoError(t, err)
	assert.Equal(t, "Your appointment at the clinic is confirmed", msg.Subject)
	assert.NotContains(t, msg.Body, "Questions?")

	notice.Appointment.PatientEmail = " "
	_, err = RenderNotice(notice)
	assert.Error(t, err)

	notice = sampleNotice("archived")
	_, err = RenderNotice(notice)
	assert.Error(t, err)
}

func TestBookingNotifierSends(t *testing.T) {
	sender := &recordingSender{}
	n := NewBookingNotifier(sender, logging.Discard())

	require.NoError(t, n.Notify(context.Background(), sampleNotice(booking.EventBooked)))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ana@example.com", sender.sent[0].To)
}

func TestBookingNotifierPropagatesSendErrors(t *testing.T) {
	sender := &recordingSender{err: errors.New("quota exceeded")}
	n := NewBookingNotifier(sender, logging.Discard())

	err := n.Notify(context.Background(), sampleNotice(booking.EventBooked))
	assert.ErrorContains(t, err, "quota exceeded")

	assert.Error(t, NewBookingNotifier(nil, nil).Notify(context.Background(), sampleNotice(booking.EventBooked)))
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSenderBuildsMessage(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "bookings@clinicfinder.al"}, logging.Discard())

	err := sender.Send(context.Background(), EmailMessage{
		To:      "ana@example.com",
		Subject: "Hi",
		Body:    "plain",
		HTML:    "<p>rich</p>",
	})
	require.NoError(t, err)
	require.NotNil(t, client.input)
	assert.Equal(t, "Clinic Finder <bookings@clinicfinder.al>", aws.ToString(client.input.FromEmailAddress))
	assert.Equal(t, []string{"ana@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "plain", aws.ToString(client.input.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>rich</p>", aws.ToString(client.input.Content.Simple.Body.Html.Data))

	client.err = errors.New("throttled")
	assert.ErrorContains(t, sender.Send(context.Background(), EmailMessage{To: "x@example.com"}), "throttled")
}

func TestSESSenderNilClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
	var s *SESSender
	assert.Error(t, s.Send(context.Background(), EmailMessage{}))
}

func TestNewSender(t *testing.T) {
	ctx := context.Background()

	stub, err := NewSender(ctx, SenderConfig{Transport: "stub"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &StubEmailSender{}, stub)
	assert.NoError(t, stub.Send(ctx, EmailMessage{To: "a@example.com"}))

	_, err = NewSender(ctx, SenderConfig{Transport: "sendgrid"}, logging.Discard())
	assert.Error(t, err)

	sg, err := NewSender(ctx, SenderConfig{Transport: "SendGrid", APIKey: "SG.test"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &SendGridSender{}, sg)

	ses, err := NewSender(ctx, SenderConfig{Transport: "ses", Region: "eu-central-1"}, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &SESSender{}, ses)

	_, err = NewSender(ctx, SenderConfig{Transport: "pigeon"}, logging.Discard())
	assert.Error(t, err)
}

func TestSendGridSenderRequiresKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{}, nil))
	var s *SendGridSender
	assert.Error(t, s.Send(context.Background(), EmailMessage{}))
}
