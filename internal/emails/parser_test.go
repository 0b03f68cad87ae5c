package emails

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrank/internal/models"
)

const plainMessage = "Message-ID: <abc123@acme.com>\r\n" +
	"From: Acme Talent <talent@acme.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: =?UTF-8?Q?Interview_invitation_=E2=80=93_Backend?=\r\n" +
	"Date: Fri, 1 Mar 2024 10:00:00 +0100\r\n" +
	"\r\n" +
	"Hi, we would like to schedule an interview.\r\n"

const replyMessage = "Message-ID: <r1@example.com>\r\n" +
	"From: Me <Me@Example.com>\r\n" +
	"To: talent@acme.com\r\n" +
	"Subject: Re: Interview invitation\r\n" +
	"Date: 2024-03-01 12:30:00\r\n" +
	"In-Reply-To: <abc123@acme.com>\r\n" +
	"References: <abc123@acme.com>\r\n" +
	"\r\n" +
	"Sounds good.\r\n"

const multipartMessage = "Message-ID: <mp@acme.com>\r\n" +
	"From: jobs@acme.com\r\n" +
	"Subject: Offer\r\n" +
	"Date: Fri, 1 Mar 2024 10:00:00 +0000\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>HTML offer</p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=iso-8859-1\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"We are pleased to offer you the r=F4le.\r\n" +
	"--XYZ--\r\n"

func newTestParser() *Parser {
	return NewParser([]string{"me@example.com"}, zerolog.Nop())
}

func TestParse_PlainMessage(t *testing.T) {
	email, err := newTestParser().Parse(strings.NewReader(plainMessage))
	require.NoError(t, err)

	assert.Equal(t, "abc123@acme.com", email.MessageID)
	assert.Equal(t, "Acme Talent <talent@acme.com>", email.Sender)
	assert.Equal(t, "Interview invitation – Backend", email.Subject)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), email.ReceivedAt)
	assert.Contains(t, email.BodyText, "schedule an interview")
	assert.False(t, email.UserAuthored)
	assert.False(t, email.DateMissing)
	require.NotNil(t, email.ThreadID)
	assert.Equal(t, "abc123@acme.com", *email.ThreadID)
}

func TestParse_UserReply(t *testing.T) {
	email, err := newTestParser().Parse(strings.NewReader(replyMessage))
	require.NoError(t, err)

	assert.True(t, email.UserAuthored)
	require.NotNil(t, email.InReplyTo)
	assert.Equal(t, "abc123@acme.com", *email.InReplyTo)
	assert.Equal(t, "abc123@acme.com", *email.ThreadID)
	// Naive Date header is read as UTC
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), email.ReceivedAt)
}

func TestParse_MultipartPrefersPlainText(t *testing.T) {
	email, err := newTestParser().Parse(strings.NewReader(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "We are pleased to offer you the rôle.", strings.TrimSpace(email.BodyText))
}

func TestParse_MissingHeaders(t *testing.T) {
	raw := "From: someone@example.org\r\nSubject: hello\r\n\r\nbody\r\n"

	first, err := newTestParser().Parse(strings.NewReader(raw))
	require.NoError(t, err)
	second, err := newTestParser().Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.True(t, first.DateMissing)
	assert.True(t, first.ReceivedAt.IsZero())
	assert.True(t, strings.HasSuffix(first.MessageID, "@generated.mailrank"))
	assert.Equal(t, first.MessageID, second.MessageID, "generated ids are deterministic")
}

func TestParse_Invalid(t *testing.T) {
	_, err := newTestParser().Parse(strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseMBOXFileStreaming(t *testing.T) {
	mbox := "From talent@acme.com Fri Mar  1 10:00:00 2024\n" +
		strings.ReplaceAll(plainMessage, "\r\n", "\n") +
		"\nFrom me@example.com Fri Mar  1 12:30:00 2024\n" +
		strings.ReplaceAll(replyMessage, "\r\n", "\n") +
		"\nFrom jobs@acme.com Fri Mar  1 10:00:00 2024\n" +
		strings.ReplaceAll(multipartMessage, "\r\n", "\n")

	path := filepath.Join(t.TempDir(), "mail.mbox")
	require.NoError(t, os.WriteFile(path, []byte(mbox), 0o644))

	var (
		batches int
		emails  []*models.Email
		last    MBOXProgress
	)
	err := newTestParser().ParseMBOXFileStreaming(path, 2, func(batch []*models.Email, progress MBOXProgress) error {
		batches++
		emails = append(emails, batch...)
		last = progress
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, batches)
	require.Len(t, emails, 3)
	assert.Equal(t, "abc123@acme.com", emails[0].MessageID)
	assert.True(t, emails[1].UserAuthored)
	assert.Equal(t, 3, last.EmailsProcessed)
	assert.Equal(t, 100.0, last.PercentComplete)
}

func TestParseDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.eml"), []byte(plainMessage), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.EML"), []byte(replyMessage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.eml"), []byte(""), 0o644))

	emails, err := newTestParser().ParseDirectory(dir)
	require.NoError(t, err)
	assert.Len(t, emails, 2)
}

func TestGenerateThreadID(t *testing.T) {
	refs := "<root@x> <mid@x>"
	reply := "<parent@x>"

	tests := []struct {
		name     string
		email    models.Email
		expected string
	}{
		{name: "references root", email: models.Email{MessageID: "self@x", References: &refs, InReplyTo: &reply}, expected: "root@x"},
		{name: "in-reply-to", email: models.Email{MessageID: "self@x", InReplyTo: &reply}, expected: "parent@x"},
		{name: "thread root", email: models.Email{MessageID: "<self@x>"}, expected: "self@x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GenerateThreadID(&tt.email))
		})
	}
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p{color:red}</style></head><body>
<h1>Offer</h1><p>We&nbsp;are &amp; pleased</p><script>alert(1)</script><div>Regards</div></body></html>`

	assert.Equal(t, "Offer\n\nWe are & pleased\n\nRegards", HTMLToText(html))
}
