package emails

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/htmlindex"

	"mailrank/internal/models"
	"mailrank/internal/replies"
	"mailrank/internal/textproc"
)

// generatedIDNamespace seeds deterministic ids for messages without a Message-ID header
var generatedIDNamespace = uuid.MustParse("9f4b1f0e-4a3c-5d52-9b7e-6d1f3c2a8e41")

// Parser reads raw messages from EML and MBOX sources
type Parser struct {
	userAddresses map[string]struct{}
	logger        zerolog.Logger
}

// NewParser creates a parser. Messages sent from userAddresses are marked user-authored.
func NewParser(userAddresses []string, logger zerolog.Logger) *Parser {
	addrs := make(map[string]struct{}, len(userAddresses))
	for _, a := range userAddresses {
		addrs[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	return &Parser{userAddresses: addrs, logger: logger}
}

// ParseEMLFile parses a single EML file
func (p *Parser) ParseEMLFile(filename string) (*models.Email, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open EML file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			p.logger.Warn().Err(err).Str("file", filename).Msg("Error closing file")
		}
	}()

	return p.Parse(file)
}

// MBOXProgress tracks the progress of MBOX file parsing
type MBOXProgress struct {
	BytesProcessed   int64
	TotalBytes       int64
	EmailsProcessed  int
	ParseErrors      int
	PercentComplete  float64
	CurrentBatchSize int
}

// MBOXBatchCallback is called for each batch of emails processed
type MBOXBatchCallback func(batch []*models.Email, progress MBOXProgress) error

// ParseMBOXFileStreaming parses an MBOX file in batches with progress tracking.
// Messages that fail to parse are counted and skipped.
func (p *Parser) ParseMBOXFileStreaming(filename string, batchSize int, callback MBOXBatchCallback) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open MBOX file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			p.logger.Warn().Err(err).Str("file", filename).Msg("Error closing file")
		}
	}()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}
	totalBytes := fileInfo.Size()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024) // 10MB max line

	var (
		batch          []*models.Email
		current        bytes.Buffer
		progress       = MBOXProgress{TotalBytes: totalBytes}
		bytesProcessed int64
	)

	flushMessage := func() {
		if current.Len() == 0 {
			return
		}
		email, err := p.Parse(&current)
		if err != nil {
			progress.ParseErrors++
			p.logger.Warn().Err(err).Int("message", progress.EmailsProcessed+progress.ParseErrors).Msg("Failed to parse MBOX message")
		} else {
			batch = append(batch, email)
			progress.EmailsProcessed++
		}
		current.Reset()
	}

	emit := func(final bool) error {
		if len(batch) == 0 {
			return nil
		}
		progress.BytesProcessed = bytesProcessed
		progress.CurrentBatchSize = len(batch)
		progress.PercentComplete = 100
		if !final && totalBytes > 0 {
			progress.PercentComplete = float64(bytesProcessed) / float64(totalBytes) * 100
		}
		if err := callback(batch, progress); err != nil {
			return fmt.Errorf("batch processing error at email %d: %w", progress.EmailsProcessed, err)
		}
		batch = nil
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		bytesProcessed += int64(len(line) + 1)

		// Each message starts with a "From " separator line
		if strings.HasPrefix(line, "From ") {
			flushMessage()
			if len(batch) >= batchSize {
				if err := emit(false); err != nil {
					return err
				}
			}
			continue
		}

		// mboxrd quoting
		if strings.HasPrefix(line, ">From ") {
			line = line[1:]
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading MBOX file: %w", err)
	}

	flushMessage()
	if err := emit(true); err != nil {
		return err
	}

	p.logger.Info().
		Str("file", filepath.Base(filename)).
		Int("emails", progress.EmailsProcessed).
		Int("parse_errors", progress.ParseErrors).
		Int64("bytes", totalBytes).
		Msg("MBOX parsing complete")

	return nil
}

// ParseDirectory recursively parses all EML files in a directory, skipping unreadable ones
func (p *Parser) ParseDirectory(dirPath string) ([]*models.Email, error) {
	var emails []*models.Email

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".eml") {
			return nil
		}

		email, err := p.ParseEMLFile(path)
		if err != nil {
			p.logger.Warn().Err(err).Str("file", path).Msg("Failed to parse EML file")
			return nil // Continue processing other files
		}
		emails = append(emails, email)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return emails, nil
}

// Parse reads one RFC 5322 message
func (p *Parser) Parse(r io.Reader) (*models.Email, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read email message: %w", err)
	}

	header := msg.Header
	email := &models.Email{
		MessageID: CleanMessageID(header.Get("Message-ID")),
		Sender:    decodeHeader(header.Get("From")),
		To:        decodeHeader(header.Get("To")),
		Subject:   decodeHeader(header.Get("Subject")),
	}

	// A missing or malformed Date leaves ReceivedAt zero; reply metrics flag it later
	if received, err := replies.ParseTimestamp(header.Get("Date")); err == nil {
		email.ReceivedAt = received
	} else {
		email.DateMissing = true
	}

	if inReplyTo := CleanMessageID(header.Get("In-Reply-To")); inReplyTo != "" {
		email.InReplyTo = &inReplyTo
	}
	if references := strings.TrimSpace(header.Get("References")); references != "" {
		email.References = &references
	}

	body, err := extractBody(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to extract body: %w", err)
	}
	email.BodyText = body

	if email.MessageID == "" {
		email.MessageID = generatedMessageID(email)
	}
	threadID := GenerateThreadID(email)
	email.ThreadID = &threadID

	_, email.UserAuthored = p.userAddresses[textproc.SenderAddress(email.Sender)]

	return email, nil
}

// generatedMessageID derives a stable id from the message content so re-imports upsert
// the same row
func generatedMessageID(email *models.Email) string {
	seed := strings.Join([]string{
		email.Sender,
		email.To,
		email.Subject,
		email.ReceivedAt.UTC().String(),
		email.BodyText,
	}, "\x00")
	return uuid.NewSHA1(generatedIDNamespace, []byte(seed)).String() + "@generated.mailrank"
}

// extractBody extracts the body text from an email message
func extractBody(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")
	encoding := msg.Header.Get("Content-Transfer-Encoding")
	if contentType == "" {
		return extractSinglePartBody(msg.Body, "text/plain", nil, encoding)
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return extractSinglePartBody(msg.Body, "text/plain", nil, encoding)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return extractMultipartBody(msg.Body, params["boundary"])
	}

	text, err := extractSinglePartBody(msg.Body, mediaType, params, encoding)
	if err != nil {
		return "", err
	}
	if mediaType == "text/html" {
		return HTMLToText(text), nil
	}
	return text, nil
}

// extractMultipartBody collects text parts, preferring text/plain over text/html
func extractMultipartBody(body io.Reader, boundary string) (string, error) {
	mr := multipart.NewReader(body, boundary)
	var textParts, htmlParts []string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			if nested, err := extractMultipartBody(part, params["boundary"]); err == nil && nested != "" {
				textParts = append(textParts, nested)
			}
		case mediaType == "text/plain" || mediaType == "":
			if content, err := extractSinglePartBody(part, mediaType, params, part.Header.Get("Content-Transfer-Encoding")); err == nil {
				textParts = append(textParts, content)
			}
		case mediaType == "text/html":
			if content, err := extractSinglePartBody(part, mediaType, params, part.Header.Get("Content-Transfer-Encoding")); err == nil {
				htmlParts = append(htmlParts, content)
			}
		}
	}

	if len(textParts) > 0 {
		return strings.Join(textParts, "\n\n"), nil
	}
	if len(htmlParts) > 0 {
		return HTMLToText(strings.Join(htmlParts, "\n\n")), nil
	}
	return "", nil
}

// extractSinglePartBody decodes the transfer encoding and charset of one part
func extractSinglePartBody(body io.Reader, mediaType string, params map[string]string, transferEncoding string) (string, error) {
	reader := body

	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "quoted-printable":
		reader = quotedprintable.NewReader(body)
	case "base64":
		reader = base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: body})
	}

	if cs := params["charset"]; cs != "" && !strings.EqualFold(cs, "utf-8") && !strings.EqualFold(cs, "us-ascii") {
		if enc, err := htmlindex.Get(cs); err == nil {
			reader = enc.NewDecoder().Reader(reader)
		}
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s part: %w", mediaType, err)
	}
	return string(content), nil
}

// newlineStripper drops CR and LF so wrapped base64 bodies decode
type newlineStripper struct {
	r io.Reader
}

func (n *newlineStripper) Read(p []byte) (int, error) {
	count, err := n.r.Read(p)
	out := p[:0]
	for _, b := range p[:count] {
		if b != '\r' && b != '\n' {
			out = append(out, b)
		}
	}
	return len(out), err
}

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, err
		}
		return enc.NewDecoder().Reader(input), nil
	},
}

// decodeHeader decodes MIME encoded headers
func decodeHeader(header string) string {
	decoded, err := wordDecoder.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// GenerateThreadID derives a thread id from References or In-Reply-To, falling back to the
// message's own id for thread roots
func GenerateThreadID(email *models.Email) string {
	if email.References != nil && *email.References != "" {
		// First Message-ID in References is the thread root
		if refs := strings.Fields(*email.References); len(refs) > 0 {
			return CleanMessageID(refs[0])
		}
	}

	if email.InReplyTo != nil && *email.InReplyTo != "" {
		return CleanMessageID(*email.InReplyTo)
	}

	return CleanMessageID(email.MessageID)
}

// CleanMessageID strips whitespace and angle brackets from a Message-ID
func CleanMessageID(msgID string) string {
	msgID = strings.TrimSpace(msgID)
	msgID = strings.TrimPrefix(msgID, "<")
	msgID = strings.TrimSuffix(msgID, ">")
	return msgID
}
