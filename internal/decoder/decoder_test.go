package decoder

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-sync/internal/source"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func textPart(mimeType, data string) *source.Part {
	return &source.Part{MIMEType: mimeType, Body: &source.PartBody{Data: b64(data), Size: int64(len(data))}}
}

func TestDecodeSingleTopLevelBody(t *testing.T) {
	tests := []struct {
		name     string
		part     *source.Part
		wantText string
		wantHTML bool
	}{
		{"plain", textPart("text/plain", "Hello there"), "Hello there", false},
		{"html", textPart("text/html", "<p>Hi</p>"), "<p>Hi</p>", true},
		{"html with params", textPart("text/html; charset=UTF-8", "<b>x</b>"), "<b>x</b>", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode(&source.Envelope{Payload: tt.part})
			assert.Equal(t, tt.wantText, res.Text)
			assert.Equal(t, tt.wantHTML, res.IsHTML)
			assert.Empty(t, res.Attachments)
		})
	}
}

func TestDecodeRawURLWithoutPadding(t *testing.T) {
	p := &source.Part{
		MIMEType: "text/plain",
		Body:     &source.PartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("ab?>"))},
	}
	assert.Equal(t, "ab?>", Decode(&source.Envelope{Payload: p}).Text)
}

func TestDecodePrefersHTMLAnywhereInTree(t *testing.T) {
	env := &source.Envelope{Payload: &source.Part{
		MIMEType: "multipart/mixed",
		Parts: []*source.Part{
			{
				MIMEType: "multipart/alternative",
				Parts: []*source.Part{
					textPart("text/plain", "plain version"),
					textPart("text/html", "<p>html version</p>"),
				},
			},
		},
	}}

	res := Decode(env)
	assert.Equal(t, "<p>html version</p>", res.Text)
	assert.True(t, res.IsHTML)
}

func TestDecodeNestedPlainFallback(t *testing.T) {
	env := &source.Envelope{Payload: &source.Part{
		MIMEType: "multipart/mixed",
		Parts: []*source.Part{
			{
				MIMEType: "multipart/related",
				Parts:    []*source.Part{textPart("text/plain", "only plain")},
			},
		},
	}}

	res := Decode(env)
	assert.Equal(t, "only plain", res.Text)
	assert.False(t, res.IsHTML)
}

func TestDecodeAttachmentsAlwaysCollected(t *testing.T) {
	env := &source.Envelope{Payload: &source.Part{
		MIMEType: "multipart/mixed",
		Parts: []*source.Part{
			{
				MIMEType: "application/pdf",
				Filename: "itinerary.pdf",
				Body:     &source.PartBody{AttachmentID: "att-1", Size: 2048},
			},
			{
				MIMEType: "image/png",
				Filename: "logo.png",
				Headers:  []source.Header{{Name: "Content-ID", Value: "<logo>"}},
				Body:     &source.PartBody{AttachmentID: "att-2", Size: 10},
			},
			{
				MIMEType: "text/plain",
				Body:     &source.PartBody{Data: "%%%not-base64%%%"},
			},
		},
	}}

	res := Decode(env)
	assert.Empty(t, res.Text, "undecodable text never fails")
	require.Len(t, res.Attachments, 2)
	assert.Equal(t, "itinerary.pdf", res.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", res.Attachments[0].MIMEType)
	assert.Equal(t, int64(2048), res.Attachments[0].Size)
	assert.Equal(t, "att-1", res.Attachments[0].AttachmentID)
	assert.False(t, res.Attachments[0].Inline)
	assert.True(t, res.Attachments[1].Inline)
}

func TestDecodeEmpty(t *testing.T) {
	assert.Empty(t, Decode(nil).Text)
	assert.Empty(t, Decode(&source.Envelope{}).Text)
	assert.NotNil(t, Decode(&source.Envelope{}).Attachments)
}

func TestDecodeCharsetConversion(t *testing.T) {
	p := &source.Part{
		MIMEType: "text/plain",
		Headers:  []source.Header{{Name: "Content-Type", Value: "text/plain; charset=ISO-8859-1"}},
		Body:     &source.PartBody{Data: base64.URLEncoding.EncodeToString([]byte("caf\xe9"))},
	}
	assert.Equal(t, "café", Decode(&source.Envelope{Payload: p}).Text)
}

const rawMultipart = "From: Client <client@y.com>\r\n" +
	"To: agent@x.com\r\n" +
	"Subject: Trip\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=inner\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Plain body\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>HTML body</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"voucher.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"SGVsbG8=\r\n" +
	"--outer--\r\n"

func TestDecodeRawEnvelope(t *testing.T) {
	res := Decode(&source.Envelope{Raw: []byte(rawMultipart)})

	assert.True(t, res.IsHTML)
	assert.Equal(t, "<p>HTML body</p>", strings.TrimSpace(res.Text))
	require.Len(t, res.Attachments, 1)
	assert.Equal(t, "voucher.pdf", res.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", res.Attachments[0].MIMEType)
	assert.Equal(t, int64(5), res.Attachments[0].Size)
}

func TestDecodeRawPlainOnly(t *testing.T) {
	raw := "Subject: x\r\nContent-Type: text/plain\r\n\r\nJust text\r\n"
	res := Decode(&source.Envelope{Raw: []byte(raw)})
	assert.False(t, res.IsHTML)
	assert.Equal(t, "Just text", strings.TrimSpace(res.Text))
}
