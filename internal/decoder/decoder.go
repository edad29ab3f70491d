// Package decoder extracts the best textual body and attachment metadata
// from provider message envelopes.
package decoder

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/source"
)

// Result is the decoded content of one envelope.
type Result struct {
	// Text is the selected body; HTML markup is kept when IsHTML is set.
	Text   string
	IsHTML bool

	// Attachments lists every part carrying a filename.
	Attachments []model.Attachment
}

// Decode walks the envelope and returns its preferred text body. It never
// fails: an envelope without a decodable text part yields empty text, and
// attachment metadata is collected regardless.
func Decode(env *source.Envelope) Result {
	if env == nil {
		return Result{Attachments: []model.Attachment{}}
	}
	if env.Payload == nil && len(env.Raw) > 0 {
		return decodeRaw(env.Raw)
	}

	res := Result{Attachments: []model.Attachment{}}
	p := env.Payload
	if p == nil {
		return res
	}

	collectAttachments(p, &res.Attachments)

	// Single top-level body with inline data.
	if len(p.Parts) == 0 && p.Body != nil && p.Body.Data != "" && p.Filename == "" {
		text, ok := decodePartData(p)
		if ok {
			res.Text = text
			res.IsHTML = isMediaType(p.MIMEType, "text/html")
		}
		return res
	}

	if part := findPart(p, "text/html"); part != nil {
		if text, ok := decodePartData(part); ok {
			res.Text, res.IsHTML = text, true
			return res
		}
	}
	if part := findPart(p, "text/plain"); part != nil {
		if text, ok := decodePartData(part); ok {
			res.Text = text
		}
	}
	return res
}

// findPart returns the first non-attachment part of the given media type,
// descending depth-first into nested containers.
func findPart(p *source.Part, mediaType string) *source.Part {
	if p == nil {
		return nil
	}
	if p.Filename == "" && isMediaType(p.MIMEType, mediaType) &&
		p.Body != nil && p.Body.Data != "" {
		return p
	}
	for _, child := range p.Parts {
		if found := findPart(child, mediaType); found != nil {
			return found
		}
	}
	return nil
}

func collectAttachments(p *source.Part, out *[]model.Attachment) {
	if p == nil {
		return
	}
	if p.Filename != "" {
		att := model.Attachment{
			Filename: p.Filename,
			MIMEType: p.MIMEType,
			Inline:   p.Header("Content-ID") != "",
		}
		if p.Body != nil {
			att.Size = p.Body.Size
			att.AttachmentID = p.Body.AttachmentID
		}
		*out = append(*out, att)
	}
	for _, child := range p.Parts {
		collectAttachments(child, out)
	}
}

// decodePartData decodes the base64url body of a part and converts it to
// UTF-8 using the declared charset.
func decodePartData(p *source.Part) (string, bool) {
	raw, ok := decodeBase64(p.Body.Data)
	if !ok {
		return "", false
	}
	return toUTF8(raw, charsetOf(p)), true
}

func decodeBase64(data string) ([]byte, bool) {
	data = strings.TrimSpace(data)
	encodings := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	for _, enc := range encodings {
		if b, err := enc.DecodeString(data); err == nil {
			return b, true
		}
	}
	return nil, false
}

func charsetOf(p *source.Part) string {
	ct := p.Header("Content-Type")
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

func toUTF8(b []byte, cs string) string {
	cs = strings.ToLower(strings.TrimSpace(cs))
	if cs == "" || cs == "utf-8" || cs == "us-ascii" || cs == "utf8" {
		return string(b)
	}
	r, err := charset.Reader(cs, bytes.NewReader(b))
	if err != nil {
		return string(b)
	}
	converted, err := io.ReadAll(r)
	if err != nil {
		return string(b)
	}
	return string(converted)
}

func isMediaType(declared, want string) bool {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(declared))
	}
	return mt == want
}

// decodeRaw handles envelopes that carry RFC 5322 bytes instead of a part
// tree, applying the same first-html-else-plain preference.
func decodeRaw(raw []byte) Result {
	res := Result{Attachments: []model.Attachment{}}

	entity, err := message.Read(bytes.NewReader(raw))
	if entity == nil ||
		(err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err)) {
		return res
	}

	var htmlText, plainText string
	var haveHTML, havePlain bool

	_ = entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
			return nil
		}

		mediaType, _, _ := part.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		disposition, dispParams, _ := part.Header.ContentDisposition()
		_, ctParams, _ := part.Header.ContentType()
		filename := dispParams["filename"]
		if filename == "" {
			filename = ctParams["name"]
		}

		if filename != "" {
			n, _ := io.Copy(io.Discard, part.Body)
			res.Attachments = append(res.Attachments, model.Attachment{
				Filename: filename,
				MIMEType: mediaType,
				Size:     n,
				Inline:   disposition == "inline" || part.Header.Get("Content-Id") != "",
			})
			return nil
		}

		switch {
		case mediaType == "text/html" && !haveHTML:
			if b, err := io.ReadAll(part.Body); err == nil {
				htmlText, haveHTML = string(b), true
			}
		case (mediaType == "text/plain" || mediaType == "") && !havePlain:
			if b, err := io.ReadAll(part.Body); err == nil {
				plainText, havePlain = string(b), true
			}
		}
		return nil
	})

	if haveHTML {
		res.Text, res.IsHTML = htmlText, true
	} else if havePlain {
		res.Text = plainText
	}
	return res
}
