package gmail

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/nhle/inbox-sync/internal/model"
	"github.com/nhle/inbox-sync/internal/source"
)

// GetMessage fetches one message in full format. A message that vanished
// or has no payload yields *source.MalformedMessageError.
func (c *Client) GetMessage(
	ctx context.Context,
	account model.Account,
	id string,
) (*source.Envelope, error) {
	var msg *gmailapi.Message
	err := c.call(ctx, account.ID, "messages.get", func(svc *gmailapi.Service) error {
		var err error
		msg, err = svc.Users.Messages.Get(c.cfg.UserID, id).
			Format("full").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) &&
			(apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusBadRequest) {
			return nil, &source.MalformedMessageError{MessageID: id, Reason: "fetch rejected", Err: err}
		}
		return nil, err
	}

	if msg.Payload == nil {
		return nil, &source.MalformedMessageError{MessageID: id, Reason: "message has no payload"}
	}

	return toEnvelope(msg), nil
}

func toEnvelope(msg *gmailapi.Message) *source.Envelope {
	env := &source.Envelope{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		LabelIDs: msg.LabelIds,
		Snippet:  msg.Snippet,
		Payload:  toPart(msg.Payload),
		Headers:  toHeaders(msg.Payload.Headers),
	}
	if msg.HistoryId != 0 {
		env.HistoryID = strconv.FormatUint(msg.HistoryId, 10)
	}
	if msg.InternalDate > 0 {
		env.InternalDate = time.UnixMilli(msg.InternalDate).UTC()
	}
	return env
}

func toPart(p *gmailapi.MessagePart) *source.Part {
	if p == nil {
		return nil
	}
	part := &source.Part{
		PartID:   p.PartId,
		MIMEType: p.MimeType,
		Filename: p.Filename,
		Headers:  toHeaders(p.Headers),
	}
	if p.Body != nil {
		part.Body = &source.PartBody{
			Data:         p.Body.Data,
			Size:         p.Body.Size,
			AttachmentID: p.Body.AttachmentId,
		}
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, toPart(child))
	}
	return part
}

func toHeaders(in []*gmailapi.MessagePartHeader) []source.Header {
	out := make([]source.Header, 0, len(in))
	for _, h := range in {
		if h == nil {
			continue
		}
		out = append(out, source.Header{Name: h.Name, Value: h.Value})
	}
	return out
}
