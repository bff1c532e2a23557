// Package assistant runs AI turns: it persists the human message to
// the assistant stream, routes the prompt to the generation backend
// and persists exactly one assistant-tagged reply per turn, success or
// not.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/apperr"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/docstore"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/model"
)

// ErrTurnInFlight rejects a submission while the previous turn on this
// stream is still generating.
var ErrTurnInFlight = errors.New("assistant: a turn is already in flight")

// defaultVisionPrompt stands in when an image arrives with no text.
const defaultVisionPrompt = "Describe this image."

// apologyText is the fixed reply persisted when generation fails. It
// keeps the one-reply-per-turn shape of the stream intact.
const apologyText = "Sorry, I could not come up with a response. Please try again."

// Generator produces assistant replies from the external backend.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateVision(ctx context.Context, prompt, mimeType string, image []byte) (string, error)
}

// Fetcher retrieves an uploaded attachment's bytes for inlining.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TurnSender persists the human turn, upload included.
type TurnSender interface {
	Send(ctx context.Context, draft dispatch.Draft, target identity.Target) (model.Message, error)
}

// Controller drives the assistant stream owned by one uid.
type Controller struct {
	store   docstore.Store
	sender  TurnSender
	gen     Generator
	fetcher Fetcher
	bus     *bus.Bus
	logger  *zap.Logger
	selfUID string

	mu       sync.Mutex
	inFlight bool
}

func New(store docstore.Store, sender TurnSender, gen Generator, fetcher Fetcher, b *bus.Bus, logger *zap.Logger, selfUID string) *Controller {
	return &Controller{
		store:   store,
		sender:  sender,
		gen:     gen,
		fetcher: fetcher,
		bus:     b,
		logger:  logger,
		selfUID: selfUID,
	}
}

// Submit runs one full turn. Upload and write failures propagate and
// leave the stream without a new turn; generation failures do not
// propagate, they terminate the turn with the apology reply instead.
// A second Submit while one is running fails with ErrTurnInFlight.
func (c *Controller) Submit(ctx context.Context, draft dispatch.Draft) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.inFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	turn := NewTurn(c.bus)

	human, err := c.sender.Send(ctx, draft, identity.AssistantTarget())
	if err != nil {
		return err
	}

	_ = turn.Transition(Generating)

	reply, genErr := c.generate(ctx, human)
	if genErr != nil {
		c.logger.Warn("generation failed, saving apology reply", zap.Error(genErr))
		if err := c.saveReply(ctx, apologyText, true); err != nil {
			return err
		}
		_ = turn.Transition(ErrorSaved)
		return nil
	}

	if err := c.saveReply(ctx, reply, false); err != nil {
		return err
	}
	_ = turn.Transition(AssistantSaved)
	return nil
}

// generate routes the turn by attachment type. Non-image attachments
// never reach the backend; they get the canned acknowledgment.
func (c *Controller) generate(ctx context.Context, human model.Message) (string, error) {
	switch {
	case human.File == nil:
		return c.gen.GenerateText(ctx, human.Text)
	case human.File.IsImage():
		image, err := c.fetcher.Fetch(ctx, human.File.URL)
		if err != nil {
			return "", err
		}
		prompt := human.Text
		if prompt == "" {
			prompt = defaultVisionPrompt
		}
		return c.gen.GenerateVision(ctx, prompt, human.File.MIMEType, image)
	default:
		return acknowledgeAttachment(human.File, human.Text), nil
	}
}

// acknowledgeAttachment is the reply for attachments the backend does
// not accept.
func acknowledgeAttachment(f *model.FileData, text string) string {
	ack := fmt.Sprintf("I received your %s %q, but I can only analyze images.", f.Kind(), f.Name)
	if text != "" {
		ack += " " + text
	}
	return ack
}

func (c *Controller) saveReply(ctx context.Context, text string, isError bool) error {
	reply := model.Message{
		Text:       text,
		SenderName: "AI",
		OwnerUID:   c.selfUID,
		IsAI:       true,
		IsError:    isError,
	}
	fields := reply.Fields()
	fields["timestamp"] = docstore.ServerTimestamp
	if _, err := c.store.Insert(ctx, model.CollAIMessages, fields); err != nil {
		return apperr.Write("save assistant reply", err)
	}
	return nil
}
