package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/parleyhq/parley/internal/assistant"
	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/dispatch"
	"github.com/parleyhq/parley/internal/identity"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/presence"
	"github.com/parleyhq/parley/internal/reconcile"
	"github.com/parleyhq/parley/internal/upload"
	"github.com/parleyhq/parley/internal/view"
	"go.uber.org/zap"
)

// Console is the line-oriented terminal surface of a session. It reads
// commands and message lines from stdin, renders reconciled state
// through internal/view, and relays live updates from the bus. Sends to
// the assistant go through the turn controller, never the dispatcher.
type Console struct {
	rec     *reconcile.Reconciler
	disp    *dispatch.Dispatcher
	ai      *assistant.Controller
	writer  presence.Writer
	bus     *bus.Bus
	logger  *zap.Logger
	selfUID string

	in  io.Reader
	out io.Writer

	outMu sync.Mutex

	mu         sync.Mutex
	thread     []string
	lastHeader string
	stopped    bool
	unsub      func()
	done       chan struct{}
}

// NewConsole builds the console over stdin/stdout.
func NewConsole(p Params, rec *reconcile.Reconciler, d *dispatch.Dispatcher, ai *assistant.Controller, pw presence.Writer, b *bus.Bus, logger *zap.Logger) *Console {
	return newConsole(os.Stdin, os.Stdout, selfUID(p), rec, d, ai, pw, b, logger)
}

func newConsole(in io.Reader, out io.Writer, uid string, rec *reconcile.Reconciler, d *dispatch.Dispatcher, ai *assistant.Controller, pw presence.Writer, b *bus.Bus, logger *zap.Logger) *Console {
	return &Console{
		rec:     rec,
		disp:    d,
		ai:      ai,
		writer:  pw,
		bus:     b,
		logger:  logger,
		selfUID: uid,
		in:      in,
		out:     out,
	}
}

// Run reads lines until /quit or EOF. Live updates print from a
// background notifier subscribed to the bus.
func (c *Console) Run(ctx context.Context) error {
	events, unsub := c.bus.Subscribe("", 64)
	done := make(chan struct{})

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsub = unsub
	c.done = done
	c.mu.Unlock()

	go c.notify(events, done)

	c.printf("signed in as %s. /help for commands.\n", c.selfUID)

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if c.isStopped() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		quit, err := c.handle(ctx, line)
		if err != nil {
			c.printf("error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// Stop detaches the console from the bus and waits for the notifier to
// drain. The input loop ends on its own at process exit; stdin reads
// cannot be interrupted.
func (c *Console) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	unsub, done := c.unsub, c.done
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if done != nil {
		<-done
	}
}

func (c *Console) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Console) notify(events <-chan bus.Event, done chan struct{}) {
	defer close(done)
	for evt := range events {
		switch evt.Kind {
		case "state.target":
			c.resetThread()
			c.printHeader(true)
		case "state.messages":
			c.renderThread()
		case "state.presence", "state.typing":
			c.printHeader(false)
		case "assistant.turn":
			if tc, ok := evt.Payload.(assistant.TurnChange); ok && tc.To == assistant.Generating {
				c.printf("AI is typing...\n")
			}
		}
	}
}

func (c *Console) handle(ctx context.Context, line string) (quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		return false, c.sendText(ctx, line)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit":
		return true, nil
	case "/help":
		c.printUsage()
	case "/users":
		c.listEntries(identity.KindUser)
	case "/groups":
		c.listEntries(identity.KindGroup)
	case "/select":
		return false, c.selectEntry(ctx, rest)
	case "/ai":
		return false, c.selectTarget(ctx, identity.AssistantTarget())
	case "/send":
		return false, c.sendText(ctx, rest)
	case "/attach":
		return false, c.attach(ctx, rest)
	case "/forward":
		return false, c.forward(ctx, rest)
	case "/delete":
		return false, c.deleteMessage(ctx, rest)
	case "/read":
		return false, c.markRead(ctx)
	case "/group":
		return false, c.createGroup(ctx, rest)
	default:
		c.printf("unknown command %s\n", cmd)
		c.printUsage()
	}
	return false, nil
}

// listEntries prints conversation list entries of one kind, numbered by
// their position in the full list so /select indexes stay valid.
func (c *Console) listEntries(kind identity.Kind) {
	entries := view.ConversationList(c.rec.State())
	n := 0
	for i, e := range entries {
		if e.Target.Kind() != kind {
			continue
		}
		c.printf("%3d %s\n", i+1, e.Label)
		n++
	}
	if n == 0 {
		c.printf("(none)\n")
	}
}

func (c *Console) selectEntry(ctx context.Context, rest string) error {
	if rest == "" {
		return c.selectTarget(ctx, identity.None())
	}
	idx, err := strconv.Atoi(rest)
	if err != nil {
		return fmt.Errorf("bad selection %q", rest)
	}
	entries := view.ConversationList(c.rec.State())
	if idx < 1 || idx > len(entries) {
		return fmt.Errorf("selection %d out of range (list has %d)", idx, len(entries))
	}
	return c.selectTarget(ctx, entries[idx-1].Target)
}

func (c *Console) selectTarget(ctx context.Context, t identity.Target) error {
	if err := c.rec.Select(ctx, t); err != nil {
		return err
	}
	// Opening a direct conversation clears our own unread counter.
	if uid := t.UserUID(); uid != "" {
		convID := identity.ConversationKey(c.selfUID, uid)
		if err := c.disp.MarkConversationRead(ctx, convID); err != nil {
			c.logger.Warn("mark read failed", zap.String("conversation", convID), zap.Error(err))
		}
	}
	return nil
}

func (c *Console) sendText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return c.submit(ctx, dispatch.Draft{Text: text})
}

// submit routes a draft to the active target: assistant drafts run a
// full AI turn in the background, everything else dispatches inline.
func (c *Console) submit(ctx context.Context, draft dispatch.Draft) error {
	target := c.rec.State().Target
	if target.Kind() == identity.KindAssistant {
		go func() {
			if err := c.ai.Submit(context.Background(), draft); err != nil {
				c.printf("assistant: %v\n", err)
			}
		}()
		return nil
	}

	c.setTyping(ctx, true)
	defer c.setTyping(ctx, false)
	_, err := c.disp.Send(ctx, draft, target)
	return err
}

func (c *Console) setTyping(ctx context.Context, typing bool) {
	if err := c.writer.SetTyping(ctx, c.selfUID, typing); err != nil {
		c.logger.Warn("typing write failed", zap.Error(err))
	}
}

func (c *Console) attach(ctx context.Context, rest string) error {
	pathArg, caption, _ := strings.Cut(rest, " ")
	if pathArg == "" {
		c.printf("usage: /attach <path> [caption]\n")
		return nil
	}
	data, err := os.ReadFile(pathArg)
	if err != nil {
		return err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(pathArg))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return c.submit(ctx, dispatch.Draft{
		Text: strings.TrimSpace(caption),
		File: &upload.Blob{
			Name:     filepath.Base(pathArg),
			MIMEType: mimeType,
			Data:     data,
		},
	})
}

func (c *Console) forward(ctx context.Context, rest string) error {
	args := strings.Fields(rest)
	if len(args) < 2 {
		c.printf("usage: /forward <message#> <uid> [uid...]\n")
		return nil
	}
	msg, err := c.messageAt(args[0])
	if err != nil {
		return err
	}
	return c.disp.Forward(ctx, msg, args[1:])
}

func (c *Console) deleteMessage(ctx context.Context, rest string) error {
	msg, err := c.messageAt(rest)
	if err != nil {
		return err
	}
	fromAI := c.rec.State().Target.Kind() == identity.KindAssistant
	return c.disp.Delete(ctx, msg.ID, fromAI)
}

// messageAt resolves a 1-based thread index as printed by renderThread.
func (c *Console) messageAt(arg string) (model.Message, error) {
	idx, err := strconv.Atoi(arg)
	if err != nil {
		return model.Message{}, fmt.Errorf("bad message number %q", arg)
	}
	msgs := c.rec.State().Messages
	if idx < 1 || idx > len(msgs) {
		return model.Message{}, fmt.Errorf("message %d out of range (thread has %d)", idx, len(msgs))
	}
	return msgs[idx-1], nil
}

func (c *Console) markRead(ctx context.Context) error {
	uid := c.rec.State().Target.UserUID()
	if uid == "" {
		c.printf("not in a direct conversation\n")
		return nil
	}
	return c.disp.MarkConversationRead(ctx, identity.ConversationKey(c.selfUID, uid))
}

func (c *Console) createGroup(ctx context.Context, rest string) error {
	args := strings.Fields(rest)
	if len(args) < 2 {
		c.printf("usage: /group <name> <uid> [uid...]\n")
		return nil
	}
	id, err := c.disp.CreateGroup(ctx, args[0], args[1:])
	if err != nil {
		return err
	}
	c.printf("group %s created (%s)\n", args[0], id)
	return nil
}

// renderThread prints what changed in the open thread. Appends print as
// numbered lines; anything else (switch, deletion) reprints in full.
func (c *Console) renderThread() {
	s := c.rec.State()
	lines := view.Thread(s)

	c.mu.Lock()
	prev := c.thread
	c.thread = lines
	c.mu.Unlock()

	if hasLinePrefix(lines, prev) {
		for i := len(prev); i < len(lines); i++ {
			c.printf("%3d %s\n", i+1, lines[i])
		}
		return
	}

	c.printHeader(true)
	for i, ln := range lines {
		c.printf("%3d %s\n", i+1, ln)
	}
}

// printHeader prints the active target's header line, suppressing
// consecutive duplicates unless force is set.
func (c *Console) printHeader(force bool) {
	h := view.Header(c.rec.State())
	c.mu.Lock()
	same := h == c.lastHeader
	c.lastHeader = h
	c.mu.Unlock()
	if same && !force {
		return
	}
	c.printf("%s\n", h)
}

func (c *Console) resetThread() {
	c.mu.Lock()
	c.thread = nil
	c.mu.Unlock()
}

func hasLinePrefix(lines, prev []string) bool {
	if len(prev) > len(lines) {
		return false
	}
	for i := range prev {
		if lines[i] != prev[i] {
			return false
		}
	}
	return true
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) printUsage() {
	c.printf(`commands:
  /users                list direct contacts
  /groups               list groups
  /select [n]           open conversation n from the list; no n clears
  /ai                   talk to the assistant
  /send <text>          send text (bare lines send too)
  /attach <path> [txt]  upload a file and send it
  /forward <n> <uid..>  forward thread message n
  /delete <n>           delete thread message n
  /read                 mark the open conversation read
  /group <name> <uid..> create a group
  /quit                 exit
`)
}
