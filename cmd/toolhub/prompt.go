package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/moqimoqidea/gemini-cli/pkg/bus"
	"github.com/moqimoqidea/gemini-cli/pkg/tools"
)

var answers = map[string]tools.ConfirmationOutcome{
	"y": tools.OutcomeProceedOnce,
	"t": tools.OutcomeProceedAlwaysTool,
	"s": tools.OutcomeProceedAlwaysServer,
	"p": tools.OutcomeProceedAlwaysSave,
	"n": tools.OutcomeCancel,
}

// terminalPrompter answers confirmation requests on a line-oriented terminal,
// one prompt at a time.
type terminalPrompter struct {
	bus  *bus.MessageBus
	in   *bufio.Reader
	out  io.Writer
	subs []*bus.Subscription

	mu sync.Mutex
}

func attachPrompter(b *bus.MessageBus, in io.Reader, out io.Writer) *terminalPrompter {
	p := &terminalPrompter{bus: b, in: bufio.NewReader(in), out: out}
	p.subs = []*bus.Subscription{
		b.Subscribe(bus.TypeConfirmationRequest, p.onRequest),
		b.Subscribe(bus.TypePolicyRejection, p.onRejection),
	}
	return p
}

// Detach stops answering new requests. A prompt already on screen is left
// to its reader.
func (p *terminalPrompter) Detach() {
	for _, s := range p.subs {
		p.bus.Unsubscribe(s)
	}
}

func (p *terminalPrompter) onRequest(msg bus.Message) {
	req, ok := msg.(bus.ConfirmationRequest)
	if !ok {
		return
	}
	go p.ask(req)
}

func (p *terminalPrompter) onRejection(msg bus.Message) {
	if rej, ok := msg.(bus.PolicyRejection); ok {
		color.New(color.FgRed).Fprintf(p.out, "✗ %s rejected by policy: %s\n", rej.ToolName, rej.Reason)
	}
}

func (p *terminalPrompter) ask(req bus.ConfirmationRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	yellow := color.New(color.FgYellow, color.Bold)
	gray := color.New(color.FgHiBlack)

	title := "Confirm tool call"
	if req.Details != nil && req.Details.Title != "" {
		title = req.Details.Title
	}
	yellow.Fprintf(p.out, "? %s\n", title)
	fmt.Fprintf(p.out, "  tool: %s\n", req.ToolName)
	if len(req.Args) > 0 {
		if data, err := json.MarshalIndent(req.Args, "  ", "  "); err == nil {
			fmt.Fprintf(p.out, "  args: %s\n", data)
		}
	}
	gray.Fprintln(p.out, "  [y] once  [t] always this tool  [s] always this server  [p] always and save  [n] no")

	outcome := tools.OutcomeCancel
	for {
		fmt.Fprint(p.out, "> ")
		line, err := p.in.ReadString('\n')
		choice, known := answers[strings.ToLower(strings.TrimSpace(line))]
		if known {
			outcome = choice
			break
		}
		if err != nil {
			break
		}
	}

	resp := bus.ConfirmationResponse{
		CorrelationID: req.CorrelationID,
		Confirmed:     outcome != tools.OutcomeCancel,
		Outcome:       outcome,
	}
	if err := p.bus.Publish(resp); err != nil {
		fmt.Fprintf(p.out, "answer dropped: %v\n", err)
	}
}
