package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	mediax "github.com/tanpawarit/despensero/agent/media"
	updaterx "github.com/tanpawarit/despensero/agent/updater"
)

var chatAs string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAs, "as", "local", "counterparty id used for the conversation history")
}

var chatCommands = []string{
	"/audio <path>   send a voice note",
	"/image <path>   send a photo",
	"/media <path>   send a file, kind taken from its extension",
	"/ledger         print the pantry",
	"/exit           quit",
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "tú> ",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "El Despensero. Comandos:")
	for _, c := range chatCommands {
		fmt.Fprintf(out, "  %s\n", c)
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return err
			}
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		ev, done, ok := parseChatLine(chatAs, input)
		if done {
			return nil
		}
		if !ok {
			if input == "/ledger" {
				for _, e := range a.ledger.ListAll() {
					fmt.Fprintf(out, "  %s\n", updaterx.DescribeEntry(e))
				}
				continue
			}
			fmt.Fprintf(out, "comando desconocido: %s\n", input)
			continue
		}

		res, err := a.orchestrator.HandleTurn(ctx, ev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "turno fallido: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "despensero> %s\n", res.Reply.Text)
	}
}

// parseChatLine maps a REPL line to an event. ok is false for commands that
// are not turns; done is true for /exit.
func parseChatLine(counterparty string, input string) (ev contractx.Event, done bool, ok bool) {
	ev = contractx.Event{CounterpartyID: counterparty}
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/exit", "/quit":
		return ev, true, false
	case "/audio":
		if arg == "" {
			return ev, false, false
		}
		ev.Kind = contractx.EventAudio
		ev.Media = &contractx.MediaRef{Path: arg}
		return ev, false, true
	case "/image":
		if arg == "" {
			return ev, false, false
		}
		ev.Kind = contractx.EventImage
		ev.Media = &contractx.MediaRef{Path: arg}
		return ev, false, true
	case "/media":
		switch {
		case mediax.IsAudioPath(arg):
			ev.Kind = contractx.EventAudio
		case mediax.IsImagePath(arg):
			ev.Kind = contractx.EventImage
		default:
			return ev, false, false
		}
		ev.Media = &contractx.MediaRef{Path: arg}
		return ev, false, true
	}
	if strings.HasPrefix(input, "/") {
		return ev, false, false
	}
	ev.Kind = contractx.EventText
	ev.Text = input
	return ev, false, true
}
