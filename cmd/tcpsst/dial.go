package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tcpsst/tcpsst/pkg/clock"
	"github.com/tcpsst/tcpsst/pkg/logger"
	"github.com/tcpsst/tcpsst/pkg/reactor"
	"github.com/tcpsst/tcpsst/pkg/tcpsst"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	dialAddr        string
	dialWidth       int
	dialInteractive bool
	dialMessage     string
)

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Connect to a TCPSST listener and open a logical stream",
	Run: func(cmd *cobra.Command, args []string) {
		log.Debugf(logger.Info, "dialing %s with width=%d", dialAddr, dialWidth)

		r := reactor.New(256)
		ctx, cancel := context.WithCancel(context.Background())
		go r.Run(ctx)
		defer cancel()

		cfg := tcpsst.DefaultConfig().SetWidth(dialWidth)
		ms, err := tcpsst.Connect(dialAddr, cfg, r, clock.New(), func(*tcpsst.LogicalStream) {})
		if err != nil {
			fmt.Println("connect failed:", err)
			os.Exit(1)
		}

		connected := make(chan bool, 1)
		ls, err := ms.OpenStream(tcpsst.CallbackSet{
			OnConnected: func(ok bool) { connected <- ok },
			OnBytesReceived: func(payload []byte) {
				fmt.Printf("received %d byte(s): %q\n", len(payload), string(payload))
			},
			OnDisconnected: func(reason error) {
				fmt.Println("stream disconnected:", reason)
			},
		})
		if err != nil {
			fmt.Println("open stream failed:", err)
			os.Exit(1)
		}
		fmt.Printf("opened stream id=%d\n", ls.ID())

		if dialMessage != "" {
			if err := ls.Send([]byte(dialMessage), tcpsst.ReliableOrdered); err != nil {
				fmt.Println("send failed:", err)
			}
		}

		if dialInteractive {
			fmt.Println("TCPSST Dial Interactive Shell")
			fmt.Println("Type 'help' for commands.")
			prompt.New(
				func(in string) { dialExecutor(in, ls) },
				dialCompleter,
				prompt.OptionPrefix("tcpsst-dial> "),
				prompt.OptionTitle("TCPSST Dial"),
			).Run()
		} else {
			select {}
		}
	},
}

func dialExecutor(in string, ls *tcpsst.LogicalStream) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}
	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Closing stream...")
		_ = ls.Close()
		os.Exit(0)
	case "send":
		if len(blocks) < 2 {
			fmt.Println("Usage: send <reliable|unordered|unreliable> <text...>")
			return
		}
		rel, text := parseReliability(blocks[1:])
		if err := ls.Send([]byte(text), rel); err != nil {
			fmt.Println("send error:", err)
		}
	case "close":
		if err := ls.Close(); err != nil {
			fmt.Println("close error:", err)
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  send <mode> <text>  - mode: reliable, unordered, unreliable")
		fmt.Println("  close               - Close this stream")
		fmt.Println("  exit                - Close and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func parseReliability(args []string) (tcpsst.Reliability, string) {
	if len(args) == 0 {
		return tcpsst.ReliableOrdered, ""
	}
	mode, rest := args[0], args[1:]
	text := strings.Join(rest, " ")
	switch mode {
	case "unordered":
		return tcpsst.ReliableUnordered, text
	case "unreliable":
		return tcpsst.Unreliable, text
	case "reliable":
		return tcpsst.ReliableOrdered, text
	default:
		return tcpsst.ReliableOrdered, strings.Join(args, " ")
	}
}

func dialCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "send", Description: "Send a message on this stream"},
		{Text: "close", Description: "Close this stream"},
		{Text: "exit", Description: "Close and exit"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(dialCmd)
	dialCmd.Flags().StringVarP(&dialAddr, "addr", "a", "127.0.0.1:9000", "Address to dial")
	dialCmd.Flags().IntVarP(&dialWidth, "width", "w", 3, "Multiplex width to negotiate")
	dialCmd.Flags().BoolVarP(&dialInteractive, "interactive", "i", false, "Start in interactive mode")
	dialCmd.Flags().StringVarP(&dialMessage, "send", "s", "", "Message to send immediately after opening the stream")
}
