package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/tcpsst/tcpsst/pkg/clock"
	"github.com/tcpsst/tcpsst/pkg/logger"
	"github.com/tcpsst/tcpsst/pkg/reactor"
	"github.com/tcpsst/tcpsst/pkg/tcpsst"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	listenAddr        string
	listenWidth       int
	listenInteractive bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept incoming TCPSST peer sessions",
	Run: func(cmd *cobra.Command, args []string) {
		log.Debugf(logger.Info, "listening on %s", listenAddr)

		r := reactor.New(256)
		ctx, cancel := context.WithCancel(context.Background())
		go r.Run(ctx)
		defer cancel()

		srv := newServerState()

		cfg := tcpsst.DefaultConfig().SetWidth(listenWidth)
		ln, err := tcpsst.Listen(listenAddr, cfg, r, clock.New(), srv.onSubstream, srv.onAccepted)
		if err != nil {
			fmt.Println("Error starting listener:", err)
			os.Exit(1)
		}
		defer ln.Close()

		if listenInteractive {
			fmt.Println("TCPSST Listener Interactive Shell")
			fmt.Println("Type 'help' for commands.")
			prompt.New(
				func(in string) { listenExecutor(in, srv) },
				listenCompleter,
				prompt.OptionPrefix("tcpsst-listen> "),
				prompt.OptionTitle("TCPSST Listener"),
			).Run()
		} else {
			select {}
		}
	},
}

// serverState tracks accepted sessions and their substreams so the
// interactive shell can report on them; grounded on the teacher's
// CentralServer peer-list bookkeeping (pkg/tcpsst itself owns no such
// registry since it is a transport, not an application).
type serverState struct {
	mu       sync.Mutex
	sessions []*tcpsst.MultiplexedSocket
	streams  map[uint64]*tcpsst.LogicalStream
	nextKey  uint64
}

func newServerState() *serverState {
	return &serverState{streams: make(map[uint64]*tcpsst.LogicalStream)}
}

func (s *serverState) onAccepted(ms *tcpsst.MultiplexedSocket) {
	s.mu.Lock()
	s.sessions = append(s.sessions, ms)
	s.mu.Unlock()
	fmt.Println("peer session connected")
}

func (s *serverState) onSubstream(ls *tcpsst.LogicalStream) {
	s.mu.Lock()
	key := s.nextKey
	s.nextKey++
	s.streams[key] = ls
	s.mu.Unlock()

	fmt.Printf("new stream id=%d (key=%d)\n", ls.ID(), key)
}

func (s *serverState) status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%d peer session(s), %d stream(s)", len(s.sessions), len(s.streams))
}

func listenExecutor(in string, srv *serverState) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}
	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping listener...")
		os.Exit(0)
	case "status":
		fmt.Println(srv.status())
	case "close":
		if len(blocks) < 2 {
			fmt.Println("Usage: close <stream-key>")
			return
		}
		key, err := strconv.ParseUint(blocks[1], 10, 64)
		if err != nil {
			fmt.Println("bad stream key:", err)
			return
		}
		srv.mu.Lock()
		ls, ok := srv.streams[key]
		srv.mu.Unlock()
		if !ok {
			fmt.Println("no such stream key")
			return
		}
		if err := ls.Close(); err != nil {
			fmt.Println("close error:", err)
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status          - Show session/stream counts")
		fmt.Println("  close <key>     - Close an accepted substream")
		fmt.Println("  exit            - Stop the listener")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func listenCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show session/stream counts"},
		{Text: "close", Description: "Close an accepted substream"},
		{Text: "exit", Description: "Stop the listener"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVarP(&listenAddr, "addr", "a", "0.0.0.0:9000", "Address to listen on")
	listenCmd.Flags().IntVarP(&listenWidth, "width", "w", 3, "Multiplex width in the listener config (accepted sessions use the width the dialer sends)")
	listenCmd.Flags().BoolVarP(&listenInteractive, "interactive", "i", false, "Start in interactive mode")
}
