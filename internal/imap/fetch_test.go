package imap

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sortingServer is a scripted IMAP server that advertises SORT and answers
// every UID SORT with a fixed list.
type sortingServer struct {
	listener net.Listener
	sorted   string

	mu       sync.Mutex
	commands []string
}

func newSortingServer(t *testing.T, sorted string) *sortingServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &sortingServer{listener: listener, sorted: sorted}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return s
}

func (s *sortingServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *sortingServer) handle(conn net.Conn) {
	defer conn.Close()
	w := bufio.NewWriter(conn)
	reply := func(lines ...string) {
		for _, line := range lines {
			_, _ = w.WriteString(line + "\r\n")
		}
		_ = w.Flush()
	}

	reply("* OK [CAPABILITY IMAP4rev1 SORT] ready")
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		tag, command, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
		s.mu.Lock()
		s.commands = append(s.commands, command)
		s.mu.Unlock()

		upper := strings.ToUpper(command)
		switch {
		case strings.HasPrefix(upper, "UID SORT"):
			reply("* SORT "+s.sorted, tag+" OK UID SORT completed")
		case strings.HasPrefix(upper, "SELECT"), strings.HasPrefix(upper, "EXAMINE"):
			reply("* 3 EXISTS", "* FLAGS (\\Seen)", tag+" OK [READ-ONLY] done")
		case upper == "CAPABILITY":
			reply("* CAPABILITY IMAP4rev1 SORT", tag+" OK CAPABILITY completed")
		case strings.HasPrefix(upper, "LOGOUT"):
			reply("* BYE logging out", tag+" OK LOGOUT completed")
			return
		default:
			reply(tag + " OK done")
		}
	}
}

func (s *sortingServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func TestListUIDsNewestFirstUsesServerSort(t *testing.T) {
	server := newSortingServer(t, "5 3 1")

	c, err := client.Dial(server.listener.Addr().String())
	require.NoError(t, err)
	defer func() { _ = c.Logout() }()

	_, err = c.Select("INBOX", true)
	require.NoError(t, err)

	uids, err := ListUIDsNewestFirst(c)
	require.NoError(t, err)
	assert.Equal(t, []uint32{5, 3, 1}, uids)

	var sortCommand string
	for _, command := range server.received() {
		if strings.HasPrefix(strings.ToUpper(command), "UID SORT") {
			sortCommand = command
		}
	}
	require.NotEmpty(t, sortCommand, fmt.Sprintf("no UID SORT among %v", server.received()))
	assert.Contains(t, strings.ToUpper(sortCommand), "REVERSE ARRIVAL")
	for _, command := range server.received() {
		assert.False(t, strings.HasPrefix(strings.ToUpper(command), "UID SEARCH"), "fell back to SEARCH")
	}
}

func TestListUIDsNewestFirstNilClient(t *testing.T) {
	_, err := ListUIDsNewestFirst(nil)
	assert.Error(t, err)
}
