package imap

import (
	"fmt"
	"io"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
)

// ListUIDsNewestFirst lists every UID in the selected mailbox, newest first.
// Servers that advertise SORT do the ordering (REVERSE ARRIVAL); otherwise
// UID SEARCH ALL results are reversed, since UIDs grow with arrival.
func ListUIDsNewestFirst(c *client.Client) ([]uint32, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	if ok, err := c.Support("SORT"); err == nil && ok {
		sortClient := sortthread.NewSortClient(c)
		uids, err := sortClient.UidSort(
			[]sortthread.SortCriterion{{Field: sortthread.SortArrival, Reverse: true}},
			imap.NewSearchCriteria(),
		)
		if err != nil {
			return nil, fmt.Errorf("SORT command returned error: %w", err)
		}
		return uids, nil
	}

	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	for i, j := 0, len(uids)-1; i < j; i, j = i+1, j-1 {
		uids[i], uids[j] = uids[j], uids[i]
	}
	return uids, nil
}

// FetchedMessage is a whole raw message plus its seen flag.
type FetchedMessage struct {
	UID  uint32
	Raw  []byte
	Seen bool
}

// FetchRaw fetches BODY.PEEK[] for uid, so the server does not mark it read.
func FetchRaw(c *client.Client, uid uint32) (*FetchedMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		if msg == nil {
			msg = m
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("server did not return message %d", uid)
	}

	body := msg.GetBody(section)
	if body == nil {
		for _, literal := range msg.Body {
			body = literal
			break
		}
	}
	if body == nil {
		return nil, fmt.Errorf("server returned no body for message %d", uid)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of message %d: %w", uid, err)
	}

	fetched := &FetchedMessage{UID: uid, Raw: raw}
	for _, flag := range msg.Flags {
		if flag == imap.SeenFlag {
			fetched.Seen = true
		}
	}
	return fetched, nil
}
