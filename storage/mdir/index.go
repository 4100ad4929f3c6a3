package mdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/mailstore/lib"
	"github.com/creativeprojects/mailstore/mailbox"
)

const indexSuffix = ".index.json"

// index is the sidecar file of a maildir folder: it keeps the mailbox state
// and maps each UID to the key of its maildir message.
type index struct {
	Namespace   string                      `json:"namespace,omitempty"`
	User        string                      `json:"user,omitempty"`
	Name        string                      `json:"name"`
	UidValidity uint32                      `json:"uid_validity"`
	LastUid     mailbox.UID                 `json:"last_uid"`
	Messages    map[mailbox.UID]*indexEntry `json:"messages"`
}

type indexEntry struct {
	Key       string           `json:"key"`
	Flags     []string         `json:"flags"`
	Date      time.Time        `json:"date"`
	Size      uint32           `json:"size"`
	Headers   []mailbox.Header `json:"headers,omitempty"`
	MediaType string           `json:"media_type,omitempty"`
}

func (i *index) path() mailbox.Path {
	return mailbox.Path{
		Namespace: i.Namespace,
		User:      i.User,
		Name:      i.Name,
		Delimiter: lib.CanonicalDelimiter,
	}
}

func (i *index) state() mailbox.State {
	return mailbox.State{
		UidValidity: i.UidValidity,
		LastUid:     i.LastUid,
	}
}

func (i *index) sortedUids() []mailbox.UID {
	uids := make([]mailbox.UID, 0, len(i.Messages))
	for uid := range i.Messages {
		uids = append(uids, uid)
	}
	mailbox.SortUIDs(uids)
	return uids
}

func (e *indexEntry) message(uid mailbox.UID, options mailbox.FetchOptions) *mailbox.Message {
	msg := &mailbox.Message{
		UID:          uid,
		InternalDate: e.Date,
		Size:         e.Size,
		Flags:        mailbox.NewFlags(e.Flags...),
		MediaType:    e.MediaType,
	}
	if options.Headers {
		msg.Headers = e.Headers
	}
	return msg
}

func loadIndex(filename string) (*index, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, lib.ErrMailboxNotFound
		}
		return nil, err
	}
	idx := &index{}
	if err = json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("%w: %s", lib.ErrStatusNotFound, err)
	}
	if idx.Messages == nil {
		idx.Messages = make(map[mailbox.UID]*indexEntry)
	}
	return idx, nil
}

// saveIndex replaces the file atomically
func saveIndex(filename string, idx *index) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(filename), ".index-*")
	if err != nil {
		return err
	}
	defer os.Remove(temp.Name())

	if _, err = temp.Write(data); err != nil {
		temp.Close()
		return err
	}
	if err = temp.Sync(); err != nil {
		temp.Close()
		return err
	}
	if err = temp.Close(); err != nil {
		return err
	}
	return os.Rename(temp.Name(), filename)
}
