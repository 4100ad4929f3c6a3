package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creativeprojects/mailstore/mailbox"
	"github.com/creativeprojects/mailstore/search"
	"github.com/creativeprojects/mailstore/term"
	"github.com/spf13/cobra"
)

const dateFormat = "2006-01-02"

type appendFlags struct {
	flags []string
	date  string
}

type searchFlags struct {
	uid     string
	headers []string
	larger  uint32
	smaller uint32
	since   string
	before  string
	flags   []string
	unflags []string
	body    string
}

type storeFlags struct {
	add     bool
	remove  bool
	replace bool
}

var (
	appendOptions appendFlags
	searchOptions searchFlags
	storeOptions  storeFlags
)

var (
	appendCmd = &cobra.Command{
		Use:   "append <account> <mailbox> <file>",
		Short: "Append a message read from a file",
		Args:  cobra.ExactArgs(3),
		RunE:  runOnAccount(runAppend),
	}
	searchCmd = &cobra.Command{
		Use:   "search <account> <mailbox>",
		Short: "Display the UIDs of the messages matching all the criteria",
		Args:  cobra.ExactArgs(2),
		RunE:  runOnAccount(runSearch),
	}
	storeCmd = &cobra.Command{
		Use:   "store <account> <mailbox> <uidset> flags...",
		Short: "Change the flags of messages",
		Args:  cobra.MinimumNArgs(3),
		RunE:  runOnAccount(runStore),
	}
	copyCmd = &cobra.Command{
		Use:   "copy <account> <from> <to> <uidset>",
		Short: "Copy messages into another mailbox",
		Args:  cobra.ExactArgs(4),
		RunE:  runOnAccount(runCopy),
	}
	expungeCmd = &cobra.Command{
		Use:   "expunge <account> <mailbox>",
		Short: "Remove the messages flagged as deleted",
		Args:  cobra.ExactArgs(2),
		RunE:  runOnAccount(runExpunge),
	}
)

func init() {
	appendCmd.Flags().StringArrayVar(&appendOptions.flags, "flag", nil, "flag of the message (can be repeated)")
	appendCmd.Flags().StringVar(&appendOptions.date, "date", "", "internal date of the message (RFC 3339), now by default")

	flag := searchCmd.Flags()
	flag.StringVar(&searchOptions.uid, "uid", "", "set of UIDs, like 1:5,7")
	flag.StringArrayVar(&searchOptions.headers, "header", nil, "header field containing a value, as Name:value (can be repeated)")
	flag.Uint32Var(&searchOptions.larger, "larger", 0, "size larger than this number of bytes")
	flag.Uint32Var(&searchOptions.smaller, "smaller", 0, "size smaller than this number of bytes")
	flag.StringVar(&searchOptions.since, "since", "", "received on or after this date ("+dateFormat+")")
	flag.StringVar(&searchOptions.before, "before", "", "received before this date ("+dateFormat+")")
	flag.StringArrayVar(&searchOptions.flags, "flag", nil, "message has this flag (can be repeated)")
	flag.StringArrayVar(&searchOptions.unflags, "unflag", nil, "message does not have this flag (can be repeated)")
	flag.StringVar(&searchOptions.body, "body", "", "body contains this text")

	storeCmd.Flags().BoolVar(&storeOptions.add, "add", false, "add the flags")
	storeCmd.Flags().BoolVar(&storeOptions.remove, "remove", false, "remove the flags")
	storeCmd.Flags().BoolVar(&storeOptions.replace, "replace", false, "replace all the flags")
	storeCmd.MarkFlagsMutuallyExclusive("add", "remove", "replace")

	rootCmd.AddCommand(appendCmd, searchCmd, storeCmd, copyCmd, expungeCmd)
}

func runAppend(ctx context.Context, store *accountStore, args []string) error {
	props := mailbox.MessageProperties{
		Flags: appendOptions.flags,
	}
	if appendOptions.date != "" {
		date, err := time.Parse(time.RFC3339, appendOptions.date)
		if err != nil {
			return fmt.Errorf("invalid date: %w", err)
		}
		props.InternalDate = date
	}
	file, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.Size() <= int64(^uint32(0)) {
		props.Size = uint32(info.Size())
	}
	uid, err := store.Append(ctx, nil, store.path(args[0]), props, file)
	if err != nil {
		return err
	}
	term.Infof("Message appended with UID %d", uid)
	return nil
}

func runSearch(ctx context.Context, store *accountStore, args []string) error {
	path := store.path(args[0])
	last, err := lastUid(ctx, store, path)
	if err != nil {
		return err
	}
	query, err := searchOptions.query(last)
	if err != nil {
		return err
	}
	term.Debugf("search %s", query)
	uids, err := store.Search(ctx, nil, path, query)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		term.Warn("No message found")
		return nil
	}
	term.Info(joinUids(uids))
	return nil
}

// query builds a conjunction of the criteria given on the command line
func (f searchFlags) query(last mailbox.UID) (search.Criterion, error) {
	query := search.And{}
	if f.uid != "" {
		set, err := mailbox.ParseRangeSet(f.uid, last)
		if err != nil {
			return nil, fmt.Errorf("invalid uid set: %w", err)
		}
		query = append(query, search.UID{Set: set})
	}
	for _, header := range f.headers {
		name, value, found := strings.Cut(header, ":")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid header criterion %q", header)
		}
		query = append(query, search.HeaderContains{Name: name, Value: strings.TrimSpace(value)})
	}
	if f.larger > 0 {
		query = append(query, search.Size{Op: search.SizeGreater, Value: f.larger})
	}
	if f.smaller > 0 {
		query = append(query, search.Size{Op: search.SizeLess, Value: f.smaller})
	}
	if f.since != "" {
		day, err := time.Parse(dateFormat, f.since)
		if err != nil {
			return nil, fmt.Errorf("invalid since date: %w", err)
		}
		query = append(query, search.Date{Op: search.DateSince, Day: day})
	}
	if f.before != "" {
		day, err := time.Parse(dateFormat, f.before)
		if err != nil {
			return nil, fmt.Errorf("invalid before date: %w", err)
		}
		query = append(query, search.Date{Op: search.DateBefore, Day: day})
	}
	for _, flag := range f.flags {
		query = append(query, search.Flag{Name: mailbox.CanonicalFlag(flag), Set: true})
	}
	for _, flag := range f.unflags {
		query = append(query, search.Flag{Name: mailbox.CanonicalFlag(flag), Set: false})
	}
	if f.body != "" {
		query = append(query, search.BodyContains{Value: f.body})
	}
	if len(query) == 0 {
		return search.All{}, nil
	}
	return query, nil
}

func (f storeFlags) mode() (mailbox.FlagMode, error) {
	switch {
	case f.add:
		return mailbox.FlagsAdd, nil
	case f.remove:
		return mailbox.FlagsRemove, nil
	case f.replace:
		return mailbox.FlagsReplace, nil
	default:
		return 0, errors.New("one of --add, --remove or --replace is needed")
	}
}

func runStore(ctx context.Context, store *accountStore, args []string) error {
	mode, err := storeOptions.mode()
	if err != nil {
		return err
	}
	path := store.path(args[0])
	ranges, err := parseUidSet(ctx, store, path, args[1])
	if err != nil {
		return err
	}
	results, err := store.SetFlags(ctx, nil, path, ranges, args[2:], mode)
	if err != nil {
		return err
	}
	uids := make([]mailbox.UID, 0, len(results))
	for uid := range results {
		uids = append(uids, uid)
	}
	mailbox.SortUIDs(uids)
	table := term.NewTable("UID", "Flags")
	for _, uid := range uids {
		table.Append(strconv.FormatUint(uint64(uid), 10), displayFlags(results[uid]))
	}
	return table.Render()
}

func runCopy(ctx context.Context, store *accountStore, args []string) error {
	from := store.path(args[0])
	ranges, err := parseUidSet(ctx, store, from, args[2])
	if err != nil {
		return err
	}
	results, err := store.Copy(ctx, nil, from, store.path(args[1]), ranges)
	if err != nil {
		return err
	}
	table := term.NewTable("Source", "Destination")
	for _, result := range results {
		table.Append(
			strconv.FormatUint(uint64(result.Source), 10),
			strconv.FormatUint(uint64(result.Destination), 10),
		)
	}
	return table.Render()
}

func runExpunge(ctx context.Context, store *accountStore, args []string) error {
	expunged, err := store.Expunge(ctx, nil, store.path(args[0]), nil)
	if err != nil {
		return err
	}
	if len(expunged) == 0 {
		term.Info("No message to expunge")
		return nil
	}
	term.Infof("Expunged %d message(s): %s", len(expunged), joinUids(expunged))
	return nil
}

func parseUidSet(ctx context.Context, store *accountStore, path mailbox.Path, set string) (mailbox.RangeSet, error) {
	last, err := lastUid(ctx, store, path)
	if err != nil {
		return nil, err
	}
	ranges, err := mailbox.ParseRangeSet(set, last)
	if err != nil {
		return nil, fmt.Errorf("invalid uid set: %w", err)
	}
	return ranges, nil
}

func joinUids(uids []mailbox.UID) string {
	values := make([]string, len(uids))
	for i, uid := range uids {
		values[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return strings.Join(values, " ")
}
