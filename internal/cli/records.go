package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/store"
)

// RequestView is the CLI rendering of a projected request.
type RequestView struct {
	ID              uint64   `json:"id"`
	Status          string   `json:"status"`
	Initiator       string   `json:"initiator"`
	Landlord        string   `json:"landlord"`
	PropertyID      string   `json:"property_id"`
	DescriptionHash string   `json:"description_hash"`
	WorkDetailsHash string   `json:"work_details_hash,omitempty"`
	CreatedAt       uint64   `json:"created_at"`
	UpdatedAt       uint64   `json:"updated_at"`
	Description     string   `json:"description,omitempty"`
	Urgency         string   `json:"urgency"`
	Attachments     []string `json:"attachments,omitempty"`
}

func viewOf(r store.Record) RequestView {
	return RequestView{
		ID:              r.ID,
		Status:          r.Status.String(),
		Initiator:       r.Initiator.String(),
		Landlord:        r.Landlord.String(),
		PropertyID:      r.PropertyID,
		DescriptionHash: r.DescriptionHash,
		WorkDetailsHash: r.WorkDetailsHash,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Description:     r.Description,
		Urgency:         string(r.Urgency),
		Attachments:     r.Attachments,
	}
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a projected repair request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return out.Fail(ExitCommandError, CodeInvalidArgs, err)
			}
			st, err := openStore(opts)
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, err)
			}
			defer st.Close()

			r, err := st.ReadByID(cmd.Context(), id)
			if err != nil {
				return failRead(out, err)
			}
			return writeRecord(out, viewOf(r))
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var initiator, landlord string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projected repair requests",
		Long: `List projected repair requests ordered by id.

Examples:
  repairsync list
  repairsync list --initiator 0x0000000000000000000000000000000000000001
  repairsync list --landlord 0x0000000000000000000000000000000000000002 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			st, err := openStore(opts)
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, err)
			}
			defer st.Close()

			var records []store.Record
			switch {
			case initiator != "":
				addr, perr := ledger.ParseAddress(initiator)
				if perr != nil {
					return out.Fail(ExitCommandError, CodeInvalidArgs, perr)
				}
				records, err = st.ListByInitiator(cmd.Context(), addr)
			case landlord != "":
				addr, perr := ledger.ParseAddress(landlord)
				if perr != nil {
					return out.Fail(ExitCommandError, CodeInvalidArgs, perr)
				}
				records, err = st.ListByLandlord(cmd.Context(), addr)
			default:
				records, err = st.ListAll(cmd.Context())
			}
			if err != nil {
				return out.Fail(ExitFailure, CodeStore, err)
			}

			views := make([]RequestView, len(records))
			rows := make([]table.Row, len(records))
			for i, r := range records {
				views[i] = viewOf(r)
				rows[i] = table.Row{
					r.ID, r.Status.String(), r.Initiator.Short(), r.Landlord.Short(),
					r.PropertyID, string(r.Urgency), formatTime(r.UpdatedAt),
				}
			}
			return out.Table(table.Row{"ID", "Status", "Initiator", "Landlord", "Property", "Urgency", "Updated"}, rows, views)
		},
	}

	cmd.Flags().StringVar(&initiator, "initiator", "", "only requests created by this account")
	cmd.Flags().StringVar(&landlord, "landlord", "", "only requests assigned to this landlord")
	cmd.MarkFlagsMutuallyExclusive("initiator", "landlord")

	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the events applied to a repair request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return out.Fail(ExitCommandError, CodeInvalidArgs, err)
			}
			st, err := openStore(opts)
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, err)
			}
			defer st.Close()

			events, err := st.History(cmd.Context(), id)
			if err != nil {
				return out.Fail(ExitFailure, CodeStore, err)
			}
			if len(events) == 0 {
				return out.Fail(ExitFailure, CodeNotFound, fmt.Errorf("no events applied for request %d", id))
			}

			rows := make([]table.Row, len(events))
			for i, e := range events {
				rows[i] = table.Row{i + 1, string(e.Type), formatTime(e.At.Timestamp), e.At.String(), shortHash(e.TxHash)}
			}
			return out.Table(table.Row{"#", "Event", "Time", "Position", "Tx"}, rows, events)
		},
	}
}

// NewAnnotateCommand creates the annotate command, which edits the
// locally-owned details of a projected request.
func NewAnnotateCommand(opts *RootOptions) *cobra.Command {
	var (
		description string
		urgency     string
		attachments []string
	)

	cmd := &cobra.Command{
		Use:   "annotate <id>",
		Short: "Edit the local description, urgency and attachments of a request",
		Long: `Edit the fields of a projected request that live only in the local
database. Ledger fields are never touched. Flags that are not given keep
their current value.

Examples:
  repairsync annotate 3 --description "Kitchen tap drips" --urgency high
  repairsync annotate 3 --attach photo1.jpg --attach photo2.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return out.Fail(ExitCommandError, CodeInvalidArgs, err)
			}
			st, err := openStore(opts)
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, err)
			}
			defer st.Close()

			r, err := st.ReadByID(cmd.Context(), id)
			if err != nil {
				return failRead(out, err)
			}
			details := r.LocalDetails
			if cmd.Flags().Changed("description") {
				details.Description = description
			}
			if cmd.Flags().Changed("urgency") {
				details.Urgency = store.Urgency(strings.ToLower(urgency))
				if !details.Urgency.Valid() {
					return out.Fail(ExitCommandError, CodeInvalidArgs, fmt.Errorf("invalid urgency %q: want low, normal, high or emergency", urgency))
				}
			}
			if cmd.Flags().Changed("attach") {
				details.Attachments = attachments
			}
			if err := st.SetLocalDetails(cmd.Context(), id, details); err != nil {
				return failRead(out, err)
			}

			r, err = st.ReadByID(cmd.Context(), id)
			if err != nil {
				return failRead(out, err)
			}
			return writeRecord(out, viewOf(r))
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "free-text description")
	cmd.Flags().StringVar(&urgency, "urgency", "", "low, normal, high or emergency")
	cmd.Flags().StringArrayVar(&attachments, "attach", nil, "attachment reference (repeatable, replaces the list)")

	return cmd
}

func writeRecord(out *OutputFormatter, v RequestView) error {
	rows := []table.Row{
		{"ID", v.ID},
		{"Status", v.Status},
		{"Initiator", v.Initiator},
		{"Landlord", v.Landlord},
		{"Property", v.PropertyID},
		{"Description hash", v.DescriptionHash},
		{"Work details hash", v.WorkDetailsHash},
		{"Created", formatTime(v.CreatedAt)},
		{"Updated", formatTime(v.UpdatedAt)},
		{"Description", v.Description},
		{"Urgency", v.Urgency},
		{"Attachments", strings.Join(v.Attachments, ", ")},
	}
	return out.Table(table.Row{"Field", "Value"}, rows, v)
}

// openStore opens the configured projection database. Unlike store.Open it
// refuses to create a missing file.
func openStore(opts *RootOptions) (*store.Store, error) {
	path := opts.Config.Database.Path
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("database not found: %s", path)
		}
	}
	return store.Open(path)
}

func failRead(out *OutputFormatter, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return out.Fail(ExitFailure, CodeNotFound, err)
	}
	return out.Fail(ExitFailure, CodeStore, err)
}

func parseID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid request id %q", arg)
	}
	return id, nil
}

func formatTime(ts uint64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}
