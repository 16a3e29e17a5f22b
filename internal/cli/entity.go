package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/gate"
	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// NewStockCommand creates the stock command.
func NewStockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stock <item-id> <delta>",
		Short: "Record a stock adjustment",
		Long: `Record a signed stock adjustment for a cached item and queue it for sync.

The item must have been pulled at least once.

Examples:
  posync stock sku-123 -2
  posync stock sku-123 24 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid delta", err)
			}
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			rec, err := s.Service.SubmitStockDelta(commandContext(cmd), args[0], delta)
			if err != nil {
				return opError("stock adjustment refused", err)
			}
			return s.out.Render(rec, func(w io.Writer) {
				fmt.Fprintf(w, "%s: quantity %d (queued)\n", rec.ItemID, rec.Quantity)
				if rec.IsOutOfStock() {
					fmt.Fprintln(w, "warning: out of stock")
				}
			})
		},
	}
}

// CustomerOptions holds flags for the customer command.
type CustomerOptions struct {
	*RootOptions
	Name        string
	Email       string
	Phone       string
	NoMember    bool
	Expiry      string
	ClearExpiry bool
	Points      int64
}

// NewCustomerCommand creates the customer command.
func NewCustomerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CustomerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "customer <customer-id>",
		Short: "Record a customer update",
		Long: `Record a partial customer update and queue it for sync.

Only the flags given are written. Expiry accepts YYYY-MM-DD or RFC 3339.

Examples:
  posync customer c-42 --name "Ann Lee"
  posync customer c-42 --expiry 2027-01-31
  posync customer c-42 --no-member=false --clear-expiry`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := customerPatch(cmd, opts)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.Service.SubmitCustomerUpdate(commandContext(cmd), args[0], patch); err != nil {
				return opError("customer update refused", err)
			}
			return s.out.Render(map[string]any{"customer_id": args[0], "fields": patch.Fields()}, func(w io.Writer) {
				fmt.Fprintf(w, "%s: update queued\n", args[0])
			})
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "customer name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "customer email")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "customer phone")
	cmd.Flags().BoolVar(&opts.NoMember, "no-member", false, "mark the customer as a non-member")
	cmd.Flags().StringVar(&opts.Expiry, "expiry", "", "membership expiry date")
	cmd.Flags().BoolVar(&opts.ClearExpiry, "clear-expiry", false, "remove the membership expiry")
	cmd.Flags().Int64Var(&opts.Points, "points", 0, "loyalty point balance")

	return cmd
}

func customerPatch(cmd *cobra.Command, opts *CustomerOptions) (model.CustomerPatch, error) {
	var p model.CustomerPatch
	flags := cmd.Flags()
	if flags.Changed("name") {
		p.Name = &opts.Name
	}
	if flags.Changed("email") {
		p.Email = &opts.Email
	}
	if flags.Changed("phone") {
		p.Phone = &opts.Phone
	}
	if flags.Changed("no-member") {
		p.IsNoMember = &opts.NoMember
	}
	if flags.Changed("points") {
		p.Points = &opts.Points
	}
	if flags.Changed("expiry") {
		t, err := parseDate(opts.Expiry)
		if err != nil {
			return p, WrapExitError(ExitCommandError, "invalid --expiry", err)
		}
		p.ExpiryDate = &t
	}
	p.ClearExpiry = opts.ClearExpiry
	return p, nil
}

// parseDate accepts RFC 3339 or a plain date, which means the end of that
// day in UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(24*time.Hour - time.Nanosecond), nil
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <collection> <id>",
		Short: "Read an entity through the freshness gate",
		Long: `Read an entity. Online reads consult the remote and refresh the cache;
offline reads serve the cached copy marked stale. Fields with unsynced local
changes keep their local values.

Collections: stock, customers, receipts.

Examples:
  posync read stock sku-123
  posync read customers c-42 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()
			ctx := commandContext(cmd)

			switch ref.Collection {
			case model.CollectionStock:
				v, err := s.Service.ReadStock(ctx, ref.ID)
				if err != nil {
					return opError("read failed", err)
				}
				return s.out.Render(v, func(w io.Writer) {
					writeResult(w, v.Result)
					fmt.Fprintf(w, "quantity: %d\n", v.Record.Quantity)
					fmt.Fprintf(w, "out of stock: %t, low stock: %t\n", v.OutOfStock, v.LowStock)
				})
			case model.CollectionCustomers:
				v, err := s.Service.ReadCustomer(ctx, ref.ID)
				if err != nil {
					return opError("read failed", err)
				}
				return s.out.Render(v, func(w io.Writer) {
					writeResult(w, v.Result)
					fmt.Fprintf(w, "name: %s\n", v.Record.Name)
					fmt.Fprintf(w, "points: %d, eligible: %t\n", v.Record.Points, v.Eligible)
				})
			default:
				res, err := s.Service.ReadEntity(ctx, ref)
				if err != nil {
					return opError("read failed", err)
				}
				return s.out.Render(res, func(w io.Writer) {
					writeResult(w, res)
					fmt.Fprintf(w, "data: %s\n", res.Snapshot.Data)
				})
			}
		},
	}
}

func writeResult(w io.Writer, res gate.Result) {
	fmt.Fprintf(w, "%s (source: %s", res.Snapshot.Ref, res.Source)
	if res.Stale {
		fmt.Fprint(w, ", stale")
	}
	if res.Pending {
		fmt.Fprintf(w, ", %d pending", res.PendingCount)
	}
	if res.Snapshot.Inconsistent {
		fmt.Fprint(w, ", INCONSISTENT")
	}
	fmt.Fprintln(w, ")")
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <collection> <id>",
		Short: "Fetch an entity from the remote into the local cache",
		Long: `Fetch an entity from the remote so it can be changed while offline.

Examples:
  posync pull stock sku-123
  posync pull customers c-42`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0], args[1])
			if err != nil {
				return err
			}
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			snap, err := s.Service.Pull(commandContext(cmd), ref)
			if err != nil {
				return opError("pull failed", err)
			}
			return s.out.Render(snap, func(w io.Writer) {
				fmt.Fprintf(w, "%s cached (remote updated %s)\n", snap.Ref, snap.RemoteUpdatedAt.Format(time.RFC3339))
			})
		},
	}
}

func parseRef(collection, id string) (model.EntityRef, error) {
	c, err := model.ParseCollection(collection)
	if err != nil {
		return model.EntityRef{}, WrapExitError(ExitCommandError, "invalid collection", err)
	}
	return model.Ref(c, id), nil
}
