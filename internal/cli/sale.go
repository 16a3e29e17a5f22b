package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/candykush2025/pos-candy-kush-sub005/internal/model"
)

// saleFile is the on-disk receipt format. JSON files parse as YAML.
type saleFile struct {
	ReceiptID  string     `yaml:"receipt_id"`
	CustomerID string     `yaml:"customer_id"`
	Lines      []saleLine `yaml:"lines"`
}

type saleLine struct {
	ItemID    string `yaml:"item_id"`
	Quantity  int64  `yaml:"quantity"`
	UnitPrice string `yaml:"unit_price"`
}

// NewSaleCommand creates the sale command.
func NewSaleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sale <receipt-file>",
		Short: "Record a completed sale",
		Long: `Record a sale from a YAML or JSON receipt file ("-" reads stdin).

The receipt, one stock decrement per line and any loyalty points earned
are queued together. Totals are computed locally.

Example file:
  customer_id: c-42
  lines:
    - item_id: sku-123
      quantity: 2
      unit_price: "4.50"

Examples:
  posync sale ./receipt.yaml
  cat receipt.json | posync sale - --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := readReceipt(cmd.InOrStdin(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid receipt file", err)
			}
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			r, err = s.Service.SubmitSale(commandContext(cmd), r)
			if err != nil {
				return opError("sale refused", err)
			}
			return s.out.Render(r, func(w io.Writer) {
				fmt.Fprintf(w, "receipt %s: %d lines, total %s", r.ReceiptID, len(r.Lines), r.Total.StringFixed(2))
				if r.PointsEarned > 0 {
					fmt.Fprintf(w, ", %d points earned", r.PointsEarned)
				}
				fmt.Fprintln(w, " (queued)")
			})
		},
	}
	return cmd
}

func readReceipt(stdin io.Reader, path string) (model.Receipt, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return model.Receipt{}, err
	}
	return parseReceipt(data)
}

func parseReceipt(data []byte) (model.Receipt, error) {
	var f saleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return model.Receipt{}, fmt.Errorf("decode: %w", err)
	}

	r := model.Receipt{ReceiptID: f.ReceiptID, CustomerID: f.CustomerID}
	for i, l := range f.Lines {
		price, err := decimal.NewFromString(strings.TrimSpace(l.UnitPrice))
		if err != nil {
			return model.Receipt{}, fmt.Errorf("lines[%d].unit_price: %w", i, err)
		}
		r.Lines = append(r.Lines, model.ReceiptLine{ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: price})
	}
	return r, nil
}
