package terminal

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/money"
	"kasirinaja/pos/internal/register"
)

func (r *Runner) newSaleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sale",
		Short: "Record and void sales",
	}
	cmd.AddCommand(r.newSaleRecordCommand())
	cmd.AddCommand(r.newSaleVoidCommand())
	return cmd
}

func (r *Runner) newSaleRecordCommand() *cobra.Command {
	var (
		items, payments, vouchers []string
		note                      string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a completed sale",
		Long: `Record a completed sale and queue it for push.

Items are product[:quantity[@price]]; the catalog price is used when no
price is given. Payments are method:amount[:reference] with method one of
cash, card, qris or ewallet.

Example:
  terminal sale record --item p-1:2 --item p-7@12500 --pay cash:50000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := register.SaleRequest{VoucherCodes: vouchers, Note: note}
			for _, raw := range items {
				item, err := parseItem(raw)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
			}
			for _, raw := range payments {
				p, err := parsePayment(raw)
				if err != nil {
					return err
				}
				req.Payments = append(req.Payments, p)
			}
			tx, err := r.register.RecordSale(cmd.Context(), req)
			if err != nil {
				return err
			}
			return r.emit(cmd, tx, func(w io.Writer) error {
				return writeReceipt(w, *tx)
			})
		},
	}
	cmd.Flags().StringArrayVar(&items, "item", nil, "line item product[:quantity[@price]] (repeatable)")
	cmd.Flags().StringArrayVar(&payments, "pay", nil, "payment method:amount[:reference] (repeatable)")
	cmd.Flags().StringArrayVar(&vouchers, "voucher", nil, "voucher code (repeatable)")
	cmd.Flags().StringVar(&note, "note", "", "sale note")

	return cmd
}

func (r *Runner) newSaleVoidCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "void <client-id>",
		Short: "Refund a completed sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refund, err := r.register.VoidSale(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return r.emit(cmd, refund, func(w io.Writer) error {
				return writeReceipt(w, *refund)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "void reason (required)")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func parseItem(raw string) (domain.LineItem, error) {
	entry, priceRaw, hasPrice := strings.Cut(strings.TrimSpace(raw), "@")
	productID, qtyRaw, hasQty := strings.Cut(entry, ":")
	item := domain.LineItem{ProductID: strings.TrimSpace(productID), Quantity: 1}
	if hasQty {
		qty, err := strconv.Atoi(strings.TrimSpace(qtyRaw))
		if err != nil {
			return domain.LineItem{}, fmt.Errorf("item %q: bad quantity", raw)
		}
		item.Quantity = qty
	}
	if hasPrice {
		price, err := money.Parse(priceRaw)
		if err != nil {
			return domain.LineItem{}, fmt.Errorf("item %q: %w", raw, err)
		}
		item.UnitPrice = price
	}
	return item, nil
}

func parsePayment(raw string) (domain.Payment, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 3)
	if len(parts) < 2 {
		return domain.Payment{}, fmt.Errorf("payment %q: want method:amount", raw)
	}
	amount, err := money.Parse(parts[1])
	if err != nil {
		return domain.Payment{}, fmt.Errorf("payment %q: %w", raw, err)
	}
	p := domain.Payment{Method: strings.ToLower(strings.TrimSpace(parts[0])), Amount: amount, Change: decimal.Zero}
	if len(parts) == 3 {
		p.Reference = strings.TrimSpace(parts[2])
	}
	return p, nil
}

func writeReceipt(w io.Writer, tx domain.Transaction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%s\t%s\t\n", tx.ClientID, tx.Status)
	for _, item := range tx.Items {
		fmt.Fprintf(tw, "%s x%d\t%s\t\n", item.Name, item.Quantity, money.Format(item.Subtotal))
	}
	fmt.Fprintf(tw, "Subtotal\t%s\t\n", money.Format(tx.Subtotal))
	if tx.Discount.IsPositive() {
		fmt.Fprintf(tw, "Discount\t-%s\t\n", money.Format(tx.Discount))
	}
	if tx.Tax.IsPositive() {
		fmt.Fprintf(tw, "Tax\t%s\t\n", money.Format(tx.Tax))
	}
	fmt.Fprintf(tw, "Total\t%s\t\n", money.Format(tx.Total))
	for _, p := range tx.Payments {
		fmt.Fprintf(tw, "%s\t%s\t\n", p.Method, money.Format(p.Amount))
		if p.Change.IsPositive() {
			fmt.Fprintf(tw, "change\t%s\t\n", money.Format(p.Change))
		}
	}
	return tw.Flush()
}
