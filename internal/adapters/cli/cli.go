package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"pos-ledger/internal/app"
	"pos-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// ErrDrift is returned by verify when the movement log does not replay to the
// stored stock.
var ErrDrift = fmt.Errorf("ledger drift detected")

const usage = `Available: stock, lots <product>, alerts [status], scan, expire, ack <alert-id>,
           session <register>, open <register> <amount>, close <session> <amount>,
           movements [product-id], verify, token [hours]`

// Run executes a one-shot CLI command on behalf of actor.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, actor core.Actor, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command\n%s", usage)
	}

	switch args[0] {
	case "help", "-h", "--help":
		fmt.Fprintln(out, usage)

	case "stock", "st":
		result, err := svc.GetStockLevels(ctx)
		if err != nil {
			return fmt.Errorf("failed to get stock levels: %w", err)
		}
		printStock(out, result.Levels)

	case "lots":
		if len(args) < 2 {
			return fmt.Errorf("usage: app lots <product id or code>")
		}
		p, err := svc.GetProduct(ctx, args[1])
		if err != nil {
			return err
		}
		lots, err := svc.ListLots(ctx, p.ID)
		if err != nil {
			return err
		}
		printLots(out, p, lots)

	case "alerts", "al":
		status := core.AlertActive
		if len(args) > 1 {
			status = core.AlertStatus(args[1])
		}
		alerts, err := svc.ListAlerts(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}
		printAlerts(out, alerts)

	case "scan":
		alerts, err := svc.ScanExpirations(ctx)
		if err != nil {
			return fmt.Errorf("expiry scan failed: %w", err)
		}
		fmt.Fprintf(out, "%d new alert(s)\n", len(alerts))
		printAlerts(out, alerts)

	case "expire":
		results, err := svc.ExpireLots(ctx, actor)
		if err != nil {
			return fmt.Errorf("expire failed: %w", err)
		}
		for _, r := range results {
			fmt.Fprintf(out, "product %d: %s -> %s (%d movement(s))\n",
				r.ProductID, r.PreviousStock, r.NewStock, len(r.Movements))
		}
		fmt.Fprintf(out, "%d product(s) expired\n", len(results))

	case "ack":
		if len(args) < 2 {
			return fmt.Errorf("usage: app ack <alert-id>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid alert id %q", args[1])
		}
		alert, err := svc.AcknowledgeAlert(ctx, id, actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "alert %d %s\n", alert.ID, alert.Status)

	case "session", "ses":
		registerID, err := intArg(args, 1, "register")
		if err != nil {
			return err
		}
		result, err := svc.GetOpenSession(ctx, registerID)
		if err != nil {
			return err
		}
		printSession(out, result)

	case "open":
		registerID, err := intArg(args, 1, "register")
		if err != nil {
			return err
		}
		amount, err := decimalArg(args, 2, "amount")
		if err != nil {
			return err
		}
		session, err := svc.OpenSession(ctx, core.OpenSessionRequest{
			RegisterID:    registerID,
			OpeningAmount: amount,
			Actor:         actor,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "session %s opened with %s\n", session.SessionNumber, session.OpeningAmount.StringFixed(2))

	case "close":
		sessionID, err := intArg(args, 1, "session")
		if err != nil {
			return err
		}
		amount, err := decimalArg(args, 2, "amount")
		if err != nil {
			return err
		}
		result, err := svc.CloseSession(ctx, core.CloseSessionRequest{
			SessionID:     sessionID,
			ClosingAmount: amount,
			Actor:         actor,
		})
		if err != nil {
			return err
		}
		printSession(out, result)

	case "movements", "mv":
		var f core.MovementFilter
		if len(args) > 1 {
			id, err := intArg(args, 1, "product id")
			if err != nil {
				return err
			}
			f.ProductID = id
		}
		movements, err := svc.ListMovements(ctx, f)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		for _, m := range movements {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}

	case "verify":
		report, err := svc.VerifyLedger(ctx)
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}
		fmt.Fprintf(out, "replayed %d movement(s) across %d product(s)\n", report.Movements, report.Products)
		if report.Consistent() {
			fmt.Fprintln(out, "ledger consistent")
			return nil
		}
		for _, d := range report.Drift {
			fmt.Fprintf(out, "  %-12s stored %s replayed %s chain breaks %d quantity mismatches %d\n",
				d.ProductCode, d.Stored, d.Replayed, d.ChainBreaks, d.QuantityMismatches)
		}
		return ErrDrift

	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
	return nil
}

func intArg(args []string, i int, name string) (int, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.Atoi(args[i])
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, args[i])
	}
	return v, nil
}

func decimalArg(args []string, i int, name string) (decimal.Decimal, error) {
	if len(args) <= i {
		return decimal.Zero, fmt.Errorf("missing %s", name)
	}
	v, err := decimal.NewFromString(args[i])
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q", name, args[i])
	}
	return v, nil
}

func printStock(out io.Writer, levels []core.StockLevel) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 78))
	fmt.Fprintf(out, "  %-12s %-28s %-10s %10s %10s\n", "CODE", "NAME", "LOCATION", "ON HAND", "AVAILABLE")
	fmt.Fprintln(out, strings.Repeat("-", 78))
	for _, l := range levels {
		fmt.Fprintf(out, "  %-12s %-28s %-10s %10s %10s\n",
			l.ProductCode, truncate(l.ProductName, 28), l.LocationCode,
			l.OnHand.StringFixed(3), l.Available.StringFixed(3))
	}
	fmt.Fprintln(out, strings.Repeat("=", 78))
}

func printLots(out io.Writer, p *core.Product, lots []core.Lot) {
	fmt.Fprintf(out, "%s %s (stock %s)\n", p.Code, p.Name, p.CurrentStock.StringFixed(3))
	for _, l := range lots {
		expires := "-"
		if l.ExpirationDate != nil {
			expires = l.ExpirationDate.Format("2006-01-02")
		}
		state := "active"
		if !l.IsActive {
			state = "inactive"
		}
		fmt.Fprintf(out, "  lot %-14s loc %-3d qty %10s expires %s %s\n",
			l.LotNumber, l.LocationID, l.Quantity.StringFixed(3), expires, state)
	}
}

func printAlerts(out io.Writer, alerts []core.Alert) {
	for _, a := range alerts {
		fmt.Fprintf(out, "  #%-5d %-9s %-14s %s\n", a.ID, a.Level, a.Type, a.Message)
	}
}

func printSession(out io.Writer, r *app.SessionResult) {
	s := r.Session
	fmt.Fprintf(out, "session %s (%s) register %d\n", s.SessionNumber, s.Status, s.RegisterID)
	fmt.Fprintf(out, "  opening  %12s\n", s.OpeningAmount.StringFixed(2))
	for _, m := range r.Movements {
		fmt.Fprintf(out, "  %-8s %12s %s\n", m.Type, m.Amount.StringFixed(2), m.Description)
	}
	fmt.Fprintf(out, "  expected %12s\n", r.Expected.StringFixed(2))
	if s.ClosingAmount != nil && s.Difference != nil {
		fmt.Fprintf(out, "  counted  %12s\n", s.ClosingAmount.StringFixed(2))
		fmt.Fprintf(out, "  diff     %12s\n", s.Difference.StringFixed(2))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
