// Command cardctl drives the issuer card API from a terminal.
//
//	cardctl -issuer http://127.0.0.1:9090 issue -account <uuid> -holder "Jane Doe"
//	cardctl get -card <uuid>
//	cardctl status -card <uuid> -status BLOCKED
//	cardctl list -holder-id <uuid> -filter expired
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coolbank/cardflow/internal/issuerdev"
	"github.com/coolbank/cardflow/issuer/models"
	"github.com/google/uuid"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("cardctl", flag.ContinueOnError)
	base := global.String("issuer", envOr("CARDFLOW_ISSUER_URL", "http://127.0.0.1:9090"), "issuer base URL")
	verbose := global.Bool("verbose", false, "print full card number and CVV (otherwise masked)")
	asJSON := global.Bool("json", false, "print raw JSON")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return fmt.Errorf("usage: cardctl [flags] issue|get|status|delete|list [args]")
	}

	cli := issuerdev.New(*base, nil)
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	p := printer{out: out, verbose: *verbose, json: *asJSON}

	cmd, rest := global.Arg(0), global.Args()[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	switch cmd {
	case "issue":
		account := fs.String("account", "", "account ID (UUID)")
		holder := fs.String("holder", "", "card holder full name")
		holderID := fs.String("holder-id", "", "card holder ID (UUID), instead of -holder")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		accountID, err := parseUUID("account", *account)
		if err != nil {
			return err
		}
		var card *models.CardView
		if *holderID != "" {
			hid, err := parseUUID("holder-id", *holderID)
			if err != nil {
				return err
			}
			card, err = cli.IssueForHolder(ctx, accountID, hid)
			if err != nil {
				return err
			}
		} else {
			if strings.TrimSpace(*holder) == "" {
				return fmt.Errorf("-holder or -holder-id is required")
			}
			card, err = cli.Issue(ctx, accountID, *holder)
			if err != nil {
				return err
			}
		}
		return p.card(card)

	case "get":
		cardFlag := fs.String("card", "", "card ID (UUID)")
		number := fs.String("number", "", "card number, instead of -card")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *number != "" {
			card, err := cli.GetByCardNumber(ctx, *number)
			if err != nil {
				return err
			}
			return p.card(card)
		}
		cardID, err := parseUUID("card", *cardFlag)
		if err != nil {
			return err
		}
		card, err := cli.GetByID(ctx, cardID)
		if err != nil {
			return err
		}
		return p.card(card)

	case "status":
		cardFlag := fs.String("card", "", "card ID (UUID)")
		status := fs.String("status", "", "new status, e.g. BLOCKED")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		cardID, err := parseUUID("card", *cardFlag)
		if err != nil {
			return err
		}
		card, err := cli.UpdateStatus(ctx, cardID, *status)
		if err != nil {
			return err
		}
		return p.card(card)

	case "delete":
		cardFlag := fs.String("card", "", "card ID (UUID)")
		account := fs.String("account", "", "delete every card on this account")
		holderID := fs.String("holder-id", "", "delete every card of this holder")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		switch {
		case *account != "":
			id, err := parseUUID("account", *account)
			if err != nil {
				return err
			}
			n, err := cli.DeleteByAccount(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d card(s)\n", n)
		case *holderID != "":
			id, err := parseUUID("holder-id", *holderID)
			if err != nil {
				return err
			}
			n, err := cli.DeleteByHolder(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %d card(s)\n", n)
		default:
			id, err := parseUUID("card", *cardFlag)
			if err != nil {
				return err
			}
			if err := cli.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(out, "deleted 1 card(s)")
		}
		return nil

	case "list":
		account := fs.String("account", "", "list cards on this account")
		holderID := fs.String("holder-id", "", "list cards of this holder")
		holder := fs.String("holder", "", "list cards by holder full name")
		filter := fs.String("filter", "", "with -holder-id: active, expired or status/<STATUS>")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		var (
			cards []models.CardView
			err   error
		)
		switch {
		case *account != "":
			id, perr := parseUUID("account", *account)
			if perr != nil {
				return perr
			}
			cards, err = cli.ListByAccount(ctx, id)
		case *holderID != "":
			id, perr := parseUUID("holder-id", *holderID)
			if perr != nil {
				return perr
			}
			cards, err = cli.ListByHolder(ctx, id, *filter)
		case *holder != "":
			cards, err = cli.ListByHolderName(ctx, *holder)
		default:
			return fmt.Errorf("one of -account, -holder-id or -holder is required")
		}
		if err != nil {
			return err
		}
		return p.cards(cards)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type printer struct {
	out     io.Writer
	verbose bool
	json    bool
}

func (p printer) card(c *models.CardView) error {
	if p.json {
		return p.encode(p.redact(*c))
	}
	fmt.Fprintln(p.out, formatCard(*c, p.verbose))
	return nil
}

func (p printer) cards(cards []models.CardView) error {
	if p.json {
		redacted := make([]models.CardView, 0, len(cards))
		for _, c := range cards {
			redacted = append(redacted, p.redact(c))
		}
		return p.encode(redacted)
	}
	if len(cards) == 0 {
		fmt.Fprintln(p.out, "no cards")
		return nil
	}
	for _, c := range cards {
		fmt.Fprintln(p.out, formatCard(c, p.verbose))
	}
	return nil
}

func (p printer) redact(c models.CardView) models.CardView {
	if !p.verbose {
		c.CardNumber = c.MaskedNumber
		c.CVV = "***"
	}
	return c
}

func (p printer) encode(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatCard renders one card per line. The card number and CVV are masked
// unless verbose is set.
func formatCard(c models.CardView, verbose bool) string {
	number, cvv := c.MaskedNumber, "***"
	if verbose {
		number, cvv = c.CardNumber, c.CVV
	}
	return fmt.Sprintf("%s  %s  cvv=%s  exp=%s  %-8s  %s",
		c.ID, number, cvv, c.ExpirationDate, c.Status, c.CardHolderFullName)
}

func parseUUID(name, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("-%s is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("-%s: %w", name, err)
	}
	return id, nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
