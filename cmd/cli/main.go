// Command coinctl is an ops CLI for the coinstore service.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func usage() {
	fmt.Fprintf(os.Stderr, `coinctl - coinstore ops client

Usage:
  coinctl <command> [flags]

Commands:
  balance    show a user's balances
  grant      credit coins to a user
  purchase   purchase an item for a user
  activate   activate or deactivate an owned item
  owned      list a user's purchases
  active     list a user's active items
  ledger     show a user's ledger log
  sweep      run an expiry sweep
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "balance":
		err = cmdBalance(args)
	case "grant":
		err = cmdGrant(args)
	case "purchase":
		err = cmdPurchase(args)
	case "activate":
		err = cmdActivate(args)
	case "owned":
		err = cmdOwned(args)
	case "active":
		err = cmdActive(args)
	case "ledger":
		err = cmdLedger(args)
	case "sweep":
		err = cmdSweep(args)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addr := fs.String("addr", envOr("COINSTORE_ADDR_URL", "http://localhost:8080"), "service base URL")
	return fs, addr
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// call performs one JSON request and pretty-prints the response body.
func call(method, url string, body any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Write(raw)
	}
	fmt.Println(pretty.String())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s", resp.Status)
	}
	return nil
}

func cmdBalance(args []string) error {
	fs, addr := newFlagSet("balance")
	user := fs.String("user", "", "user id (uuid)")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("-user required")
	}
	return call(http.MethodGet, *addr+"/api/v1/users/"+*user+"/balances", nil)
}

func cmdGrant(args []string) error {
	fs, addr := newFlagSet("grant")
	user := fs.String("user", "", "user id (uuid)")
	amount := fs.Int64("amount", 0, "amount to credit")
	denom := fs.String("denom", "paid", "denomination (free|paid)")
	txType := fs.String("type", "admin_grant", "transaction type tag")
	reason := fs.String("reason", "", "audit note")
	_ = fs.Parse(args)
	if *user == "" || *amount <= 0 {
		return fmt.Errorf("-user and positive -amount required")
	}
	body := map[string]any{
		"user_id":      *user,
		"amount":       *amount,
		"denomination": *denom,
		"type":         *txType,
	}
	if *reason != "" {
		body["metadata"] = map[string]any{"admin_reason": *reason}
	}
	return call(http.MethodPost, *addr+"/internal/credits", body)
}

func cmdPurchase(args []string) error {
	fs, addr := newFlagSet("purchase")
	user := fs.String("user", "", "user id (uuid)")
	item := fs.String("item", "", "catalog item key")
	activate := fs.Bool("activate", false, "activate after purchase")
	token := fs.String("token", "", "idempotency token")
	_ = fs.Parse(args)
	if *user == "" || *item == "" {
		return fmt.Errorf("-user and -item required")
	}
	body := map[string]any{"item_key": *item, "auto_activate": *activate}
	if *token != "" {
		body["idempotency_token"] = *token
	}
	return call(http.MethodPost, *addr+"/api/v1/users/"+*user+"/purchases", body)
}

func cmdActivate(args []string) error {
	fs, addr := newFlagSet("activate")
	user := fs.String("user", "", "user id (uuid)")
	category := fs.String("category", "", "item category")
	item := fs.String("item", "", "item key")
	off := fs.Bool("off", false, "deactivate instead of activate")
	_ = fs.Parse(args)
	if *user == "" || *category == "" || *item == "" {
		return fmt.Errorf("-user, -category and -item required")
	}
	body := map[string]any{"category": *category, "item_id": *item, "active": !*off}
	return call(http.MethodPost, *addr+"/api/v1/users/"+*user+"/activations", body)
}

func cmdOwned(args []string) error {
	fs, addr := newFlagSet("owned")
	user := fs.String("user", "", "user id (uuid)")
	itemType := fs.String("type", "", "filter by item type")
	expired := fs.Bool("expired", false, "include expired records")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("-user required")
	}
	url := *addr + "/api/v1/users/" + *user + "/purchases?"
	if *itemType != "" {
		url += "item_type=" + *itemType + "&"
	}
	if *expired {
		url += "include_expired=true"
	}
	return call(http.MethodGet, url, nil)
}

func cmdActive(args []string) error {
	fs, addr := newFlagSet("active")
	user := fs.String("user", "", "user id (uuid)")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("-user required")
	}
	return call(http.MethodGet, *addr+"/api/v1/users/"+*user+"/active-items", nil)
}

func cmdLedger(args []string) error {
	fs, addr := newFlagSet("ledger")
	user := fs.String("user", "", "user id (uuid)")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("-user required")
	}
	return call(http.MethodGet, *addr+"/api/v1/users/"+*user+"/ledger", nil)
}

func cmdSweep(args []string) error {
	fs, addr := newFlagSet("sweep")
	_ = fs.Parse(args)
	return call(http.MethodPost, *addr+"/internal/sweep", nil)
}
