// Token mints reviewer bearer tokens for local development and smoke tests.
//
//	token -role centralbank_admin -subject rbi-42 -name Asha
//
// The signing secret comes from -jwt-secret or TRIAGEDESK_JWT_SECRET and must
// match the server's.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/linnemanlabs/go-core/cfg"

	"github.com/linnemanlabs/triagedesk/internal/identity"
)

type options struct {
	secret  string
	subject string
	name    string
	role    string
	ttl     time.Duration
	asJSON  bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fset := flag.NewFlagSet("token", flag.ContinueOnError)
	fset.SetOutput(stderr)

	var o options
	envFile := fset.String("env-file", ".env", "dotenv file to read TRIAGEDESK_ variables from (missing file is ignored)")
	fset.StringVar(&o.secret, "jwt-secret", "", "HMAC secret shared with the server")
	fset.StringVar(&o.subject, "subject", "", "reviewer id (sub claim)")
	fset.StringVar(&o.name, "name", "", "display name")
	fset.StringVar(&o.role, "role", string(identity.Viewer), "centralbank_admin, manit_admin or viewer")
	fset.DurationVar(&o.ttl, "ttl", 8*time.Hour, "token lifetime")
	fset.BoolVar(&o.asJSON, "json", false, "print token and principal as JSON")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	cfg.FillFromEnv(fset, "TRIAGEDESK_", func(format string, a ...any) {
		fmt.Fprintf(stderr, format+"\n", a...)
	})

	return mint(o, stdout)
}

func mint(o options, w io.Writer) error {
	role, err := identity.ParseRole(o.role)
	if err != nil {
		return err
	}
	iss, err := identity.NewIssuer([]byte(o.secret), o.ttl)
	if err != nil {
		return err
	}
	tok, p, err := iss.Issue(o.subject, o.name, role)
	if err != nil {
		return err
	}

	if !o.asJSON {
		_, err = fmt.Fprintln(w, tok)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Token     string             `json:"token"`
		Principal identity.Principal `json:"principal"`
	}{tok, p})
}
