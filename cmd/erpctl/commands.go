package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/erp/portal/internal/auth"
	"github.com/erp/portal/internal/client"
	"github.com/erp/portal/internal/portal"
	"github.com/erp/portal/internal/warmup"
)

var errUsage = errors.New("usage")

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":   cmdLogin,
	"logout":  cmdLogout,
	"whoami":  cmdWhoami,
	"forgot":  cmdForgot,
	"reset":   cmdReset,
	"passwd":  cmdPasswd,
	"mfa":     cmdMFA,
	"get":     cmdGet,
	"post":    cmdPost,
	"dealers": cmdDealers,
}

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func newFlags(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet("erpctl "+name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// secret returns value, then $env, then prompts
func (a *app) secret(value, env, label string) (string, error) {
	if value != "" {
		return value, nil
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	return a.prompt(label)
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "login")
	var creds auth.Credentials
	var password string
	remember := true
	noWarmup := false
	fs.StringVar(&creds.Email, "email", os.Getenv("ERP_EMAIL"), "Account email")
	fs.StringVar(&creds.CompanyCode, "company", "", "Company code")
	fs.StringVar(&password, "password", "", "Password (default $ERP_PASSWORD, else prompted)")
	fs.StringVar(&creds.MFACode, "mfa-code", "", "Six-digit authentication code")
	fs.StringVar(&creds.RecoveryCode, "recovery-code", "", "MFA recovery code")
	fs.BoolVar(&remember, "remember", true, "Keep the refresh token so the session survives restarts")
	fs.BoolVar(&noWarmup, "no-warmup", false, "Skip prefetching common endpoints after sign-in")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var err error
	if creds.Email == "" {
		if creds.Email, err = a.prompt("Email"); err != nil {
			return err
		}
	}
	if creds.Password, err = a.secret(password, "ERP_PASSWORD", "Password"); err != nil {
		return err
	}

	ctx = a.commandContext(ctx)
	sess, err := a.auth.Login(ctx, creds, remember)
	if err != nil {
		return err
	}

	name := sess.DisplayName
	if name == "" {
		name = creds.Email
	}
	fmt.Fprintf(a.stdout, "Signed in as %s (%s)\n", name, sess.CompanyCode)
	if sess.MustChangePassword {
		fmt.Fprintln(a.stdout, "Your password must be changed. Run 'erpctl passwd'.")
	}

	if !noWarmup {
		result := warmup.NewExecutor(a.client, a.cfg.Warmup, a.logger).Run(ctx)
		if n := result.Failed(); n > 0 {
			fmt.Fprintf(a.stderr, "Warning: %d of %d prefetches failed\n", n, len(result.Outcomes))
		}
	}
	return nil
}

func cmdLogout(ctx context.Context, a *app, args []string) error {
	if err := newFlags(a, "logout").Parse(args); err != nil {
		return err
	}
	outcome := a.auth.Logout(a.commandContext(ctx))
	if !outcome.OK() {
		fmt.Fprintf(a.stderr, "Warning: the server could not be notified (%s)\n", client.UserMessage(outcome.Err))
	}
	fmt.Fprintln(a.stdout, "Signed out")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, args []string) error {
	if err := newFlags(a, "whoami").Parse(args); err != nil {
		return err
	}
	ctx = a.commandContext(ctx)
	profile, err := a.auth.Me(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", profile.DisplayName)
	fmt.Fprintf(w, "Email:\t%s\n", profile.Email)
	fmt.Fprintf(w, "Company:\t%s\n", profile.CompanyCode)
	fmt.Fprintf(w, "Roles:\t%s\n", strings.Join(profile.Roles, ", "))
	fmt.Fprintf(w, "MFA:\t%t\n", profile.MFAEnabled)
	if sess := a.sessions.Current(); sess != nil {
		if claims, err := auth.InspectToken(sess.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
			fmt.Fprintf(w, "Token expires:\t%s\n", claims.ExpiresAt.Local().Format(time.RFC1123))
		}
	}
	return w.Flush()
}

func cmdForgot(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "forgot")
	email := fs.String("email", "", "Account email")
	superAdmin := fs.Bool("superadmin", false, "Use the super-administrator reset flow")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return usageErr("forgot requires -email")
	}
	res, err := a.auth.ForgotPassword(a.commandContext(ctx), *email, *superAdmin)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, res.Message)
	return nil
}

func cmdReset(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "reset")
	token := fs.String("token", "", "Token from the reset link")
	password := fs.String("password", "", "New password (default $ERP_NEW_PASSWORD, else prompted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return usageErr("reset requires -token")
	}
	newPassword, confirm, err := a.newPassword(*password)
	if err != nil {
		return err
	}
	if err := a.auth.ResetPassword(a.commandContext(ctx), *token, newPassword, confirm); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Password updated. You can now sign in.")
	return nil
}

func cmdPasswd(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "passwd")
	current := fs.String("current", "", "Current password (default $ERP_PASSWORD, else prompted)")
	password := fs.String("password", "", "New password (default $ERP_NEW_PASSWORD, else prompted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cur, err := a.secret(*current, "ERP_PASSWORD", "Current password")
	if err != nil {
		return err
	}
	newPassword, confirm, err := a.newPassword(*password)
	if err != nil {
		return err
	}
	if err := a.auth.ChangePassword(a.commandContext(ctx), cur, newPassword, confirm); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "Password changed")
	return nil
}

// newPassword returns the new password and its confirmation. A value given
// by flag or environment confirms itself.
func (a *app) newPassword(flagValue string) (string, string, error) {
	if flagValue != "" {
		return flagValue, flagValue, nil
	}
	if v := os.Getenv("ERP_NEW_PASSWORD"); v != "" {
		return v, v, nil
	}
	p, err := a.prompt("New password")
	if err != nil {
		return "", "", err
	}
	c, err := a.prompt("Confirm new password")
	if err != nil {
		return "", "", err
	}
	return p, c, nil
}

func cmdMFA(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageErr("mfa requires one of: setup, activate, disable, status")
	}
	sub, args := args[0], args[1:]
	fs := newFlags(a, "mfa "+sub)
	code := fs.String("code", "", "Six-digit authentication code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx = a.commandContext(ctx)

	switch sub {
	case "setup":
		enrollment, err := a.auth.SetupMFA(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Secret: %s\nURI:    %s\n\nRecovery codes (store them safely):\n", enrollment.Secret, enrollment.OTPAuthURI)
		for _, rc := range enrollment.RecoveryCodes {
			fmt.Fprintf(a.stdout, "  %s\n", rc)
		}
		fmt.Fprintln(a.stdout, "\nFinish with 'erpctl mfa activate -code <code>'.")
		return nil
	case "activate":
		if err := a.auth.ActivateMFA(ctx, *code); err != nil {
			if errors.Is(err, auth.ErrNoEnrollment) {
				return usageErr("no setup in progress, run 'erpctl mfa setup' first")
			}
			return err
		}
		fmt.Fprintln(a.stdout, "Multi-factor authentication enabled")
		return nil
	case "disable":
		if err := a.auth.DisableMFA(ctx, *code); err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, "Multi-factor authentication disabled")
		return nil
	case "status":
		pending, err := a.auth.PendingEnrollment(ctx)
		if err != nil {
			return err
		}
		if pending == nil {
			fmt.Fprintln(a.stdout, "No enrollment pending")
			return nil
		}
		fmt.Fprintf(a.stdout, "Enrollment pending since %s\n", pending.CreatedAt.Local().Format(time.RFC1123))
		return nil
	default:
		return usageErr("unknown mfa command %q", sub)
	}
}

// queryFlag collects repeated -q key=value pairs
type queryFlag url.Values

func (q queryFlag) String() string { return url.Values(q).Encode() }

func (q queryFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	url.Values(q).Add(key, value)
	return nil
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "get")
	query := queryFlag{}
	raw := fs.Bool("raw", false, "Print the body without unwrapping the envelope")
	fs.Var(query, "q", "Query parameter key=value (repeatable)")
	if err := fs.Parse(reorder(args)); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageErr("get requires exactly one path")
	}
	resp, err := a.client.Get(a.commandContext(ctx), fs.Arg(0), url.Values(query))
	if err != nil {
		return err
	}
	return a.printBody(resp.Body, *raw)
}

func cmdPost(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "post")
	raw := fs.Bool("raw", false, "Print the body without unwrapping the envelope")
	key := fs.String("idempotency-key", "", "Reuse this Idempotency-Key instead of generating one")
	if err := fs.Parse(reorder(args)); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return usageErr("post requires a path and an optional JSON body ('-' reads stdin)")
	}

	var body any
	if fs.NArg() == 2 {
		data := []byte(fs.Arg(1))
		if fs.Arg(1) == "-" {
			var err error
			if data, err = io.ReadAll(a.stdin); err != nil {
				return fmt.Errorf("reading body: %w", err)
			}
		}
		if !json.Valid(data) {
			return usageErr("body is not valid JSON")
		}
		body = json.RawMessage(data)
	}

	resp, err := a.client.Do(a.commandContext(ctx), client.Request{
		Method:         http.MethodPost,
		Path:           fs.Arg(0),
		Body:           body,
		IdempotencyKey: *key,
	})
	if err != nil {
		return err
	}
	return a.printBody(resp.Body, *raw)
}

// reorder moves flags ahead of positional arguments so "get /path -q a=b"
// parses like "get -q a=b /path"
func reorder(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "-" || !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		if !strings.Contains(arg, "=") && arg != "-raw" && arg != "--raw" && i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return append(flags, positional...)
}

func (a *app) printBody(body []byte, raw bool) error {
	data := json.RawMessage(body)
	if !raw {
		unwrapped, err := client.Unwrap(body)
		if err != nil {
			return err
		}
		data = unwrapped
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = a.stdout.Write(append(data, '\n'))
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(a.stdout)
	return err
}

func cmdDealers(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "dealers")
	var params portal.ListParams
	fs.IntVar(&params.Page, "page", 1, "Page number")
	fs.IntVar(&params.PageSize, "size", 20, "Page size")
	fs.StringVar(&params.Search, "search", "", "Filter by code or name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	page, err := a.portal.ListDealers(a.commandContext(ctx), params)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "CODE\tNAME\tBALANCE\tCREDIT LIMIT\t")
	for _, d := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", d.Code, d.Name, d.Balance.StringFixed(2), d.CreditLimit.StringFixed(2))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Page %d of %d (%d dealers)\n", page.Meta.Page, page.Meta.TotalPages, page.Meta.Total)
	return nil
}
