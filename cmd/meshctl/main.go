// ABOUTME: Operator CLI for toolmesh identities, invites, and the service registry.
// ABOUTME: Capability payloads are printed and accepted in b64:/@file/literal forms.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/tonklabs/toolmesh/internal/capability"
	"github.com/tonklabs/toolmesh/internal/identity"
	"github.com/tonklabs/toolmesh/internal/registry"
	"github.com/tonklabs/toolmesh/internal/store"
)

// defaultInviteTTL applies when an invite command names no --ttl.
const defaultInviteTTL = 24 * time.Hour

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "keygen":
		err = cmdKeygen()
	case "invite":
		err = cmdInvite(args)
	case "verify-invite":
		err = cmdVerifyInvite(args)
	case "welcome":
		err = cmdWelcome(args)
	case "services":
		err = cmdServices()
	case "reconcile":
		err = cmdReconcile()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: meshctl <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  keygen                               Generate an identity keyfile")
	fmt.Println("  invite <channel> <pubkey> [--ttl D]  Issue a signed channel invite")
	fmt.Println("  verify-invite <channel> <invite>     Verify an invite (b64:, @file, or literal)")
	fmt.Println("  welcome <channel> <text>             Sign a channel welcome message")
	fmt.Println("  services                             List active services in the local store")
	fmt.Println("  reconcile                            Rebuild registry indices from records")
}

func loadIdentity(profile *Profile) (*identity.Identity, error) {
	id, err := identity.Load(profile.Keyfile)
	if err != nil {
		return nil, fmt.Errorf("loading identity (run 'meshctl keygen' first): %w", err)
	}
	return id, nil
}

func cmdKeygen() error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}

	if _, err := os.Stat(profile.Keyfile); err == nil {
		return fmt.Errorf("keyfile %s already exists", profile.Keyfile)
	}

	id, err := identity.Generate()
	if err != nil {
		return err
	}
	if err := id.Save(profile.Keyfile); err != nil {
		return err
	}

	color.Green("✓ Identity written to %s", profile.Keyfile)
	fmt.Printf("  pubkey:  %s\n", id.PublicKeyHex())
	fmt.Printf("  address: %s\n", id.Address())
	return nil
}

// resolveInviteeKey accepts either a hex ed25519 key or an ssh-ed25519
// authorized_keys line.
func resolveInviteeKey(arg string) (string, error) {
	if strings.HasPrefix(arg, "ssh-ed25519 ") {
		return identity.ParseAuthorizedKey(arg)
	}
	if _, err := identity.ParsePublicKeyHex(arg); err != nil {
		return "", err
	}
	return strings.TrimSpace(arg), nil
}

func cmdInvite(args []string) error {
	var positional []string
	ttl := defaultInviteTTL
	for i := 0; i < len(args); i++ {
		if args[i] == "--ttl" {
			if i+1 >= len(args) {
				return errors.New("--ttl requires a duration value")
			}
			parsed, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
			i++
			continue
		}
		positional = append(positional, args[i])
	}
	if len(positional) != 2 {
		return errors.New("usage: meshctl invite <channel> <pubkey> [--ttl D]")
	}
	channel, inviteeArg := positional[0], positional[1]

	profile, err := loadProfile()
	if err != nil {
		return err
	}
	id, err := loadIdentity(profile)
	if err != nil {
		return err
	}
	inviteeKey, err := resolveInviteeKey(inviteeArg)
	if err != nil {
		return err
	}

	keeper := capability.NewKeeper(newCLILogger())
	invite, err := keeper.IssueInvite(channel, inviteeKey, ttl, id)
	if err != nil {
		return err
	}

	arg, err := capability.EncodeB64(invite)
	if err != nil {
		return err
	}

	color.Green("✓ Invite issued for %s on %q", inviteeKey[:16]+"…", channel)
	fmt.Printf("  expires: %s\n", time.UnixMilli(invite.Payload.ExpiresAt).Format(time.RFC3339))
	fmt.Println()
	fmt.Println(arg)
	return nil
}

func cmdVerifyInvite(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: meshctl verify-invite <channel> <invite>")
	}
	channel, inviteArg := args[0], args[1]

	invite, err := capability.ParseInviteArg(inviteArg)
	if err != nil {
		return err
	}

	keeper := capability.NewKeeper(newCLILogger())
	if err := keeper.VerifyInvite(invite, channel); err != nil {
		return err
	}

	color.Green("✓ Invite is valid for channel %q", channel)
	fmt.Printf("  invitee: %s\n", invite.Payload.InviteePubKey)
	fmt.Printf("  inviter: %s\n", invite.Payload.InviterPubKey)
	fmt.Printf("  expires: %s\n", time.UnixMilli(invite.Payload.ExpiresAt).Format(time.RFC3339))
	if invite.Welcome != nil {
		fmt.Printf("  welcome: %s\n", invite.Welcome.Payload.Text)
	}
	return nil
}

func cmdWelcome(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: meshctl welcome <channel> <text>")
	}
	channel, text := args[0], args[1]

	profile, err := loadProfile()
	if err != nil {
		return err
	}
	id, err := loadIdentity(profile)
	if err != nil {
		return err
	}

	keeper := capability.NewKeeper(newCLILogger())
	welcome, err := keeper.IssueWelcome(channel, text, id)
	if err != nil {
		return err
	}

	arg, err := capability.EncodeB64(welcome)
	if err != nil {
		return err
	}

	color.Green("✓ Welcome signed for %q", channel)
	fmt.Println()
	fmt.Println(arg)
	return nil
}

func openRegistry(profile *Profile) (*registry.Registry, func() error, error) {
	s, err := store.NewSQLiteStore(profile.StorePath)
	if err != nil {
		return nil, nil, err
	}
	return registry.New(s, newCLILogger()), s.Close, nil
}

func cmdServices() error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	reg, closeStore, err := openRegistry(profile)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := reg.List(context.Background())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No active services.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tMETHOD\tPRICE (TNK)\tCATEGORY\tPROVIDER")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.ServiceID, rec.Method, rec.PriceInTNK, rec.Category, shorten(rec.ProviderAddress))
	}
	return w.Flush()
}

func cmdReconcile() error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	reg, closeStore, err := openRegistry(profile)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := reg.Reconcile(context.Background()); err != nil {
		return err
	}
	color.Green("✓ Indices rebuilt from service records")
	return nil
}

func shorten(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "…"
}
