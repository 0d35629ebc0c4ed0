package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rdmontgomery/exa/internal/cli/output"
	"github.com/rdmontgomery/exa/internal/secret"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// EncryptOptions holds options for the encrypt command.
type EncryptOptions struct {
	Recipients []string
}

// NewEncryptCommand creates the encrypt command.
func NewEncryptCommand() *cobra.Command {
	opts := &EncryptOptions{}
	cmd := &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a value for use as a secure variable",
		Long: `Seal a value so it can be committed in the pipeline file.

The ciphertext goes under a variable's secure key and is decrypted
with the identity file when a job starts. With no argument the value
is read from stdin, which keeps it out of shell history.

Recipients default to the keys in the configured identity file; pass
--recipient to seal to other keys.`,
		Example: `  # Encrypt for the configured identity
  exa encrypt "hunter2"

  # Read the value from stdin
  printf '%s' "$API_TOKEN" | exa encrypt

  # Seal to an explicit recipient
  exa encrypt "hunter2" --recipient age1ql3z7hjy54pw3hyww5ayyfg7zqgvc7w3j2elw8zmrj2kg5sfn9aqmcac8p`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncrypt(cmd, opts, args)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Recipients, "recipient", nil, "Age recipient public key (repeatable)")

	return cmd
}

func runEncrypt(cmd *cobra.Command, opts *EncryptOptions, args []string) error {
	cmdCtx := NewCommandContextWithoutEngine(cmd)
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	recipients := opts.Recipients
	if len(recipients) == 0 {
		if cfg.SecretIdentity == "" {
			return fmt.Errorf("no recipients: pass --recipient or configure secret_identity")
		}
		derived, err := secret.RecipientsFromIdentityFile(cfg.SecretIdentity)
		if err != nil {
			return err
		}
		recipients = derived
	}

	var value string
	if len(args) > 0 {
		value = args[0]
	} else {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Reading value from stdin (ctrl-d to end)...")
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading value from stdin: %w", err)
		}
		value = strings.TrimRight(string(data), "\r\n")
	}
	if value == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	ciphertext, err := secret.Encrypt(value, recipients)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(struct {
			Secure string `json:"secure"`
		}{ciphertext})
	}

	r.Println(ciphertext)
	r.Println("")
	r.Println(r.Styles().Muted.Render("Use it in your pipeline as:"))
	r.Println(r.Styles().Muted.Render("  MY_SECRET:"))
	r.Println(r.Styles().Muted.Render("    secure: " + ciphertext))
	return nil
}
