package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-training/login-consent/pkg/credential"
	"github.com/go-training/login-consent/pkg/pkce"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

func newProofKeyCmd() *cobra.Command {
	var (
		length          int
		challengeBase64 string
	)
	cmd := &cobra.Command{
		Use:   "proofkey",
		Short: "Print a PKCE code verifier and its S256 challenge",
		Long: `Print a PKCE code verifier and its S256 challenge as JSON, for driving the
authorization code flow by hand. With --challenge-base64 a challenge given in
standard base64 is converted to base64url instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if challengeBase64 != "" {
				_, err := fmt.Fprintln(out, pkce.Base64ToBase64URL(challengeBase64))
				return err
			}

			key, err := pkce.NewProofKey(length)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(key)
		},
	}
	cmd.Flags().IntVar(&length, "length", 0,
		fmt.Sprintf("Verifier length (%d-%d); 0 uses the default", pkce.MinVerifierLength, pkce.MaxVerifierLength))
	cmd.Flags().StringVar(&challengeBase64, "challenge-base64", "", "Convert a standard base64 challenge to base64url")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for a user DB password_hash entry",
		Long: `Print a bcrypt hash for a user DB password_hash entry. The password is read
from the first line of stdin when not given as an argument.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				var err error
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if password == "" {
				return errors.New("password is empty")
			}

			hash, err := credential.HashPassword(password, cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
